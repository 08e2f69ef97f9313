package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/events"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/repository"
	"github.com/omni/alias-relay/retry"
	"github.com/omni/alias-relay/workflow"
)

var (
	side      = flag.String("side", "", "origin or destination, both sides when empty")
	olderThan = flag.Duration("olderThan", 0, "only clear locks taken before now-olderThan, lock_ttl when zero")
)

func main() {
	flag.Parse()

	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	sides := []entity.Side{entity.SideOrigin, entity.SideDestination}
	switch entity.Side(*side) {
	case "":
	case entity.SideOrigin, entity.SideDestination:
		sides = []entity.Side{entity.Side(*side)}
	default:
		logger.WithField("side", *side).Fatal("side should be either origin or destination")
	}
	if *olderThan == 0 {
		*olderThan = cfg.LockTTL
	}
	if cfg.Storage != config.StoragePostgres {
		logger.Fatal("inflight locks can only be cleared in postgres storage")
	}

	dbConn, err := db.ConnectToDBAndMigrate(cfg.DBConfig)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to database and apply migrations")
	}
	defer dbConn.Close()

	// the deriver is never consulted when only releasing locks
	store := workflow.NewStore(logger, repository.NewRepo(dbConn), nil, retry.NewPolicy(cfg.Retry), events.NewNopPublisher(), cfg.LockTTL)
	for _, s := range sides {
		n, err2 := store.ReleaseStale(context.Background(), s, *olderThan)
		if err2 != nil {
			logger.WithError(err2).WithField("side", s).Fatal("can't release inflight locks")
		}
		logger.WithFields(logrus.Fields{
			"side":       s,
			"older_than": *olderThan,
			"released":   n,
		}).Info("released inflight locks")
	}
}
