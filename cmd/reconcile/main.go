package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/google/uuid"

	"github.com/omni/alias-relay/app"
	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/relay"
)

var trackingID = flag.String("trackingId", "", "reconcile a single deposit request instead of all active ones")

func main() {
	flag.Parse()

	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	var id uuid.UUID
	if *trackingID != "" {
		if id, err = uuid.Parse(*trackingID); err != nil {
			logger.WithError(err).Fatal("invalid trackingId")
		}
	}

	c, err := app.NewContainer(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("can't initialize relayer components")
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	workerLogger := logger.WithField("service", "reconcile")
	worker := relay.NewDestinationWorker(workerLogger, cfg.Destination, c.Store, c.Ledgers.Destination, c.Ledgers.Tokens, c.Ledgers.Credentials)
	reconciler := relay.NewReconciler(workerLogger, worker, cfg.Destination.ReconcileInterval)

	if *trackingID != "" {
		if err = reconciler.ReconcileRequest(ctx, id); err != nil {
			logger.WithError(err).WithField("tracking_id", id).Fatal("can't reconcile deposit request")
		}
		logger.WithField("tracking_id", id).Info("reconciled deposit request")
		return
	}
	if err = reconciler.ReconcileAll(ctx); err != nil {
		logger.WithError(err).Fatal("can't reconcile active deposit requests")
	}
	logger.Info("reconciled active deposit requests")
}
