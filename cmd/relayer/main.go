package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omni/alias-relay/app"
	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/presenter"
	"github.com/omni/alias-relay/relay"
)

func main() {
	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	c, err := app.NewContainer(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("can't initialize relayer components")
	}
	defer c.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(cfg.MetricsHost, mux)
		if err != nil {
			logger.WithError(err).Fatal("can't start listener for prometheus metrics")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Resolver != nil {
		pr := presenter.NewPresenter(logger.WithField("service", "presenter"), cfg, c.Repo.Aliases, c.Store, c.Verifier())
		go func() {
			err := pr.Serve(ctx, cfg.Resolver.Host)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Fatal("can't serve resolver api")
			}
		}()
	}

	r := relay.NewRelayer(logger.WithField("service", "relayer"), cfg, c.Store, c.Ledgers)
	r.Start(ctx)

	<-ctx.Done()
	logger.Warn("caught signal, gracefully terminating")
	r.Wait()
}
