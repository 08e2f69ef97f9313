package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/utils"
)

// runLoop calls tick every interval until ctx is cancelled. A failing or panicking tick
// is logged and does not stop the loop.
func runLoop(ctx context.Context, logger logging.Logger, worker string, interval time.Duration, tick func(ctx context.Context) error) {
	logger.WithField("interval", interval).Info("starting worker loop")
	for {
		runTick(ctx, logger, worker, tick)

		if utils.ContextSleep(ctx, interval) == nil {
			logger.Info("worker loop stopped")
			return
		}
	}
}

func runTick(ctx context.Context, logger logging.Logger, worker string, tick func(ctx context.Context) error) {
	defer ObserveTick(worker)()
	defer func() {
		if r := recover(); r != nil {
			TickResults.WithLabelValues(worker, "panic").Inc()
			logger.WithError(fmt.Errorf("panic: %v", r)).Error("recovered worker tick")
		}
	}()

	if err := tick(ctx); err != nil {
		TickResults.WithLabelValues(worker, "error").Inc()
		logger.WithError(err).Error("worker tick failed")
		return
	}
	TickResults.WithLabelValues(worker, "ok").Inc()
}
