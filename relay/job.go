package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/logging"
)

// StatusJob periodically exports the number of uncredited events per status, stuck events included.
type StatusJob struct {
	logger   logging.Logger
	Metric   *prometheus.GaugeVec
	Interval time.Duration
	Timeout  time.Duration
	Func     func(ctx context.Context) ([]*entity.StatusCount, error)
}

func NewStatusJob(logger logging.Logger, counts func(ctx context.Context) ([]*entity.StatusCount, error)) *StatusJob {
	return &StatusJob{
		logger:   logger.WithField("worker", "status_job"),
		Metric:   EventsByStatus,
		Interval: time.Minute,
		Timeout:  10 * time.Second,
		Func:     counts,
	}
}

func (j *StatusJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	for {
		j.run(ctx)

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			ticker.Stop()
			return
		}
	}
}

func (j *StatusJob) run(ctx context.Context) {
	timeoutCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()
	start := time.Now()
	counts, err := j.Func(timeoutCtx)
	if err != nil {
		j.logger.WithError(err).Error("failed to count deposit events")
		return
	}
	j.Metric.Reset()
	var stuck uint
	for _, c := range counts {
		j.Metric.WithLabelValues(string(c.Status), strconv.FormatBool(c.Stuck)).Set(float64(c.Count))
		if c.Stuck {
			stuck += c.Count
		}
	}
	logger := j.logger.WithFields(logrus.Fields{
		"stuck":    stuck,
		"duration": time.Since(start),
	})
	if stuck > 0 {
		logger.Warn("found stuck deposit events")
	} else {
		logger.Debug("no stuck deposit events")
	}
}
