package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omni/alias-relay/logging"
)

var ConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "relayer",
	Subsystem: "nats",
	Name:      "connected",
	Help:      "Shows 1 while the status publisher is connected to NATS.",
})

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher publishes every transition to "<subject>.<status>".
func NewNATSPublisher(logger logging.Logger, url, subject string) (Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("alias-relay"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("disconnected from nats")
			ConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("reconnected to nats")
			ConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("can't connect to nats: %w", err)
	}
	ConnectionStatus.Set(1)
	return &natsPublisher{
		conn:    conn,
		subject: subject,
	}, nil
}

func (p *natsPublisher) Publish(_ context.Context, t *Transition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("can't marshal transition: %w", err)
	}
	if err = p.conn.Publish(p.subject+"."+string(t.To), data); err != nil {
		return fmt.Errorf("can't publish transition: %w", err)
	}
	return nil
}

func (p *natsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	ConnectionStatus.Set(0)
}
