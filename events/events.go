// Package events publishes deposit event status transitions to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/omni/alias-relay/entity"
)

type Transition struct {
	EventID    int64         `json:"eventId"`
	TrackingID uuid.UUID     `json:"trackingId"`
	From       entity.Status `json:"from"`
	To         entity.Status `json:"to"`
	Amount     string        `json:"amount"`
	Attempts   uint          `json:"attempts"`
	Stuck      bool          `json:"stuck"`
	Error      string        `json:"error,omitempty"`
	Reconciled bool          `json:"reconciled,omitempty"`
	At         time.Time     `json:"at"`
}

func NewTransition(event *entity.DepositEvent, from entity.Status, at time.Time) *Transition {
	return &Transition{
		EventID:    event.ID,
		TrackingID: event.TrackingID,
		From:       from,
		To:         event.Status,
		Amount:     event.Amount,
		Attempts:   event.Attempts,
		Stuck:      event.Stuck,
		Error:      event.Error,
		Reconciled: event.Reconciled,
		At:         at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, t *Transition) error
	Close()
}

type nopPublisher struct{}

func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, *Transition) error {
	return nil
}

func (nopPublisher) Close() {}
