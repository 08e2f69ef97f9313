package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/events"
)

func TestNewTransition(t *testing.T) {
	t.Parallel()

	trackingID := uuid.MustParse("5f0c6d1e-8f0e-4c35-9d4b-5a9cb8a4e0a1")
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := events.NewTransition(&entity.DepositEvent{
		ID:         7,
		TrackingID: trackingID,
		Amount:     "1000",
		Status:     entity.StatusStuck,
		Attempts:   5,
		Stuck:      true,
		Error:      "execution reverted",
	}, entity.StatusOriginFailed, at)

	raw, err := json.Marshal(tr)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"eventId": 7,
		"trackingId": "5f0c6d1e-8f0e-4c35-9d4b-5a9cb8a4e0a1",
		"from": "l1_failed",
		"to": "stuck",
		"amount": "1000",
		"attempts": 5,
		"stuck": true,
		"error": "execution reverted",
		"at": "2024-01-02T03:04:05Z"
	}`, string(raw))

	p := events.NewNopPublisher()
	require.NoError(t, p.Publish(context.Background(), tr))
	p.Close()
}
