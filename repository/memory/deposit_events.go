package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

type DepositEventsRepo struct {
	store *Storage
}

func NewDepositEventsRepo(store *Storage) *DepositEventsRepo {
	return &DepositEventsRepo{store: store}
}

func (r *DepositEventsRepo) Create(_ context.Context, event *entity.DepositEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.insert(event)
}

func (r *DepositEventsRepo) insert(event *entity.DepositEvent) error {
	if isOriginStatus(event.ResumeStatus) {
		for _, existing := range r.store.events {
			if existing.TrackingID == event.TrackingID && isOriginStatus(existing.ResumeStatus) {
				return fmt.Errorf("request %s already has an open origin event: %w", event.TrackingID, db.ErrConflict)
			}
		}
	}
	r.store.lastID++
	event.ID = r.store.lastID
	event.CreatedAt = timePtr(time.Now())
	r.store.events[event.ID] = *event
	return nil
}

func (r *DepositEventsRepo) GetByID(_ context.Context, id int64) (*entity.DepositEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	event, ok := r.store.events[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &event, nil
}

func (r *DepositEventsRepo) FindByTrackingID(_ context.Context, id uuid.UUID) ([]*entity.DepositEvent, error) {
	return r.filter(func(e *entity.DepositEvent) bool {
		return e.TrackingID == id
	}, 0), nil
}

func (r *DepositEventsRepo) FindOpenOrigin(_ context.Context, id uuid.UUID) (*entity.DepositEvent, error) {
	res := r.filter(func(e *entity.DepositEvent) bool {
		return e.TrackingID == id && isOriginStatus(e.ResumeStatus)
	}, 1)
	if len(res) == 0 {
		return nil, db.ErrNotFound
	}
	return res[0], nil
}

func (r *DepositEventsRepo) FindAwaitingDestination(_ context.Context, id uuid.UUID) ([]*entity.DepositEvent, error) {
	return r.filter(func(e *entity.DepositEvent) bool {
		return e.TrackingID == id && isDestinationStatus(e.ResumeStatus)
	}, 0), nil
}

func (r *DepositEventsRepo) FindDueDestination(_ context.Context, now time.Time, limit uint64) ([]*entity.DepositEvent, error) {
	return r.filter(func(e *entity.DepositEvent) bool {
		return isDestinationStatus(e.ResumeStatus) && e.Due(now)
	}, limit), nil
}

func (r *DepositEventsRepo) filter(pred func(e *entity.DepositEvent) bool, limit uint64) []*entity.DepositEvent {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res := make([]*entity.DepositEvent, 0, 4)
	for _, event := range r.store.events {
		event := event
		if pred(&event) {
			res = append(res, &event)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return truncate(res, limit)
}

func (r *DepositEventsRepo) Update(_ context.Context, event *entity.DepositEvent, prev entity.Status) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.events[event.ID]
	if !ok {
		return db.ErrNotFound
	}
	if stored.Status != prev {
		return fmt.Errorf("deposit event %d is no longer in status %s: %w", event.ID, prev, db.ErrConflict)
	}
	updated := *event
	updated.TrackingID = stored.TrackingID
	updated.Kind = stored.Kind
	updated.TokenAddress = stored.TokenAddress
	updated.Amount = stored.Amount
	updated.Reconciled = stored.Reconciled
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = timePtr(time.Now())
	r.store.events[event.ID] = updated
	return nil
}

func (r *DepositEventsRepo) Credit(_ context.Context, ids []int64, sweepTxHash *common.Hash, surplus *entity.DepositEvent, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, id := range ids {
		event, ok := r.store.events[id]
		if !ok || event.Status == entity.StatusCredited {
			return fmt.Errorf("deposit event %d can't be credited: %w", id, db.ErrConflict)
		}
	}
	for _, id := range ids {
		event := r.store.events[id]
		event.Status = entity.StatusCredited
		event.ResumeStatus = entity.StatusCredited
		event.DestinationSweepTxHash = sweepTxHash
		event.Stuck = false
		event.NextAttemptAt = nil
		event.LastErrorAt = nil
		event.Error = ""
		event.CreditedAt = timePtr(now)
		event.UpdatedAt = timePtr(now)
		r.store.events[id] = event
	}
	if surplus != nil {
		return r.insert(surplus)
	}
	return nil
}

func (r *DepositEventsRepo) CountByStatus(_ context.Context) ([]*entity.StatusCount, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	type key struct {
		status entity.Status
		stuck  bool
	}
	counts := make(map[key]uint)
	for _, event := range r.store.events {
		if event.Status != entity.StatusCredited {
			counts[key{event.Status, event.Stuck}]++
		}
	}
	res := make([]*entity.StatusCount, 0, len(counts))
	for k, n := range counts {
		res = append(res, &entity.StatusCount{Status: k.status, Stuck: k.stuck, Count: n})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Status < res[j].Status
	})
	return res, nil
}

func isOriginStatus(s entity.Status) bool {
	return s == entity.StatusDetected || s == entity.StatusOriginForwarderDeployed
}

func isDestinationStatus(s entity.Status) bool {
	return s == entity.StatusOriginSwept || s == entity.StatusDestinationArrived || s == entity.StatusDestinationVaultDeployed
}
