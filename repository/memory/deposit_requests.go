package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

type DepositRequestsRepo struct {
	store *Storage
}

func NewDepositRequestsRepo(store *Storage) *DepositRequestsRepo {
	return &DepositRequestsRepo{store: store}
}

func (r *DepositRequestsRepo) Create(_ context.Context, req *entity.DepositRequest) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.requests {
		if existing.IsActive && existing.AliasKey == req.AliasKey && existing.RecipientAddress == req.RecipientAddress {
			return false, nil
		}
	}
	now := time.Now()
	stored := *req
	stored.IsActive = true
	stored.CreatedAt = timePtr(now)
	stored.LastActivityAt = timePtr(now)
	r.store.requests[req.TrackingID] = stored
	return true, nil
}

func (r *DepositRequestsRepo) GetByTrackingID(_ context.Context, id uuid.UUID) (*entity.DepositRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &req, nil
}

func (r *DepositRequestsRepo) FindActiveByAliasAndRecipient(_ context.Context, aliasKey common.Hash, recipient common.Address) (*entity.DepositRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, req := range r.store.requests {
		if req.IsActive && req.AliasKey == aliasKey && req.RecipientAddress == recipient {
			return &req, nil
		}
	}
	return nil, db.ErrNotFound
}

func (r *DepositRequestsRepo) FindByAliasKey(_ context.Context, aliasKey common.Hash, limit uint64) ([]*entity.DepositRequest, error) {
	res := r.filter(func(req *entity.DepositRequest) bool {
		return req.AliasKey == aliasKey
	})
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(*res[j].CreatedAt)
	})
	return truncate(res, limit), nil
}

func (r *DepositRequestsRepo) FindActive(_ context.Context, limit uint64) ([]*entity.DepositRequest, error) {
	res := r.filter(func(req *entity.DepositRequest) bool {
		return req.IsActive
	})
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].LastActivityAt.Before(*res[j].LastActivityAt)
	})
	return truncate(res, limit), nil
}

func (r *DepositRequestsRepo) filter(pred func(req *entity.DepositRequest) bool) []*entity.DepositRequest {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res := make([]*entity.DepositRequest, 0, len(r.store.requests))
	for _, req := range r.store.requests {
		req := req
		if pred(&req) {
			res = append(res, &req)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].TrackingID.String() < res[j].TrackingID.String()
	})
	return res
}

func truncate[T any](items []T, limit uint64) []T {
	if limit > 0 && uint64(len(items)) > limit {
		return items[:limit]
	}
	return items
}

func (r *DepositRequestsRepo) TryAcquire(_ context.Context, id uuid.UUID, side entity.Side, now, staleBefore time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok {
		return false, nil
	}
	inflight, lockedAt := lockFields(&req, side)
	if *inflight && (*lockedAt == nil || !(*lockedAt).Before(staleBefore)) {
		return false, nil
	}
	*inflight = true
	*lockedAt = timePtr(now)
	r.store.requests[id] = req
	return true, nil
}

func (r *DepositRequestsRepo) Release(_ context.Context, id uuid.UUID, side entity.Side) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok {
		return nil
	}
	inflight, lockedAt := lockFields(&req, side)
	*inflight = false
	*lockedAt = nil
	r.store.requests[id] = req
	return nil
}

func (r *DepositRequestsRepo) ReleaseStale(_ context.Context, side entity.Side, staleBefore time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, req := range r.store.requests {
		inflight, lockedAt := lockFields(&req, side)
		if *inflight && *lockedAt != nil && (*lockedAt).Before(staleBefore) {
			*inflight = false
			*lockedAt = nil
			r.store.requests[id] = req
			n++
		}
	}
	return n, nil
}

func (r *DepositRequestsRepo) Touch(_ context.Context, id uuid.UUID, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok {
		return db.ErrNotFound
	}
	req.LastActivityAt = timePtr(now)
	r.store.requests[id] = req
	return nil
}

func lockFields(req *entity.DepositRequest, side entity.Side) (*bool, **time.Time) {
	if side == entity.SideOrigin {
		return &req.OriginInflight, &req.OriginLockedAt
	}
	return &req.DestinationInflight, &req.DestinationLockedAt
}
