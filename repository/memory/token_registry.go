package memory

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

type TokenRegistryRepo struct {
	store *Storage
}

func NewTokenRegistryRepo(store *Storage) *TokenRegistryRepo {
	return &TokenRegistryRepo{store: store}
}

func (r *TokenRegistryRepo) Ensure(_ context.Context, entry *entity.TokenRegistryEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.registry[entry.OriginTokenAddress]; ok {
		return nil
	}
	stored := *entry
	stored.CreatedAt = timePtr(time.Now())
	r.store.registry[entry.OriginTokenAddress] = stored
	return nil
}

func (r *TokenRegistryRepo) GetByOriginToken(_ context.Context, token common.Address) (*entity.TokenRegistryEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry, ok := r.store.registry[token]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &entry, nil
}
