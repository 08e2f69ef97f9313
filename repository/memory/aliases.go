package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

type AliasesRepo struct {
	store *Storage
}

func NewAliasesRepo(store *Storage) *AliasesRepo {
	return &AliasesRepo{store: store}
}

func (r *AliasesRepo) Ensure(_ context.Context, alias *entity.Alias) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now()
	if existing, ok := r.store.aliases[alias.AliasKey]; ok {
		existing.RecipientAddress = alias.RecipientAddress
		existing.UpdatedAt = timePtr(now)
		r.store.aliases[alias.AliasKey] = existing
		return nil
	}
	stored := *alias
	stored.CreatedAt = timePtr(now)
	stored.UpdatedAt = timePtr(now)
	r.store.aliases[alias.AliasKey] = stored
	return nil
}

func (r *AliasesRepo) GetByKey(_ context.Context, key common.Hash) (*entity.Alias, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	alias, ok := r.store.aliases[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &alias, nil
}

func (r *AliasesRepo) FindByIdentity(_ context.Context, identity string) ([]*entity.Alias, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res := make([]*entity.Alias, 0, 2)
	for _, alias := range r.store.aliases {
		if alias.NormalizedIdentity == identity {
			alias := alias
			res = append(res, &alias)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Suffix < res[j].Suffix
	})
	return res, nil
}
