// Package registry resolves the canonical bridge asset id of allow-listed origin tokens.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/retry"
)

var (
	ErrUnknownToken      = errors.New("token is not allow-listed")
	ErrUnregisteredToken = errors.New("token has no canonical asset id")
)

type AssetIDSource interface {
	AssetID(ctx context.Context, token common.Address) (common.Hash, error)
}

type TokenRegistrar interface {
	RegisterToken(ctx context.Context, token common.Address) (common.Hash, error)
}

type Registry struct {
	logger    logging.Logger
	tokens    map[common.Address]*config.TokenConfig
	ordered   []*config.TokenConfig
	repo      entity.TokenRegistryRepo
	source    AssetIDSource
	registrar TokenRegistrar

	mu    sync.Mutex
	cache map[common.Address]common.Hash
}

// NewRegistry builds the registry over the allow-list. registrar may be nil, in which case
// tokens unknown to the native token vault are never registered.
func NewRegistry(logger logging.Logger, tokens []*config.TokenConfig, repo entity.TokenRegistryRepo, source AssetIDSource, registrar TokenRegistrar) *Registry {
	r := &Registry{
		logger:    logger,
		tokens:    make(map[common.Address]*config.TokenConfig, len(tokens)),
		ordered:   tokens,
		repo:      repo,
		source:    source,
		registrar: registrar,
		cache:     make(map[common.Address]common.Hash, len(tokens)),
	}
	for _, token := range tokens {
		r.tokens[token.OriginAddress] = token
		if token.AssetID != nil {
			r.cache[token.OriginAddress] = *token.AssetID
		}
	}
	return r
}

// Tokens returns the allow-list in configuration order.
func (r *Registry) Tokens() []*config.TokenConfig {
	return r.ordered
}

func (r *Registry) Lookup(origin common.Address) (*config.TokenConfig, bool) {
	token, ok := r.tokens[origin]
	return token, ok
}

// DestinationToken maps an origin asset to its destination counterpart, nil stands for the native coin.
func (r *Registry) DestinationToken(origin *common.Address) (*common.Address, error) {
	if origin == nil {
		return nil, nil
	}
	token, ok := r.tokens[*origin]
	if !ok {
		return nil, retry.Terminal(fmt.Errorf("token %s: %w", origin, ErrUnknownToken))
	}
	addr := token.DestinationAddress
	return &addr, nil
}

// AssetID returns the canonical asset id, consulting in order the memo, the store and the
// native token vault. A fresh id is persisted, entries are never invalidated.
func (r *Registry) AssetID(ctx context.Context, token common.Address) (common.Hash, error) {
	if _, ok := r.tokens[token]; !ok {
		return common.Hash{}, retry.Terminal(fmt.Errorf("token %s: %w", token, ErrUnknownToken))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.cache[token]; ok {
		return id, nil
	}

	entry, err := r.repo.GetByOriginToken(ctx, token)
	if err == nil {
		r.cache[token] = entry.AssetID
		return entry.AssetID, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return common.Hash{}, fmt.Errorf("can't get token registry entry: %w", err)
	}

	id, err := r.resolve(ctx, token)
	if err != nil {
		return common.Hash{}, err
	}
	if err = r.repo.Ensure(ctx, &entity.TokenRegistryEntry{OriginTokenAddress: token, AssetID: id}); err != nil {
		return common.Hash{}, fmt.Errorf("can't save token registry entry: %w", err)
	}
	r.cache[token] = id
	r.logger.WithFields(logrus.Fields{
		"token":    token,
		"asset_id": id,
	}).Info("resolved canonical asset id")
	return id, nil
}

func (r *Registry) resolve(ctx context.Context, token common.Address) (common.Hash, error) {
	id, err := r.source.AssetID(ctx, token)
	if err != nil {
		return common.Hash{}, err
	}
	if id != (common.Hash{}) {
		return id, nil
	}
	if r.registrar == nil {
		return common.Hash{}, retry.Terminal(fmt.Errorf("token %s: %w", token, ErrUnregisteredToken))
	}
	txHash, err := r.registrar.RegisterToken(ctx, token)
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't register token %s: %w", token, err)
	}
	r.logger.WithFields(logrus.Fields{
		"token":   token,
		"tx_hash": txHash,
	}).Info("registered token in native token vault")
	id, err = r.source.AssetID(ctx, token)
	if err != nil {
		return common.Hash{}, err
	}
	if id == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("token %s: %w", token, ErrUnregisteredToken)
	}
	return id, nil
}
