package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type TokenRegistryEntry struct {
	OriginTokenAddress common.Address `db:"origin_token_address"`
	AssetID            common.Hash    `db:"asset_id"`
	CreatedAt          *time.Time     `db:"created_at"`
}

type TokenRegistryRepo interface {
	Ensure(ctx context.Context, entry *TokenRegistryEntry) error
	GetByOriginToken(ctx context.Context, token common.Address) (*TokenRegistryEntry, error)
}
