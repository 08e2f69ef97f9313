package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Alias struct {
	AliasKey           common.Hash    `db:"alias_key"`
	NormalizedIdentity string         `db:"normalized_identity"`
	Suffix             string         `db:"suffix"`
	RecipientAddress   common.Address `db:"recipient_address"`
	CreatedAt          *time.Time     `db:"created_at"`
	UpdatedAt          *time.Time     `db:"updated_at"`
}

type AliasesRepo interface {
	// Ensure inserts the alias or rebinds the recipient of an existing one.
	Ensure(ctx context.Context, alias *Alias) error
	GetByKey(ctx context.Context, key common.Hash) (*Alias, error)
	FindByIdentity(ctx context.Context, identity string) ([]*Alias, error)
}
