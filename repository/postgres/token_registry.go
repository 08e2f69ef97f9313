package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

type tokenRegistryRepo basePostgresRepo

func NewTokenRegistryRepo(table string, db *db.DB) entity.TokenRegistryRepo {
	return (*tokenRegistryRepo)(newBasePostgresRepo(table, db))
}

func (r *tokenRegistryRepo) Ensure(ctx context.Context, entry *entity.TokenRegistryEntry) error {
	q, args, err := sq.Insert(r.table).
		Columns("origin_token_address", "asset_id").
		Values(entry.OriginTokenAddress, entry.AssetID).
		Suffix("ON CONFLICT (origin_token_address) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert token registry entry: %w", err)
	}
	return nil
}

func (r *tokenRegistryRepo) GetByOriginToken(ctx context.Context, token common.Address) (*entity.TokenRegistryEntry, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"origin_token_address": token}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	entry := new(entity.TokenRegistryEntry)
	err = r.db.GetContext(ctx, entry, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get token registry entry: %w", err)
	}
	return entry, nil
}
