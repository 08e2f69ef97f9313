package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

type aliasesRepo basePostgresRepo

func NewAliasesRepo(table string, db *db.DB) entity.AliasesRepo {
	return (*aliasesRepo)(newBasePostgresRepo(table, db))
}

func (r *aliasesRepo) Ensure(ctx context.Context, alias *entity.Alias) error {
	q, args, err := sq.Insert(r.table).
		Columns("alias_key", "normalized_identity", "suffix", "recipient_address").
		Values(alias.AliasKey, alias.NormalizedIdentity, alias.Suffix, alias.RecipientAddress).
		Suffix("ON CONFLICT (alias_key) DO UPDATE SET recipient_address = EXCLUDED.recipient_address, updated_at = NOW()").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert alias: %w", err)
	}
	return nil
}

func (r *aliasesRepo) GetByKey(ctx context.Context, key common.Hash) (*entity.Alias, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"alias_key": key}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	alias := new(entity.Alias)
	err = r.db.GetContext(ctx, alias, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get alias by key: %w", err)
	}
	return alias, nil
}

func (r *aliasesRepo) FindByIdentity(ctx context.Context, identity string) ([]*entity.Alias, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"normalized_identity": identity}).
		OrderBy("suffix").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	aliases := make([]*entity.Alias, 0, 2)
	err = r.db.SelectContext(ctx, &aliases, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get aliases by identity: %w", err)
	}
	return aliases, nil
}
