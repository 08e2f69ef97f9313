package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

type depositRequestsRepo basePostgresRepo

func NewDepositRequestsRepo(table string, db *db.DB) entity.DepositRequestsRepo {
	return (*depositRequestsRepo)(newBasePostgresRepo(table, db))
}

func inflightColumns(side entity.Side) (string, string) {
	return string(side) + "_inflight", string(side) + "_locked_at"
}

func (r *depositRequestsRepo) Create(ctx context.Context, req *entity.DepositRequest) (bool, error) {
	q, args, err := sq.Insert(r.table).
		Columns("tracking_id", "alias_key", "recipient_address", "nonce", "origin_address", "destination_address",
			"relay_address", "origin_salt", "destination_salt", "relay_salt", "is_active").
		Values(req.TrackingID, req.AliasKey, req.RecipientAddress, req.Nonce, req.OriginAddress, req.DestinationAddress,
			req.RelayAddress, req.OriginSalt, req.DestinationSalt, req.RelaySalt, true).
		Suffix("ON CONFLICT (alias_key, recipient_address) WHERE is_active DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("can't insert deposit request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("can't get affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *depositRequestsRepo) GetByTrackingID(ctx context.Context, id uuid.UUID) (*entity.DepositRequest, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"tracking_id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	req := new(entity.DepositRequest)
	err = r.db.GetContext(ctx, req, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get deposit request by tracking id: %w", err)
	}
	return req, nil
}

func (r *depositRequestsRepo) FindActiveByAliasAndRecipient(ctx context.Context, aliasKey common.Hash, recipient common.Address) (*entity.DepositRequest, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"alias_key": aliasKey, "recipient_address": recipient, "is_active": true}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	req := new(entity.DepositRequest)
	err = r.db.GetContext(ctx, req, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get active deposit request: %w", err)
	}
	return req, nil
}

func (r *depositRequestsRepo) FindByAliasKey(ctx context.Context, aliasKey common.Hash, limit uint64) ([]*entity.DepositRequest, error) {
	return r.find(ctx, sq.Eq{"alias_key": aliasKey}, "created_at DESC", limit)
}

func (r *depositRequestsRepo) FindActive(ctx context.Context, limit uint64) ([]*entity.DepositRequest, error) {
	return r.find(ctx, sq.Eq{"is_active": true}, "last_activity_at ASC", limit)
}

func (r *depositRequestsRepo) find(ctx context.Context, pred interface{}, orderBy string, limit uint64) ([]*entity.DepositRequest, error) {
	builder := sq.Select("*").
		From(r.table).
		Where(pred).
		OrderBy(orderBy)
	if limit > 0 {
		builder = builder.Limit(limit)
	}
	q, args, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	reqs := make([]*entity.DepositRequest, 0, 10)
	err = r.db.SelectContext(ctx, &reqs, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get deposit requests: %w", err)
	}
	return reqs, nil
}

func (r *depositRequestsRepo) TryAcquire(ctx context.Context, id uuid.UUID, side entity.Side, now, staleBefore time.Time) (bool, error) {
	inflight, lockedAt := inflightColumns(side)
	q, args, err := sq.Update(r.table).
		Set(inflight, true).
		Set(lockedAt, now).
		Where(sq.Eq{"tracking_id": id}).
		Where(sq.Or{sq.Eq{inflight: false}, sq.Lt{lockedAt: staleBefore}}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("can't acquire %s inflight flag: %w", side, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("can't get affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *depositRequestsRepo) Release(ctx context.Context, id uuid.UUID, side entity.Side) error {
	inflight, lockedAt := inflightColumns(side)
	q, args, err := sq.Update(r.table).
		Set(inflight, false).
		Set(lockedAt, nil).
		Where(sq.Eq{"tracking_id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't release %s inflight flag: %w", side, err)
	}
	return nil
}

func (r *depositRequestsRepo) ReleaseStale(ctx context.Context, side entity.Side, staleBefore time.Time) (int64, error) {
	inflight, lockedAt := inflightColumns(side)
	q, args, err := sq.Update(r.table).
		Set(inflight, false).
		Set(lockedAt, nil).
		Where(sq.Eq{inflight: true}).
		Where(sq.Lt{lockedAt: staleBefore}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("can't release stale %s inflight flags: %w", side, err)
	}
	return res.RowsAffected()
}

func (r *depositRequestsRepo) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	q, args, err := sq.Update(r.table).
		Set("last_activity_at", now).
		Where(sq.Eq{"tracking_id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't update last activity: %w", err)
	}
	return nil
}
