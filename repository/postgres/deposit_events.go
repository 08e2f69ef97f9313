package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
)

var (
	originStatuses      = []entity.Status{entity.StatusDetected, entity.StatusOriginForwarderDeployed}
	destinationStatuses = []entity.Status{entity.StatusOriginSwept, entity.StatusDestinationArrived, entity.StatusDestinationVaultDeployed}
)

type depositEventsRepo basePostgresRepo

func NewDepositEventsRepo(table string, db *db.DB) entity.DepositEventsRepo {
	return (*depositEventsRepo)(newBasePostgresRepo(table, db))
}

func (r *depositEventsRepo) insertQuery(event *entity.DepositEvent) (string, []interface{}, error) {
	return sq.Insert(r.table).
		Columns("tracking_id", "kind", "token_address", "amount", "status", "resume_status",
			"destination_sweep_tx_hash", "reconciled", "credited_at").
		Values(event.TrackingID, event.Kind, event.TokenAddress, event.Amount, event.Status, event.ResumeStatus,
			event.DestinationSweepTxHash, event.Reconciled, event.CreditedAt).
		Suffix("RETURNING id, created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

func (r *depositEventsRepo) Create(ctx context.Context, event *entity.DepositEvent) error {
	q, args, err := r.insertQuery(event)
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	err = r.db.GetContext(ctx, event, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert deposit event: %w", err)
	}
	return nil
}

func (r *depositEventsRepo) GetByID(ctx context.Context, id int64) (*entity.DepositEvent, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	event := new(entity.DepositEvent)
	err = r.db.GetContext(ctx, event, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get deposit event by id: %w", err)
	}
	return event, nil
}

func (r *depositEventsRepo) FindByTrackingID(ctx context.Context, id uuid.UUID) ([]*entity.DepositEvent, error) {
	return r.find(ctx, sq.Eq{"tracking_id": id}, 0)
}

func (r *depositEventsRepo) FindOpenOrigin(ctx context.Context, id uuid.UUID) (*entity.DepositEvent, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"tracking_id": id, "resume_status": originStatuses}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	event := new(entity.DepositEvent)
	err = r.db.GetContext(ctx, event, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get open origin deposit event: %w", err)
	}
	return event, nil
}

func (r *depositEventsRepo) FindAwaitingDestination(ctx context.Context, id uuid.UUID) ([]*entity.DepositEvent, error) {
	return r.find(ctx, sq.Eq{"tracking_id": id, "resume_status": destinationStatuses}, 0)
}

func (r *depositEventsRepo) FindDueDestination(ctx context.Context, now time.Time, limit uint64) ([]*entity.DepositEvent, error) {
	return r.find(ctx, sq.And{
		sq.Eq{"resume_status": destinationStatuses, "stuck": false},
		sq.Or{sq.Eq{"next_attempt_at": nil}, sq.LtOrEq{"next_attempt_at": now}},
	}, limit)
}

func (r *depositEventsRepo) find(ctx context.Context, pred interface{}, limit uint64) ([]*entity.DepositEvent, error) {
	builder := sq.Select("*").
		From(r.table).
		Where(pred).
		OrderBy("id")
	if limit > 0 {
		builder = builder.Limit(limit)
	}
	q, args, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	events := make([]*entity.DepositEvent, 0, 4)
	err = r.db.SelectContext(ctx, &events, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get deposit events: %w", err)
	}
	return events, nil
}

func (r *depositEventsRepo) Update(ctx context.Context, event *entity.DepositEvent, prev entity.Status) error {
	q, args, err := sq.Update(r.table).
		SetMap(map[string]interface{}{
			"status":                     event.Status,
			"resume_status":              event.ResumeStatus,
			"origin_deploy_tx_hash":      event.OriginDeployTxHash,
			"origin_sweep_tx_hash":       event.OriginSweepTxHash,
			"relay_deploy_tx_hash":       event.RelayDeployTxHash,
			"relay_sweep_tx_hash":        event.RelaySweepTxHash,
			"destination_deploy_tx_hash": event.DestinationDeployTxHash,
			"destination_sweep_tx_hash":  event.DestinationSweepTxHash,
			"attempts":                   event.Attempts,
			"next_attempt_at":            event.NextAttemptAt,
			"stuck":                      event.Stuck,
			"last_error_at":              event.LastErrorAt,
			"error":                      event.Error,
			"credited_at":                event.CreditedAt,
			"updated_at":                 sq.Expr("NOW()"),
		}).
		Where(sq.Eq{"id": event.ID, "status": prev}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't update deposit event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't get affected rows: %w", err)
	}
	if err = db.ExpectAffected(n); err != nil {
		return fmt.Errorf("deposit event %d is no longer in status %s: %w", event.ID, prev, err)
	}
	return nil
}

func (r *depositEventsRepo) Credit(ctx context.Context, ids []int64, sweepTxHash *common.Hash, surplus *entity.DepositEvent, now time.Time) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if len(ids) > 0 {
			q, args, err := sq.Update(r.table).
				Set("status", entity.StatusCredited).
				Set("resume_status", entity.StatusCredited).
				Set("destination_sweep_tx_hash", sweepTxHash).
				Set("stuck", false).
				Set("next_attempt_at", nil).
				Set("last_error_at", nil).
				Set("error", "").
				Set("credited_at", now).
				Set("updated_at", now).
				Where("id = ANY(?)", pq.Array(ids)).
				Where(sq.NotEq{"status": entity.StatusCredited}).
				PlaceholderFormat(sq.Dollar).
				ToSql()
			if err != nil {
				return fmt.Errorf("can't build query: %w", err)
			}
			res, err := tx.ExecContext(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("can't credit deposit events: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("can't get affected rows: %w", err)
			}
			if n != int64(len(ids)) {
				return fmt.Errorf("credited %d of %d deposit events: %w", n, len(ids), db.ErrConflict)
			}
		}
		if surplus != nil {
			q, args, err := r.insertQuery(surplus)
			if err != nil {
				return fmt.Errorf("can't build query: %w", err)
			}
			if err = tx.GetContext(ctx, surplus, q, args...); err != nil {
				return fmt.Errorf("can't insert surplus deposit event: %w", db.MapUniqueViolation(err))
			}
		}
		return nil
	})
}

func (r *depositEventsRepo) CountByStatus(ctx context.Context) ([]*entity.StatusCount, error) {
	q, args, err := sq.Select("status", "stuck", "COUNT(*) AS count").
		From(r.table).
		Where(sq.NotEq{"status": entity.StatusCredited}).
		GroupBy("status", "stuck").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	counts := make([]*entity.StatusCount, 0, 8)
	err = r.db.SelectContext(ctx, &counts, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't count deposit events: %w", err)
	}
	return counts, nil
}
