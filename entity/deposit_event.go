package entity

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Status string

const (
	StatusDetected                 Status = "detected"
	StatusOriginForwarderDeployed  Status = "origin_forwarder_deployed"
	StatusOriginSwept              Status = "origin_swept"
	StatusDestinationArrived       Status = "destination_arrived"
	StatusDestinationVaultDeployed Status = "destination_vault_deployed"
	StatusCredited                 Status = "credited"
	StatusOriginFailed             Status = "l1_failed"
	StatusDestinationFailed        Status = "l2_failed"
	StatusStuck                    Status = "stuck"
)

var progressOrder = map[Status]int{
	StatusDetected:                 1,
	StatusOriginForwarderDeployed:  2,
	StatusOriginSwept:              3,
	StatusDestinationArrived:       4,
	StatusDestinationVaultDeployed: 5,
	StatusCredited:                 6,
}

// Rank returns the position of an in-progress status on the happy path, or 0 for failure statuses.
func (s Status) Rank() int {
	return progressOrder[s]
}

// Side reports which worker owns the event while it is in the given in-progress status.
func (s Status) Side() Side {
	if s == StatusDetected || s == StatusOriginForwarderDeployed {
		return SideOrigin
	}
	return SideDestination
}

func (s Status) IsFailure() bool {
	return s == StatusOriginFailed || s == StatusDestinationFailed || s == StatusStuck
}

type Kind string

const (
	KindNative Kind = "native"
	KindToken  Kind = "token"
)

type DepositEvent struct {
	ID                      int64           `db:"id"`
	TrackingID              uuid.UUID       `db:"tracking_id"`
	Kind                    Kind            `db:"kind"`
	TokenAddress            *common.Address `db:"token_address"`
	Amount                  string          `db:"amount"`
	Status                  Status          `db:"status"`
	ResumeStatus            Status          `db:"resume_status"`
	OriginDeployTxHash      *common.Hash    `db:"origin_deploy_tx_hash"`
	OriginSweepTxHash       *common.Hash    `db:"origin_sweep_tx_hash"`
	RelayDeployTxHash       *common.Hash    `db:"relay_deploy_tx_hash"`
	RelaySweepTxHash        *common.Hash    `db:"relay_sweep_tx_hash"`
	DestinationDeployTxHash *common.Hash    `db:"destination_deploy_tx_hash"`
	DestinationSweepTxHash  *common.Hash    `db:"destination_sweep_tx_hash"`
	Attempts                uint            `db:"attempts"`
	NextAttemptAt           *time.Time      `db:"next_attempt_at"`
	Stuck                   bool            `db:"stuck"`
	LastErrorAt             *time.Time      `db:"last_error_at"`
	Error                   string          `db:"error"`
	Reconciled              bool            `db:"reconciled"`
	CreatedAt               *time.Time      `db:"created_at"`
	UpdatedAt               *time.Time      `db:"updated_at"`
	CreditedAt              *time.Time      `db:"credited_at"`
}

func (e *DepositEvent) AmountValue() *big.Int {
	v, ok := new(big.Int).SetString(e.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// Asset identifies the origin asset of the event, the zero address stands for the native coin.
func (e *DepositEvent) Asset() common.Address {
	if e.TokenAddress == nil {
		return common.Address{}
	}
	return *e.TokenAddress
}

// Due reports whether a worker may pick the event up at the given time.
func (e *DepositEvent) Due(now time.Time) bool {
	if e.Stuck || e.Status == StatusCredited {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

type DepositEventsRepo interface {
	Create(ctx context.Context, event *DepositEvent) error
	GetByID(ctx context.Context, id int64) (*DepositEvent, error)
	FindByTrackingID(ctx context.Context, id uuid.UUID) ([]*DepositEvent, error)
	// FindOpenOrigin returns the single event owned by the origin side of the request.
	FindOpenOrigin(ctx context.Context, id uuid.UUID) (*DepositEvent, error)
	// FindAwaitingDestination returns uncredited destination-side events of the request in creation order.
	FindAwaitingDestination(ctx context.Context, id uuid.UUID) ([]*DepositEvent, error)
	FindDueDestination(ctx context.Context, now time.Time, limit uint64) ([]*DepositEvent, error)
	// Update saves the mutable fields, provided the stored status still equals prev.
	Update(ctx context.Context, event *DepositEvent, prev Status) error
	// Credit atomically marks the events credited and stores the optional surplus event.
	Credit(ctx context.Context, ids []int64, sweepTxHash *common.Hash, surplus *DepositEvent, now time.Time) error
	CountByStatus(ctx context.Context) ([]*StatusCount, error)
}

type StatusCount struct {
	Status Status `db:"status"`
	Stuck  bool   `db:"stuck"`
	Count  uint   `db:"count"`
}
