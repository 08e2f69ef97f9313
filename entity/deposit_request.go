package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Side string

const (
	SideOrigin      Side = "origin"
	SideDestination Side = "destination"
)

type DepositRequest struct {
	TrackingID          uuid.UUID       `db:"tracking_id"`
	AliasKey            common.Hash     `db:"alias_key"`
	RecipientAddress    common.Address  `db:"recipient_address"`
	Nonce               common.Hash     `db:"nonce"`
	OriginAddress       common.Address  `db:"origin_address"`
	DestinationAddress  common.Address  `db:"destination_address"`
	RelayAddress        *common.Address `db:"relay_address"`
	OriginSalt          common.Hash     `db:"origin_salt"`
	DestinationSalt     common.Hash     `db:"destination_salt"`
	RelaySalt           *common.Hash    `db:"relay_salt"`
	OriginInflight      bool            `db:"origin_inflight"`
	OriginLockedAt      *time.Time      `db:"origin_locked_at"`
	DestinationInflight bool            `db:"destination_inflight"`
	DestinationLockedAt *time.Time      `db:"destination_locked_at"`
	IsActive            bool            `db:"is_active"`
	CreatedAt           *time.Time      `db:"created_at"`
	LastActivityAt      *time.Time      `db:"last_activity_at"`
}

// ArrivalAddress is where bridged funds land first on the destination ledger.
func (r *DepositRequest) ArrivalAddress() common.Address {
	if r.RelayAddress != nil {
		return *r.RelayAddress
	}
	return r.DestinationAddress
}

type DepositRequestsRepo interface {
	// Create inserts the request, returning false if an active request
	// for the same alias and recipient already exists.
	Create(ctx context.Context, req *DepositRequest) (bool, error)
	GetByTrackingID(ctx context.Context, id uuid.UUID) (*DepositRequest, error)
	FindActiveByAliasAndRecipient(ctx context.Context, aliasKey common.Hash, recipient common.Address) (*DepositRequest, error)
	FindByAliasKey(ctx context.Context, aliasKey common.Hash, limit uint64) ([]*DepositRequest, error)
	FindActive(ctx context.Context, limit uint64) ([]*DepositRequest, error)
	// TryAcquire sets the inflight flag of the given side if it is clear
	// or was set before staleBefore.
	TryAcquire(ctx context.Context, id uuid.UUID, side Side, now, staleBefore time.Time) (bool, error)
	Release(ctx context.Context, id uuid.UUID, side Side) error
	ReleaseStale(ctx context.Context, side Side, staleBefore time.Time) (int64, error)
	Touch(ctx context.Context, id uuid.UUID, now time.Time) error
}
