package relay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/deriver"
)

type Ledger interface {
	// Balance returns the native balance of addr, or its token balance when token is set.
	Balance(ctx context.Context, addr common.Address, token *common.Address) (*big.Int, error)
	HasCode(ctx context.Context, addr common.Address) (bool, error)
}

type OriginLedger interface {
	Ledger
	DeployForwarder(ctx context.Context, salt common.Hash, params *deriver.ForwarderParams) (common.Hash, error)
	SweepNative(ctx context.Context, forwarder common.Address, mint, amount *big.Int, l2GasLimit, gasPerPubdata uint64) (common.Hash, error)
	SweepToken(ctx context.Context, forwarder, token common.Address, amount *big.Int, assetID common.Hash, mint *big.Int, l2GasLimit, gasPerPubdata uint64) (common.Hash, error)
}

type DestinationLedger interface {
	Ledger
	DeployVault(ctx context.Context, salt common.Hash, recipient common.Address) (common.Hash, error)
	// SweepVault empties the vault towards its bound recipient and returns the swept amount.
	SweepVault(ctx context.Context, vault common.Address, token *common.Address) (common.Hash, *big.Int, error)
}

type TokenRegistry interface {
	Tokens() []*config.TokenConfig
	AssetID(ctx context.Context, token common.Address) (common.Hash, error)
	DestinationToken(origin *common.Address) (*common.Address, error)
}

type ForwarderParamsBuilder interface {
	ForwarderParams(target, recipient common.Address) *deriver.ForwarderParams
}

// CredentialInvalidator drops a cached session after the privileged endpoint rejected it.
type CredentialInvalidator interface {
	Invalidate()
}
