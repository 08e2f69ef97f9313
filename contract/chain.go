package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omni/alias-relay/deriver"
	"github.com/omni/alias-relay/ethclient"
)

type chain struct {
	client     ethclient.Client
	transactor *Transactor
}

// Balance returns the native balance of addr, or its balance of token when token is set.
func (c *chain) Balance(ctx context.Context, addr common.Address, token *common.Address) (*big.Int, error) {
	if token == nil {
		balance, err := c.client.BalanceAt(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("can't get balance: %w", err)
		}
		return balance, nil
	}
	return NewERC20(c.client, *token).BalanceOf(ctx, addr)
}

func (c *chain) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("can't get code: %w", err)
	}
	return len(code) > 0, nil
}

// OriginChain sends forwarder transactions on the origin ledger.
type OriginChain struct {
	chain
	factory          *ForwarderFactory
	nativeTokenVault *NativeTokenVault
}

func NewOriginChain(client ethclient.Client, transactor *Transactor, factory, nativeTokenVault common.Address) *OriginChain {
	return &OriginChain{
		chain:            chain{client: client, transactor: transactor},
		factory:          NewForwarderFactory(client, factory),
		nativeTokenVault: NewNativeTokenVault(client, nativeTokenVault),
	}
}

func (c *OriginChain) AssetID(ctx context.Context, token common.Address) (common.Hash, error) {
	return c.nativeTokenVault.AssetID(ctx, token)
}

func (c *OriginChain) RegisterToken(ctx context.Context, token common.Address) (common.Hash, error) {
	receipt, err := c.nativeTokenVault.RegisterToken(ctx, c.transactor, token)
	return txHash(receipt), err
}

func (c *OriginChain) DeployForwarder(ctx context.Context, salt common.Hash, params *deriver.ForwarderParams) (common.Hash, error) {
	receipt, err := c.factory.Deploy(ctx, c.transactor, salt, params)
	return txHash(receipt), err
}

func (c *OriginChain) SweepNative(ctx context.Context, forwarder common.Address, mint, amount *big.Int, l2GasLimit, gasPerPubdata uint64) (common.Hash, error) {
	receipt, err := NewForwarder(c.client, forwarder).SweepETH(ctx, c.transactor, mint, amount, l2GasLimit, gasPerPubdata)
	return txHash(receipt), err
}

func (c *OriginChain) SweepToken(ctx context.Context, forwarder, token common.Address, amount *big.Int, assetID common.Hash, mint *big.Int, l2GasLimit, gasPerPubdata uint64) (common.Hash, error) {
	receipt, err := NewForwarder(c.client, forwarder).SweepERC20(ctx, c.transactor, token, amount, assetID, mint, l2GasLimit, gasPerPubdata)
	return txHash(receipt), err
}

// DestinationChain sends vault transactions on the destination ledger.
type DestinationChain struct {
	chain
	factory *VaultFactory
}

func NewDestinationChain(client ethclient.Client, transactor *Transactor, factory common.Address) *DestinationChain {
	return &DestinationChain{
		chain:   chain{client: client, transactor: transactor},
		factory: NewVaultFactory(client, factory),
	}
}

func (c *DestinationChain) DeployVault(ctx context.Context, salt common.Hash, recipient common.Address) (common.Hash, error) {
	receipt, err := c.factory.DeployVault(ctx, c.transactor, salt, recipient)
	return txHash(receipt), err
}

// SweepVault moves the whole balance of the vault to its bound recipient and returns the swept amount.
func (c *DestinationChain) SweepVault(ctx context.Context, vault common.Address, token *common.Address) (common.Hash, *big.Int, error) {
	if token == nil {
		balance, err := c.Balance(ctx, vault, nil)
		if err != nil {
			return common.Hash{}, nil, err
		}
		receipt, err := NewVault(c.client, vault).SweepETH(ctx, c.transactor)
		return txHash(receipt), balance, err
	}
	receipt, err := NewVault(c.client, vault).SweepERC20(ctx, c.transactor, *token)
	if err != nil {
		return txHash(receipt), nil, err
	}
	amount, err := NewERC20(c.client, *token).TransferredAmount(receipt, vault)
	if err != nil {
		return txHash(receipt), nil, fmt.Errorf("can't decode swept amount: %w", err)
	}
	return txHash(receipt), amount, nil
}

func txHash(receipt *types.Receipt) common.Hash {
	if receipt == nil {
		return common.Hash{}
	}
	return receipt.TxHash
}
