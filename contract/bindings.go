package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omni/alias-relay/contract/abi"
	"github.com/omni/alias-relay/deriver"
	"github.com/omni/alias-relay/ethclient"
)

type ForwarderFactory struct {
	*Contract
}

func NewForwarderFactory(client ethclient.Client, addr common.Address) *ForwarderFactory {
	return &ForwarderFactory{NewContract(client, addr, abi.ForwarderFactory)}
}

func (c *ForwarderFactory) ComputeAddress(ctx context.Context, salt common.Hash, p *deriver.ForwarderParams) (common.Address, error) {
	addr, err := callAddress(ctx, c.Contract, "computeAddress", salt, p.Bridgehub, p.L2ChainID, p.Target, p.RefundRecipient, p.AssetRouter, p.NativeTokenVault)
	if err != nil {
		return common.Address{}, fmt.Errorf("can't compute forwarder address: %w", err)
	}
	return addr, nil
}

func (c *ForwarderFactory) Deploy(ctx context.Context, t *Transactor, salt common.Hash, p *deriver.ForwarderParams) (*types.Receipt, error) {
	return c.Transact(ctx, t, nil, "deploy", salt, p.Bridgehub, p.L2ChainID, p.Target, p.RefundRecipient, p.AssetRouter, p.NativeTokenVault)
}

type Forwarder struct {
	*Contract
}

func NewForwarder(client ethclient.Client, addr common.Address) *Forwarder {
	return &Forwarder{NewContract(client, addr, abi.Forwarder)}
}

// SweepETH bridges amount of the forwarder's balance, paying the mint stipend from the relayer.
func (c *Forwarder) SweepETH(ctx context.Context, t *Transactor, mint, amount *big.Int, l2GasLimit, gasPerPubdata uint64) (*types.Receipt, error) {
	return c.Transact(ctx, t, mint, "sweepETH", mint, amount, new(big.Int).SetUint64(l2GasLimit), new(big.Int).SetUint64(gasPerPubdata))
}

func (c *Forwarder) SweepERC20(ctx context.Context, t *Transactor, token common.Address, amount *big.Int, assetID common.Hash, mint *big.Int, l2GasLimit, gasPerPubdata uint64) (*types.Receipt, error) {
	return c.Transact(ctx, t, mint, "sweepERC20", token, amount, assetID, mint, new(big.Int).SetUint64(l2GasLimit), new(big.Int).SetUint64(gasPerPubdata))
}

type VaultFactory struct {
	*Contract
}

func NewVaultFactory(client ethclient.Client, addr common.Address) *VaultFactory {
	return &VaultFactory{NewContract(client, addr, abi.VaultFactory)}
}

func (c *VaultFactory) ComputeVaultAddress(ctx context.Context, salt common.Hash, recipient common.Address) (common.Address, error) {
	addr, err := callAddress(ctx, c.Contract, "computeVaultAddress", salt, recipient)
	if err != nil {
		return common.Address{}, fmt.Errorf("can't compute vault address: %w", err)
	}
	return addr, nil
}

func (c *VaultFactory) DeployVault(ctx context.Context, t *Transactor, salt common.Hash, recipient common.Address) (*types.Receipt, error) {
	return c.Transact(ctx, t, nil, "deployVault", salt, recipient)
}

type Vault struct {
	*Contract
}

func NewVault(client ethclient.Client, addr common.Address) *Vault {
	return &Vault{NewContract(client, addr, abi.Vault)}
}

func (c *Vault) SweepETH(ctx context.Context, t *Transactor) (*types.Receipt, error) {
	return c.Transact(ctx, t, nil, "sweepETH")
}

func (c *Vault) SweepERC20(ctx context.Context, t *Transactor, token common.Address) (*types.Receipt, error) {
	return c.Transact(ctx, t, nil, "sweepERC20", token)
}

type NativeTokenVault struct {
	*Contract
}

func NewNativeTokenVault(client ethclient.Client, addr common.Address) *NativeTokenVault {
	return &NativeTokenVault{NewContract(client, addr, abi.NativeTokenVault)}
}

// AssetID returns the canonical asset id of the token, zero if the token is not registered.
func (c *NativeTokenVault) AssetID(ctx context.Context, token common.Address) (common.Hash, error) {
	values, err := c.Call(ctx, "assetId", token)
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't get asset id: %w", err)
	}
	id, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected assetId(...) result type %T", values[0])
	}
	return id, nil
}

func (c *NativeTokenVault) RegisterToken(ctx context.Context, t *Transactor, token common.Address) (*types.Receipt, error) {
	return c.Transact(ctx, t, nil, "registerToken", token)
}

type ERC20 struct {
	*Contract
}

func NewERC20(client ethclient.Client, addr common.Address) *ERC20 {
	return &ERC20{NewContract(client, addr, abi.ERC20)}
}

func (c *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := c.Call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("can't get token balance: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf(...) result type %T", values[0])
	}
	return balance, nil
}

// TransferredAmount sums the token Transfer logs of the receipt that debit from.
func (c *ERC20) TransferredAmount(receipt *types.Receipt, from common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, log := range receipt.Logs {
		if log.Address != c.address {
			continue
		}
		event, data, err := c.ParseLog(log)
		if err != nil {
			return nil, err
		}
		if event != abi.ERC20Transfer || data["from"] != from {
			continue
		}
		if value, ok := data["value"].(*big.Int); ok {
			total.Add(total, value)
		}
	}
	return total, nil
}
