package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omni/alias-relay/contract/abi"
	"github.com/omni/alias-relay/ethclient"
)

type Contract struct {
	address common.Address
	client  ethclient.Client
	abi     abi.ABI
}

func NewContract(client ethclient.Client, addr common.Address, abi abi.ABI) *Contract {
	return &Contract{addr, client, abi}
}

func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("can't encode abi calldata: %w", err)
	}
	res, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("can't call %s(...): %w", method, err)
	}
	values, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("can't decode %s(...) result: %w", method, err)
	}
	return values, nil
}

// Transact sends a state-changing call and waits for a successful receipt.
func (c *Contract) Transact(ctx context.Context, t *Transactor, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("can't encode abi calldata: %w", err)
	}
	receipt, err := t.Transact(ctx, c.address, value, data)
	if err != nil {
		return receipt, fmt.Errorf("can't send %s(...): %w", method, err)
	}
	return receipt, nil
}

func (c *Contract) ParseLog(log *types.Log) (string, map[string]interface{}, error) {
	return c.abi.ParseLog(log)
}

func callAddress(ctx context.Context, c *Contract, method string, args ...interface{}) (common.Address, error) {
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s(...) result type %T", method, values[0])
	}
	return addr, nil
}
