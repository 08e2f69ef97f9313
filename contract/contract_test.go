package contract_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/contract"
	"github.com/omni/alias-relay/contract/abi"
	"github.com/omni/alias-relay/deriver"
)

// callClient answers eth_call by dispatching on the method selector.
type callClient struct {
	abi     abi.ABI
	results map[string][]interface{}
	calls   []string
}

func (c *callClient) ChainName() string { return "test" }
func (c *callClient) ChainID() *big.Int { return big.NewInt(1) }
func (c *callClient) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (c *callClient) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}
func (c *callClient) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (c *callClient) SuggestGasPrice(context.Context) (*big.Int, error)             { return big.NewInt(1), nil }
func (c *callClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 21000, nil }
func (c *callClient) SendTransaction(context.Context, *types.Transaction) error     { return nil }
func (c *callClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (c *callClient) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	method, err := c.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	c.calls = append(c.calls, method.Name)
	res, ok := c.results[method.Name]
	if !ok {
		return nil, fmt.Errorf("unexpected call %s", method.Name)
	}
	return method.Outputs.Pack(res...)
}

func TestVaultFactory_ComputeVaultAddress(t *testing.T) {
	t.Parallel()

	vault := common.HexToAddress("0x1234")
	client := &callClient{abi: abi.VaultFactory, results: map[string][]interface{}{
		"computeVaultAddress": {vault},
	}}
	factory := contract.NewVaultFactory(client, common.HexToAddress("0x01"))

	addr, err := factory.ComputeVaultAddress(context.Background(), common.HexToHash("0x02"), common.HexToAddress("0x03"))
	require.NoError(t, err)
	require.Equal(t, vault, addr)
	require.Equal(t, []string{"computeVaultAddress"}, client.calls)
}

func TestForwarderFactory_ComputeAddress(t *testing.T) {
	t.Parallel()

	forwarder := common.HexToAddress("0xabcd")
	client := &callClient{abi: abi.ForwarderFactory, results: map[string][]interface{}{
		"computeAddress": {forwarder},
	}}
	factory := contract.NewForwarderFactory(client, common.HexToAddress("0x01"))

	addr, err := factory.ComputeAddress(context.Background(), common.HexToHash("0x02"), &deriver.ForwarderParams{
		Bridgehub: common.HexToAddress("0x03"),
		L2ChainID: big.NewInt(324),
		Target:    common.HexToAddress("0x04"),
	})
	require.NoError(t, err)
	require.Equal(t, forwarder, addr)
}

func TestNativeTokenVault_AssetID(t *testing.T) {
	t.Parallel()

	id := common.HexToHash("0xfeed")
	client := &callClient{abi: abi.NativeTokenVault, results: map[string][]interface{}{
		"assetId": {[32]byte(id)},
	}}
	vault := contract.NewNativeTokenVault(client, common.HexToAddress("0x01"))

	res, err := vault.AssetID(context.Background(), common.HexToAddress("0x02"))
	require.NoError(t, err)
	require.Equal(t, id, res)
}

func TestERC20_BalanceOf(t *testing.T) {
	t.Parallel()

	client := &callClient{abi: abi.ERC20, results: map[string][]interface{}{
		"balanceOf": {big.NewInt(42)},
	}}
	token := contract.NewERC20(client, common.HexToAddress("0x01"))

	balance, err := token.BalanceOf(context.Background(), common.HexToAddress("0x02"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), balance)
}

func TestERC20_TransferredAmount(t *testing.T) {
	t.Parallel()

	tokenAddr := common.HexToAddress("0x01")
	vault := common.HexToAddress("0x02")
	recipient := common.HexToAddress("0x03")
	transferTopic := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	transfer := func(token, from common.Address, value int64) *types.Log {
		return &types.Log{
			Address: token,
			Topics:  []common.Hash{transferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(recipient.Bytes())},
			Data:    common.BigToHash(big.NewInt(value)).Bytes(),
		}
	}
	receipt := &types.Receipt{Logs: []*types.Log{
		transfer(tokenAddr, vault, 7),
		transfer(tokenAddr, common.HexToAddress("0x04"), 100),
		transfer(common.HexToAddress("0x05"), vault, 100),
		transfer(tokenAddr, vault, 3),
	}}

	token := contract.NewERC20(&callClient{abi: abi.ERC20}, tokenAddr)
	amount, err := token.TransferredAmount(receipt, vault)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), amount)
}

func TestIsReverted(t *testing.T) {
	t.Parallel()

	require.False(t, contract.IsReverted(nil))
	require.False(t, contract.IsReverted(errors.New("connection refused")))
	require.True(t, contract.IsReverted(fmt.Errorf("can't send sweepETH(...): %w", contract.ErrReverted)))
	require.True(t, contract.IsReverted(errors.New("can't estimate gas: execution reverted")))
}
