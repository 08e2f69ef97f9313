package deriver_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/deriver"
)

// create2Factory imitates content addressing: the address is a hash of the salt and every constructor argument.
type create2Factory struct {
	err   error
	calls int
}

func (f *create2Factory) ComputeAddress(_ context.Context, salt common.Hash, p *deriver.ForwarderParams) (common.Address, error) {
	f.calls++
	if f.err != nil {
		return common.Address{}, f.err
	}
	h := crypto.Keccak256(salt[:], p.Bridgehub[:], p.L2ChainID.Bytes(), p.Target[:], p.RefundRecipient[:], p.AssetRouter[:], p.NativeTokenVault[:])
	return common.BytesToAddress(h), nil
}

func (f *create2Factory) ComputeVaultAddress(_ context.Context, salt common.Hash, recipient common.Address) (common.Address, error) {
	f.calls++
	if f.err != nil {
		return common.Address{}, f.err
	}
	return common.BytesToAddress(crypto.Keccak256(salt[:], recipient[:])), nil
}

var (
	aliasKey  = crypto.Keccak256Hash([]byte("alice@example.com#"))
	recipient = common.HexToAddress("0x1111111111111111111111111111111111111111")
	cfg       = &deriver.Config{
		Bridgehub:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		L2ChainID:        big.NewInt(324),
		AssetRouter:      common.HexToAddress("0x3333333333333333333333333333333333333333"),
		NativeTokenVault: common.HexToAddress("0x4444444444444444444444444444444444444444"),
	}
)

func TestSalts(t *testing.T) {
	t.Parallel()

	nonce := common.HexToHash("0x01")
	y, x, r := deriver.Salts(aliasKey, nonce)
	require.NotEqual(t, y, x)
	require.NotEqual(t, x, r)
	require.NotEqual(t, y, r)

	y2, x2, r2 := deriver.Salts(aliasKey, nonce)
	require.Equal(t, []common.Hash{y, x, r}, []common.Hash{y2, x2, r2})

	y3, _, _ := deriver.Salts(aliasKey, common.HexToHash("0x02"))
	require.NotEqual(t, y, y3)
}

func TestDeriver_Derive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := new(create2Factory)
	d := deriver.NewDeriver(cfg, factory, factory)
	nonce, err := deriver.NewNonce()
	require.NoError(t, err)

	first, err := d.Derive(ctx, aliasKey, nonce, recipient)
	require.NoError(t, err)
	second, err := d.Derive(ctx, aliasKey, nonce, recipient)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Nil(t, first.Relay)
	require.NotEqual(t, first.Origin, first.Destination)

	other, err := d.Derive(ctx, aliasKey, nonce, common.HexToAddress("0x5555555555555555555555555555555555555555"))
	require.NoError(t, err)
	require.NotEqual(t, first.Destination, other.Destination)
	require.NotEqual(t, first.Origin, other.Origin)
}

func TestDeriver_DeriveRelayHop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	factory := new(create2Factory)
	hopCfg := *cfg
	hopCfg.RelayHop = true
	d := deriver.NewDeriver(&hopCfg, factory, factory)

	res, err := d.Derive(ctx, aliasKey, common.HexToHash("0x01"), recipient)
	require.NoError(t, err)
	require.NotNil(t, res.Relay)
	require.NotNil(t, res.RelaySalt)

	relay, err := factory.ComputeVaultAddress(ctx, *res.RelaySalt, res.Destination)
	require.NoError(t, err)
	require.Equal(t, relay, *res.Relay)

	origin, err := factory.ComputeAddress(ctx, res.OriginSalt, d.ForwarderParams(relay, recipient))
	require.NoError(t, err)
	require.Equal(t, origin, res.Origin)
}

func TestDeriver_DeriveFailure(t *testing.T) {
	t.Parallel()
	factory := &create2Factory{err: errors.New("execution reverted")}
	d := deriver.NewDeriver(cfg, factory, factory)

	res, err := d.Derive(context.Background(), aliasKey, common.HexToHash("0x01"), recipient)
	require.Error(t, err)
	require.Nil(t, res)
	require.Equal(t, 1, factory.calls)
}

func TestDeriver_RefundRecipient(t *testing.T) {
	t.Parallel()
	refund := common.HexToAddress("0x6666666666666666666666666666666666666666")
	refundCfg := *cfg
	refundCfg.RefundRecipient = &refund
	d := deriver.NewDeriver(&refundCfg, nil, nil)
	require.Equal(t, refund, d.ForwarderParams(common.Address{}, recipient).RefundRecipient)

	d = deriver.NewDeriver(cfg, nil, nil)
	require.Equal(t, recipient, d.ForwarderParams(common.Address{}, recipient).RefundRecipient)
}
