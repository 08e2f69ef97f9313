package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/registry"
	"github.com/omni/alias-relay/repository"
	"github.com/omni/alias-relay/retry"
)

type fakeVault struct {
	ids        map[common.Address]common.Hash
	calls      int
	registered []common.Address
}

func (v *fakeVault) AssetID(_ context.Context, token common.Address) (common.Hash, error) {
	v.calls++
	return v.ids[token], nil
}

func (v *fakeVault) RegisterToken(_ context.Context, token common.Address) (common.Hash, error) {
	v.registered = append(v.registered, token)
	v.ids[token] = common.HexToHash("0xbeef")
	return common.HexToHash("0x01"), nil
}

var (
	tokenA = common.HexToAddress("0xa")
	tokenB = common.HexToAddress("0xb")
	tokenC = common.HexToAddress("0xc")
)

func newTokens() []*config.TokenConfig {
	preset := common.HexToHash("0xaaaa")
	return []*config.TokenConfig{
		{Symbol: "A", OriginAddress: tokenA, AssetID: &preset, DestinationAddress: common.HexToAddress("0xa2")},
		{Symbol: "B", OriginAddress: tokenB, DestinationAddress: common.HexToAddress("0xb2")},
		{Symbol: "C", OriginAddress: tokenC, DestinationAddress: common.HexToAddress("0xc2")},
	}
}

func TestRegistry_AssetID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	vault := &fakeVault{ids: map[common.Address]common.Hash{tokenB: common.HexToHash("0xbbbb")}}
	reg := registry.NewRegistry(logging.New(), newTokens(), repo.TokenRegistry, vault, nil)

	id, err := reg.AssetID(ctx, tokenA)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xaaaa"), id)
	require.Zero(t, vault.calls)

	id, err = reg.AssetID(ctx, tokenB)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xbbbb"), id)
	_, err = reg.AssetID(ctx, tokenB)
	require.NoError(t, err)
	require.Equal(t, 1, vault.calls)

	entry, err := repo.TokenRegistry.GetByOriginToken(ctx, tokenB)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xbbbb"), entry.AssetID)

	_, err = reg.AssetID(ctx, tokenC)
	require.ErrorIs(t, err, registry.ErrUnregisteredToken)
	require.Equal(t, retry.ClassTerminal, retry.Classify(err))

	_, err = reg.AssetID(ctx, common.HexToAddress("0xd"))
	require.ErrorIs(t, err, registry.ErrUnknownToken)
}

func TestRegistry_AssetID_FromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	vault := &fakeVault{ids: map[common.Address]common.Hash{}}
	first := registry.NewRegistry(logging.New(), newTokens(), repo.TokenRegistry, vault, vault)

	id, err := first.AssetID(ctx, tokenC)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xbeef"), id)
	require.Equal(t, []common.Address{tokenC}, vault.registered)

	other := &fakeVault{ids: map[common.Address]common.Hash{}}
	second := registry.NewRegistry(logging.New(), newTokens(), repo.TokenRegistry, other, nil)
	id, err = second.AssetID(ctx, tokenC)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xbeef"), id)
	require.Zero(t, other.calls)
}

func TestRegistry_DestinationToken(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(logging.New(), newTokens(), repository.NewMemoryRepo().TokenRegistry, &fakeVault{}, nil)

	token, err := reg.DestinationToken(nil)
	require.NoError(t, err)
	require.Nil(t, token)

	token, err = reg.DestinationToken(&tokenB)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xb2"), *token)

	unknown := common.HexToAddress("0xd")
	_, err = reg.DestinationToken(&unknown)
	require.True(t, errors.Is(err, registry.ErrUnknownToken))

	cfg, ok := reg.Lookup(tokenA)
	require.True(t, ok)
	require.Equal(t, "A", cfg.Symbol)
	require.Len(t, reg.Tokens(), 3)
}
