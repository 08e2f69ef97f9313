// Package deriver computes the deterministic collection, relay and vault addresses of a deposit request.
package deriver

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Salt domain tags.
const (
	tagOrigin      = 'Y'
	tagDestination = 'X'
	tagRelay       = 'R'
)

// ForwarderParams are the constructor arguments of an origin forwarder, all
// of which feed into its content address.
type ForwarderParams struct {
	Bridgehub        common.Address
	L2ChainID        *big.Int
	Target           common.Address
	RefundRecipient  common.Address
	AssetRouter      common.Address
	NativeTokenVault common.Address
}

type ForwarderAddressComputer interface {
	ComputeAddress(ctx context.Context, salt common.Hash, params *ForwarderParams) (common.Address, error)
}

type VaultAddressComputer interface {
	ComputeVaultAddress(ctx context.Context, salt common.Hash, recipient common.Address) (common.Address, error)
}

type Config struct {
	Bridgehub        common.Address
	L2ChainID        *big.Int
	AssetRouter      common.Address
	NativeTokenVault common.Address
	RefundRecipient  *common.Address
	RelayHop         bool
}

type Addresses struct {
	Nonce           common.Hash
	OriginSalt      common.Hash
	DestinationSalt common.Hash
	RelaySalt       *common.Hash
	Origin          common.Address
	Destination     common.Address
	Relay           *common.Address
}

type Deriver struct {
	cfg        *Config
	forwarders ForwarderAddressComputer
	vaults     VaultAddressComputer
}

func NewDeriver(cfg *Config, forwarders ForwarderAddressComputer, vaults VaultAddressComputer) *Deriver {
	return &Deriver{
		cfg:        cfg,
		forwarders: forwarders,
		vaults:     vaults,
	}
}

func NewNonce() (common.Hash, error) {
	var nonce common.Hash
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, fmt.Errorf("can't read random nonce: %w", err)
	}
	return nonce, nil
}

func salt(aliasKey, nonce common.Hash, tag byte) common.Hash {
	return crypto.Keccak256Hash(aliasKey[:], nonce[:], []byte{tag})
}

// Salts returns the origin, destination and relay salts of a request.
func Salts(aliasKey, nonce common.Hash) (common.Hash, common.Hash, common.Hash) {
	return salt(aliasKey, nonce, tagOrigin), salt(aliasKey, nonce, tagDestination), salt(aliasKey, nonce, tagRelay)
}

// ForwarderParams returns the forwarder constructor arguments for a request
// whose bridged funds land at target.
func (d *Deriver) ForwarderParams(target, recipient common.Address) *ForwarderParams {
	refund := recipient
	if d.cfg.RefundRecipient != nil {
		refund = *d.cfg.RefundRecipient
	}
	return &ForwarderParams{
		Bridgehub:        d.cfg.Bridgehub,
		L2ChainID:        d.cfg.L2ChainID,
		Target:           target,
		RefundRecipient:  refund,
		AssetRouter:      d.cfg.AssetRouter,
		NativeTokenVault: d.cfg.NativeTokenVault,
	}
}

// Derive is a pure function of its inputs and the factory code. Any failure
// aborts the derivation as a whole.
func (d *Deriver) Derive(ctx context.Context, aliasKey, nonce common.Hash, recipient common.Address) (*Addresses, error) {
	originSalt, destinationSalt, relaySalt := Salts(aliasKey, nonce)
	res := &Addresses{
		Nonce:           nonce,
		OriginSalt:      originSalt,
		DestinationSalt: destinationSalt,
	}

	var err error
	res.Destination, err = d.vaults.ComputeVaultAddress(ctx, destinationSalt, recipient)
	if err != nil {
		return nil, fmt.Errorf("can't compute vault address: %w", err)
	}

	target := res.Destination
	if d.cfg.RelayHop {
		relay, err2 := d.vaults.ComputeVaultAddress(ctx, relaySalt, res.Destination)
		if err2 != nil {
			return nil, fmt.Errorf("can't compute relay address: %w", err2)
		}
		res.RelaySalt = &relaySalt
		res.Relay = &relay
		target = relay
	}

	res.Origin, err = d.forwarders.ComputeAddress(ctx, originSalt, d.ForwarderParams(target, recipient))
	if err != nil {
		return nil, fmt.Errorf("can't compute forwarder address: %w", err)
	}
	return res, nil
}
