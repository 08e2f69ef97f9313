package presenter

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/alias-relay/alias"
	"github.com/omni/alias-relay/entity"
)

type HealthResult struct {
	OK bool `json:"ok"`
}

type ConfigResult struct {
	OriginChainID      string         `json:"originChainId"`
	DestinationChainID string         `json:"destinationChainId"`
	ForwarderFactory   common.Address `json:"forwarderFactory"`
	VaultFactory       common.Address `json:"vaultFactory"`
	Bridgehub          common.Address `json:"bridgehub"`
	NativeTokenVault   common.Address `json:"nativeTokenVault"`
	RelayHop           bool           `json:"relayHop"`
	Tokens             []*TokenInfo   `json:"tokens"`
}

type TokenInfo struct {
	Symbol             string         `json:"symbol"`
	OriginAddress      common.Address `json:"l1Address"`
	DestinationAddress common.Address `json:"l2Address"`
}

type RegisterAliasRequest struct {
	Email            string  `json:"email"`
	Suffix           *string `json:"suffix"`
	RecipientAddress string  `json:"recipientAddress"`
}

type AliasResult struct {
	AliasKey           common.Hash    `json:"aliasKey"`
	NormalizedIdentity string         `json:"normalizedEmail"`
	Suffix             string         `json:"suffix"`
	RecipientAddress   common.Address `json:"recipientAddress"`
}

type IdentityRequest struct {
	Email  string  `json:"email"`
	Suffix *string `json:"suffix"`
}

type ExistsResult struct {
	Result alias.ExistsResult `json:"result"`
}

type DepositRequestBody struct {
	Email   string  `json:"email"`
	Suffix  *string `json:"suffix"`
	ChainID *uint64 `json:"chainId"`
}

type DepositRequestResult struct {
	TrackingID         uuid.UUID       `json:"trackingId"`
	AliasKey           common.Hash     `json:"aliasKey"`
	OriginChainID      string          `json:"chainId"`
	DestinationChainID string          `json:"l2ChainId"`
	OriginAddress      common.Address  `json:"l1DepositAddress"`
	DestinationAddress common.Address  `json:"l2VaultAddress"`
	RelayAddress       *common.Address `json:"l2RelayAddress,omitempty"`
	Reused             bool            `json:"reused"`
}

type RetryRequest struct {
	Suffix *string `json:"suffix"`
}

type RequestInfo struct {
	TrackingID         uuid.UUID       `json:"trackingId"`
	AliasKey           common.Hash     `json:"aliasKey"`
	RecipientAddress   common.Address  `json:"recipientAddress"`
	OriginAddress      common.Address  `json:"l1DepositAddressY"`
	DestinationAddress common.Address  `json:"l2VaultAddressX"`
	RelayAddress       *common.Address `json:"l2RelayAddress,omitempty"`
	IsActive           bool            `json:"isActive"`
	CreatedAt          *time.Time      `json:"createdAt"`
	LastActivityAt     *time.Time      `json:"lastActivityAt"`
}

type TxInfo struct {
	Hash common.Hash `json:"hash"`
	Link string      `json:"link,omitempty"`
}

type EventInfo struct {
	ID                int64           `json:"id"`
	Kind              entity.Kind     `json:"kind"`
	TokenAddress      *common.Address `json:"l1TokenAddress,omitempty"`
	Amount            string          `json:"amount"`
	Status            entity.Status   `json:"status"`
	Attempts          uint            `json:"attempts"`
	Stuck             bool            `json:"stuck"`
	Reconciled        bool            `json:"reconciled"`
	NextAttemptAt     *time.Time      `json:"nextAttemptAt,omitempty"`
	Error             string          `json:"error,omitempty"`
	LastErrorAt       *time.Time      `json:"lastErrorAt,omitempty"`
	OriginDeploy      *TxInfo         `json:"l1DeployTx,omitempty"`
	OriginSweep       *TxInfo         `json:"l1SweepTx,omitempty"`
	RelayDeploy       *TxInfo         `json:"l2RelayDeployTx,omitempty"`
	RelaySweep        *TxInfo         `json:"l2RelaySweepTx,omitempty"`
	DestinationDeploy *TxInfo         `json:"l2DeployTx,omitempty"`
	DestinationSweep  *TxInfo         `json:"l2SweepTx,omitempty"`
	CreatedAt         *time.Time      `json:"createdAt"`
	CreditedAt        *time.Time      `json:"creditedAt,omitempty"`
}

type DepositStatusResult struct {
	Request *RequestInfo `json:"request"`
	Events  []*EventInfo `json:"events"`
}
