package presenter

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/entity"
)

func txLink(chain *config.ChainConfig, hash common.Hash) string {
	if chain == nil || chain.ExplorerTxURL == "" {
		return ""
	}
	if strings.Contains(chain.ExplorerTxURL, "%s") {
		return fmt.Sprintf(chain.ExplorerTxURL, hash)
	}
	return strings.TrimSuffix(chain.ExplorerTxURL, "/") + "/" + hash.String()
}

func txInfo(chain *config.ChainConfig, hash *common.Hash) *TxInfo {
	if hash == nil {
		return nil
	}
	return &TxInfo{Hash: *hash, Link: txLink(chain, *hash)}
}

func requestToRequestInfo(req *entity.DepositRequest) *RequestInfo {
	return &RequestInfo{
		TrackingID:         req.TrackingID,
		AliasKey:           req.AliasKey,
		RecipientAddress:   req.RecipientAddress,
		OriginAddress:      req.OriginAddress,
		DestinationAddress: req.DestinationAddress,
		RelayAddress:       req.RelayAddress,
		IsActive:           req.IsActive,
		CreatedAt:          req.CreatedAt,
		LastActivityAt:     req.LastActivityAt,
	}
}

func (p *Presenter) eventToEventInfo(e *entity.DepositEvent) *EventInfo {
	origin, destination := p.cfg.Origin.Chain, p.cfg.Destination.Chain
	return &EventInfo{
		ID:                e.ID,
		Kind:              e.Kind,
		TokenAddress:      e.TokenAddress,
		Amount:            e.Amount,
		Status:            e.Status,
		Attempts:          e.Attempts,
		Stuck:             e.Stuck,
		Reconciled:        e.Reconciled,
		NextAttemptAt:     e.NextAttemptAt,
		Error:             e.Error,
		LastErrorAt:       e.LastErrorAt,
		OriginDeploy:      txInfo(origin, e.OriginDeployTxHash),
		OriginSweep:       txInfo(origin, e.OriginSweepTxHash),
		RelayDeploy:       txInfo(destination, e.RelayDeployTxHash),
		RelaySweep:        txInfo(destination, e.RelaySweepTxHash),
		DestinationDeploy: txInfo(destination, e.DestinationDeployTxHash),
		DestinationSweep:  txInfo(destination, e.DestinationSweepTxHash),
		CreatedAt:         e.CreatedAt,
		CreditedAt:        e.CreditedAt,
	}
}
