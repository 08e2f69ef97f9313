package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/contract"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/retry"
	"github.com/omni/alias-relay/workflow"
)

var (
	ErrVaultNotEmpty = errors.New("vault balance is not zero after sweep")
	ErrShortSweep    = errors.New("swept amount does not cover the deposit")
)

// DestinationWorker confirms bridged deposits on the destination ledger and releases them to the recipient.
type DestinationWorker struct {
	logger logging.Logger
	cfg    *config.DestinationConfig
	store  *workflow.Store
	ledger DestinationLedger
	tokens TokenRegistry
	creds  CredentialInvalidator
}

// NewDestinationWorker builds the worker. creds may be nil when the destination endpoint is not privileged.
func NewDestinationWorker(logger logging.Logger, cfg *config.DestinationConfig, store *workflow.Store, ledger DestinationLedger, tokens TokenRegistry, creds CredentialInvalidator) *DestinationWorker {
	return &DestinationWorker{
		logger: logger.WithField("worker", "destination"),
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		tokens: tokens,
		creds:  creds,
	}
}

func (w *DestinationWorker) Start(ctx context.Context) {
	runLoop(ctx, w.logger, "destination", w.cfg.PollInterval, w.Tick)
}

// Tick processes the requests owning the next batch of due destination-side events.
func (w *DestinationWorker) Tick(ctx context.Context) error {
	events, err := w.store.DueDestinationEvents(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("can't get due destination events: %w", err)
	}
	seen := make(map[uuid.UUID]bool, len(events))
	for _, event := range events {
		if seen[event.TrackingID] {
			continue
		}
		seen[event.TrackingID] = true
		if ctx.Err() != nil {
			return nil
		}
		if err = w.ProcessRequest(ctx, event.TrackingID); err != nil {
			w.logger.WithError(err).WithField("tracking_id", event.TrackingID).Error("can't process deposit request")
		}
	}
	return nil
}

func (w *DestinationWorker) ProcessRequest(ctx context.Context, id uuid.UUID) error {
	return w.withLock(ctx, id, func(req *entity.DepositRequest) error {
		awaiting, err := w.store.AwaitingDestination(ctx, id)
		if err != nil {
			return fmt.Errorf("can't get awaiting events: %w", err)
		}
		for _, event := range awaiting {
			if ctx.Err() != nil {
				return nil
			}
			// an earlier settle may have credited this event already
			event, err = w.store.Event(ctx, event.ID)
			if err != nil {
				return fmt.Errorf("can't reload deposit event: %w", err)
			}
			if !event.Due(w.store.Now()) {
				continue
			}
			w.drive(ctx, req, event)
		}
		return nil
	})
}

// withLock runs fn while holding the destination lock of the request. It is a no-op if the lock is taken.
func (w *DestinationWorker) withLock(ctx context.Context, id uuid.UUID, fn func(req *entity.DepositRequest) error) error {
	logger := w.logger.WithField("tracking_id", id)
	ok, err := w.store.TryAcquireInflight(ctx, id, entity.SideDestination)
	if err != nil {
		return fmt.Errorf("can't acquire destination lock: %w", err)
	}
	if !ok {
		logger.Debug("destination side is already in flight, skipping")
		return nil
	}
	defer func() {
		if err2 := w.store.ReleaseInflight(context.Background(), id, entity.SideDestination); err2 != nil {
			logger.WithError(err2).Error("can't release destination lock")
		}
	}()
	req, err := w.store.Request(ctx, id)
	if err != nil {
		return fmt.Errorf("can't get deposit request: %w", err)
	}
	return fn(req)
}

// drive advances the event as far as possible. A rejected session is refreshed and the step is retried once.
func (w *DestinationWorker) drive(ctx context.Context, req *entity.DepositRequest, event *entity.DepositEvent) {
	logger := w.logger.WithFields(logrus.Fields{
		"tracking_id": req.TrackingID,
		"event_id":    event.ID,
	})
	err := w.advance(ctx, logger, req, event)
	if err != nil && w.creds != nil && retry.IsAuthError(err) {
		logger.WithError(err).Warn("destination session was rejected, signing in again")
		w.creds.Invalidate()
		err = w.advance(ctx, logger, req, event)
	}
	if err == nil {
		return
	}
	decision, err2 := w.store.MarkEventFailed(ctx, event, err)
	EventFailures.WithLabelValues(string(entity.SideDestination), decision.Class.String()).Inc()
	if err2 != nil {
		logger.WithError(err2).Error("can't record destination failure")
		return
	}
	logDecision(logger, decision, err)
}

func (w *DestinationWorker) advance(ctx context.Context, logger logging.Logger, req *entity.DepositRequest, event *entity.DepositEvent) error {
	token, err := w.tokens.DestinationToken(event.TokenAddress)
	if err != nil {
		return err
	}

	if event.ResumeStatus == entity.StatusOriginSwept {
		arrived, err := w.arrived(ctx, req, token, event.AmountValue())
		if err != nil {
			return err
		}
		if !arrived {
			logger.Debug("bridged funds have not arrived yet")
			return nil
		}
		if err = w.store.AdvanceEvent(ctx, event, entity.StatusDestinationArrived); err != nil {
			return err
		}
		logger.Info("bridged funds arrived on the destination ledger")
	}

	if event.ResumeStatus == entity.StatusDestinationArrived {
		if req.RelayAddress != nil {
			if err = w.relay(ctx, logger, req, event, token); err != nil {
				return err
			}
		}
		txHash, err := w.deployVault(ctx, req.DestinationAddress, req.DestinationSalt, req.RecipientAddress)
		if err != nil {
			return fmt.Errorf("can't deploy vault: %w", err)
		}
		event.DestinationDeployTxHash = txHash
		if err = w.store.AdvanceEvent(ctx, event, entity.StatusDestinationVaultDeployed); err != nil {
			return err
		}
		logger.WithField("tx_hash", txHash).Info("destination vault is deployed")
	}

	if event.ResumeStatus == entity.StatusDestinationVaultDeployed {
		return w.settle(ctx, logger, req, event, token)
	}
	return nil
}

// arrived reports whether the arrival addresses hold at least amount of the destination asset.
func (w *DestinationWorker) arrived(ctx context.Context, req *entity.DepositRequest, token *common.Address, amount *big.Int) (bool, error) {
	balance, err := w.balance(ctx, req, token)
	if err != nil {
		return false, err
	}
	return balance.Cmp(amount) >= 0, nil
}

// balance sums the vault and relay balances of the destination asset.
func (w *DestinationWorker) balance(ctx context.Context, req *entity.DepositRequest, token *common.Address) (*big.Int, error) {
	balance, err := w.ledger.Balance(ctx, req.DestinationAddress, token)
	if err != nil {
		return nil, fmt.Errorf("can't get vault balance: %w", err)
	}
	if req.RelayAddress == nil {
		return balance, nil
	}
	relayBalance, err := w.ledger.Balance(ctx, *req.RelayAddress, token)
	if err != nil {
		return nil, fmt.Errorf("can't get relay balance: %w", err)
	}
	return new(big.Int).Add(balance, relayBalance), nil
}

// relay moves funds from the intermediate relay vault into the destination vault.
func (w *DestinationWorker) relay(ctx context.Context, logger logging.Logger, req *entity.DepositRequest, event *entity.DepositEvent, token *common.Address) error {
	txHash, err := w.deployVault(ctx, *req.RelayAddress, *req.RelaySalt, req.DestinationAddress)
	if err != nil {
		return fmt.Errorf("can't deploy relay: %w", err)
	}
	if txHash != nil {
		event.RelayDeployTxHash = txHash
		logger.WithField("tx_hash", txHash).Info("relay vault is deployed")
	}
	balance, err := w.ledger.Balance(ctx, *req.RelayAddress, token)
	if err != nil {
		return fmt.Errorf("can't get relay balance: %w", err)
	}
	if balance.Sign() == 0 {
		return nil
	}
	sweepHash, amount, err := w.ledger.SweepVault(ctx, *req.RelayAddress, token)
	if err != nil {
		return fmt.Errorf("can't sweep relay: %w", err)
	}
	event.RelaySweepTxHash = &sweepHash
	logger.WithFields(logrus.Fields{
		"tx_hash": sweepHash,
		"amount":  amount,
	}).Info("swept relay into the destination vault")
	return nil
}

// deployVault deploys the vault unless code is already present. A nil hash means no deployment was needed.
func (w *DestinationWorker) deployVault(ctx context.Context, addr common.Address, salt common.Hash, recipient common.Address) (*common.Hash, error) {
	deployed, err := w.ledger.HasCode(ctx, addr)
	if err != nil {
		return nil, err
	}
	if deployed {
		return nil, nil
	}
	txHash, err := w.ledger.DeployVault(ctx, salt, recipient)
	if err != nil && !contract.IsReverted(err) {
		return nil, err
	}
	deployed, err2 := w.ledger.HasCode(ctx, addr)
	if err2 != nil {
		return nil, err2
	}
	if !deployed {
		if err != nil {
			return nil, err
		}
		return nil, retry.Terminal(fmt.Errorf("vault %s: %w", addr, ErrNotDeployed))
	}
	if err != nil {
		return nil, nil
	}
	return &txHash, nil
}

// settle sweeps the vault to the recipient and credits every awaiting event of the same asset
// covered by the swept amount, in creation order. The remainder is recorded as a surplus event.
func (w *DestinationWorker) settle(ctx context.Context, logger logging.Logger, req *entity.DepositRequest, event *entity.DepositEvent, token *common.Address) error {
	balance, err := w.ledger.Balance(ctx, req.DestinationAddress, token)
	if err != nil {
		return fmt.Errorf("can't get vault balance: %w", err)
	}
	if balance.Sign() == 0 {
		logger.Warn("vault is already empty, crediting without a sweep")
		if err = w.store.Credit(ctx, []*entity.DepositEvent{event}, nil, nil); err != nil {
			return fmt.Errorf("can't credit deposit event: %w", err)
		}
		w.touch(ctx, logger, req)
		return nil
	}

	txHash, swept, err := w.ledger.SweepVault(ctx, req.DestinationAddress, token)
	if err != nil {
		return fmt.Errorf("can't sweep vault: %w", err)
	}
	event.DestinationSweepTxHash = &txHash
	left, err := w.ledger.Balance(ctx, req.DestinationAddress, token)
	if err != nil {
		return fmt.Errorf("can't get vault balance: %w", err)
	}
	if left.Sign() != 0 {
		return retry.Terminal(fmt.Errorf("%s left at %s: %w", left, req.DestinationAddress, ErrVaultNotEmpty))
	}

	awaiting, err := w.store.AwaitingDestination(ctx, req.TrackingID)
	if err != nil {
		return fmt.Errorf("can't get awaiting events: %w", err)
	}
	credited, remainder := allocate(event, awaiting, swept)
	if len(credited) == 0 {
		return retry.Terminal(fmt.Errorf("swept %s of %s: %w", swept, event.Amount, ErrShortSweep))
	}
	var surplus *entity.DepositEvent
	if remainder.Sign() > 0 {
		surplus = &entity.DepositEvent{
			TrackingID:   req.TrackingID,
			Kind:         event.Kind,
			TokenAddress: event.TokenAddress,
			Amount:       remainder.String(),
		}
	}
	if err = w.store.Credit(ctx, credited, &txHash, surplus); err != nil {
		return fmt.Errorf("can't credit deposit events: %w", err)
	}
	if surplus != nil {
		SurplusEvents.WithLabelValues("sweep").Inc()
	}
	logger.WithFields(logrus.Fields{
		"tx_hash":  txHash,
		"amount":   swept,
		"credited": len(credited),
		"surplus":  remainder,
	}).Info("vault is swept to the recipient")
	w.touch(ctx, logger, req)
	return nil
}

// allocate distributes the swept amount over the current event and then the other awaiting
// events of the same asset. Nothing is credited when the sweep does not cover the current event.
func allocate(current *entity.DepositEvent, awaiting []*entity.DepositEvent, swept *big.Int) ([]*entity.DepositEvent, *big.Int) {
	remainder := new(big.Int).Sub(swept, current.AmountValue())
	if remainder.Sign() < 0 {
		return nil, new(big.Int).Set(swept)
	}
	credited := []*entity.DepositEvent{current}
	for _, other := range awaiting {
		if other.ID == current.ID || other.Asset() != current.Asset() {
			continue
		}
		amount := other.AmountValue()
		if remainder.Cmp(amount) < 0 {
			continue
		}
		remainder.Sub(remainder, amount)
		credited = append(credited, other)
	}
	return credited, remainder
}

func (w *DestinationWorker) touch(ctx context.Context, logger logging.Logger, req *entity.DepositRequest) {
	if err := w.store.Touch(ctx, req.TrackingID); err != nil {
		logger.WithError(err).Warn("can't touch deposit request")
	}
}
