package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/contract"
	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/retry"
	"github.com/omni/alias-relay/workflow"
)

var ErrNotDeployed = errors.New("no code at the derived address after deployment")

// OriginWorker detects deposits at collection addresses and bridges them to the destination ledger.
type OriginWorker struct {
	logger logging.Logger
	cfg    *config.OriginConfig
	store  *workflow.Store
	ledger OriginLedger
	tokens TokenRegistry
	params ForwarderParamsBuilder
}

func NewOriginWorker(logger logging.Logger, cfg *config.OriginConfig, store *workflow.Store, ledger OriginLedger, tokens TokenRegistry, params ForwarderParamsBuilder) *OriginWorker {
	return &OriginWorker{
		logger: logger.WithField("worker", "origin"),
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		tokens: tokens,
		params: params,
	}
}

func (w *OriginWorker) Start(ctx context.Context) {
	runLoop(ctx, w.logger, "origin", w.cfg.PollInterval, w.Tick)
}

// Tick processes one batch of active requests, least recently active first.
func (w *OriginWorker) Tick(ctx context.Context) error {
	reqs, err := w.store.ActiveRequests(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("can't get active deposit requests: %w", err)
	}
	for _, req := range reqs {
		if ctx.Err() != nil {
			return nil
		}
		if err = w.ProcessRequest(ctx, req); err != nil {
			w.logger.WithError(err).WithField("tracking_id", req.TrackingID).Error("can't process deposit request")
		}
	}
	return nil
}

func (w *OriginWorker) ProcessRequest(ctx context.Context, req *entity.DepositRequest) error {
	logger := w.logger.WithField("tracking_id", req.TrackingID)

	ok, err := w.store.TryAcquireInflight(ctx, req.TrackingID, entity.SideOrigin)
	if err != nil {
		return fmt.Errorf("can't acquire origin lock: %w", err)
	}
	if !ok {
		logger.Debug("origin side is already in flight, skipping")
		return nil
	}
	defer func() {
		if err2 := w.store.ReleaseInflight(context.Background(), req.TrackingID, entity.SideOrigin); err2 != nil {
			logger.WithError(err2).Error("can't release origin lock")
		}
	}()

	event, err := w.store.OpenOriginEvent(ctx, req.TrackingID)
	switch {
	case err == nil:
		if event.Stuck {
			logger.WithField("event_id", event.ID).Debug("origin event is stuck, skipping")
			return nil
		}
		if !event.Due(w.store.Now()) {
			return nil
		}
	case errors.Is(err, db.ErrNotFound):
		event, err = w.detect(ctx, req)
		if err != nil || event == nil {
			return err
		}
	default:
		return fmt.Errorf("can't get open origin event: %w", err)
	}

	logger = logger.WithField("event_id", event.ID)
	if err = w.advance(ctx, logger, req, event); err != nil {
		w.fail(ctx, logger, event, err)
	}
	return nil
}

// detect creates a detected event for the first non-zero balance at the collection address,
// native coin first, then allow-listed tokens in configuration order.
func (w *OriginWorker) detect(ctx context.Context, req *entity.DepositRequest) (*entity.DepositEvent, error) {
	event, err := w.findDeposit(ctx, req)
	if err != nil || event == nil {
		return nil, err
	}
	err = w.store.CreateEvent(ctx, event)
	if errors.Is(err, db.ErrConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't create deposit event: %w", err)
	}
	w.logger.WithFields(logrus.Fields{
		"tracking_id": req.TrackingID,
		"event_id":    event.ID,
		"kind":        event.Kind,
		"token":       event.TokenAddress,
		"amount":      event.Amount,
	}).Info("detected deposit")
	return event, nil
}

func (w *OriginWorker) findDeposit(ctx context.Context, req *entity.DepositRequest) (*entity.DepositEvent, error) {
	balance, err := w.ledger.Balance(ctx, req.OriginAddress, nil)
	if err != nil {
		return nil, fmt.Errorf("can't get native balance: %w", err)
	}
	if balance.Sign() > 0 {
		return &entity.DepositEvent{
			TrackingID: req.TrackingID,
			Kind:       entity.KindNative,
			Amount:     balance.String(),
		}, nil
	}
	for _, token := range w.tokens.Tokens() {
		token := token.OriginAddress
		balance, err = w.ledger.Balance(ctx, req.OriginAddress, &token)
		if err != nil {
			return nil, fmt.Errorf("can't get %s balance: %w", token, err)
		}
		if balance.Sign() > 0 {
			return &entity.DepositEvent{
				TrackingID:   req.TrackingID,
				Kind:         entity.KindToken,
				TokenAddress: &token,
				Amount:       balance.String(),
			}, nil
		}
	}
	return nil, nil
}

func (w *OriginWorker) advance(ctx context.Context, logger logging.Logger, req *entity.DepositRequest, event *entity.DepositEvent) error {
	if event.ResumeStatus == entity.StatusDetected {
		txHash, err := w.deployForwarder(ctx, req)
		if err != nil {
			return err
		}
		event.OriginDeployTxHash = txHash
		if err = w.store.AdvanceEvent(ctx, event, entity.StatusOriginForwarderDeployed); err != nil {
			return err
		}
		logger.WithField("tx_hash", txHash).Info("origin forwarder is deployed")
	}

	amount := event.AmountValue()
	balance, err := w.ledger.Balance(ctx, req.OriginAddress, event.TokenAddress)
	if err != nil {
		return fmt.Errorf("can't get balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		// funds leave the collection address only through the forwarder, so the sweep was
		// mined before it could be recorded; the destination arrival check confirms it
		logger.WithFields(logrus.Fields{
			"balance": balance,
			"amount":  amount,
		}).Warn("origin balance is below the detected amount, assuming an unrecorded sweep")
		return w.markSwept(ctx, logger, req, event, nil)
	}

	txHash, err := w.sweep(ctx, logger, req, event, amount)
	if err != nil {
		return err
	}
	if err = w.markSwept(ctx, logger, req, event, &txHash); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"tx_hash": txHash,
		"amount":  amount,
	}).Info("swept origin deposit into the bridge")
	return nil
}

func (w *OriginWorker) markSwept(ctx context.Context, logger logging.Logger, req *entity.DepositRequest, event *entity.DepositEvent, txHash *common.Hash) error {
	event.OriginSweepTxHash = txHash
	if err := w.store.AdvanceEvent(ctx, event, entity.StatusOriginSwept); err != nil {
		return err
	}
	if err := w.store.Touch(ctx, req.TrackingID); err != nil {
		logger.WithError(err).Warn("can't touch deposit request")
	}
	return nil
}

// deployForwarder deploys the forwarder unless code is already present. A nil hash means no deployment was needed.
func (w *OriginWorker) deployForwarder(ctx context.Context, req *entity.DepositRequest) (*common.Hash, error) {
	deployed, err := w.ledger.HasCode(ctx, req.OriginAddress)
	if err != nil {
		return nil, err
	}
	if deployed {
		return nil, nil
	}
	params := w.params.ForwarderParams(req.ArrivalAddress(), req.RecipientAddress)
	txHash, err := w.ledger.DeployForwarder(ctx, req.OriginSalt, params)
	if err != nil && !contract.IsReverted(err) {
		return nil, fmt.Errorf("can't deploy forwarder: %w", err)
	}
	deployed, err2 := w.ledger.HasCode(ctx, req.OriginAddress)
	if err2 != nil {
		return nil, err2
	}
	if !deployed {
		if err != nil {
			return nil, fmt.Errorf("can't deploy forwarder: %w", err)
		}
		return nil, retry.Terminal(fmt.Errorf("forwarder %s: %w", req.OriginAddress, ErrNotDeployed))
	}
	if err != nil {
		// deployed concurrently by someone else
		return nil, nil
	}
	return &txHash, nil
}

// sweep bridges amount, doubling the mint stipend after each reverted attempt.
func (w *OriginWorker) sweep(ctx context.Context, logger logging.Logger, req *entity.DepositRequest, event *entity.DepositEvent, amount *big.Int) (common.Hash, error) {
	fee := w.cfg.Native
	var assetID common.Hash
	if event.TokenAddress != nil {
		fee = w.cfg.Token
		var err error
		if assetID, err = w.tokens.AssetID(ctx, *event.TokenAddress); err != nil {
			return common.Hash{}, fmt.Errorf("can't resolve asset id: %w", err)
		}
	}

	mint := new(big.Int).Set(fee.MintValue)
	for attempt := uint(1); ; attempt++ {
		var txHash common.Hash
		var err error
		if event.TokenAddress == nil {
			txHash, err = w.ledger.SweepNative(ctx, req.OriginAddress, mint, amount, fee.L2GasLimit, w.cfg.GasPerPubdata)
		} else {
			txHash, err = w.ledger.SweepToken(ctx, req.OriginAddress, *event.TokenAddress, amount, assetID, mint, fee.L2GasLimit, w.cfg.GasPerPubdata)
		}
		if err == nil {
			return txHash, nil
		}
		if !contract.IsReverted(err) || attempt >= w.cfg.SweepAttempts {
			return common.Hash{}, fmt.Errorf("can't sweep forwarder: %w", err)
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"mint":    mint,
		}).Warn("sweep reverted, retrying with a doubled mint value")
		mint = new(big.Int).Lsh(mint, 1)
	}
}

func (w *OriginWorker) fail(ctx context.Context, logger logging.Logger, event *entity.DepositEvent, cause error) {
	decision, err := w.store.MarkEventFailed(ctx, event, cause)
	EventFailures.WithLabelValues(string(entity.SideOrigin), decision.Class.String()).Inc()
	if err != nil {
		logger.WithError(err).Error("can't record origin failure")
		return
	}
	logDecision(logger, decision, cause)
}

func logDecision(logger logging.Logger, decision retry.Decision, cause error) {
	logger = logger.WithError(cause).WithFields(logrus.Fields{
		"class":    decision.Class,
		"attempts": decision.Attempts,
	})
	if decision.Stuck {
		logger.Error("deposit event is stuck")
		return
	}
	logger.WithField("next_attempt_at", decision.NextAttemptAt).Warn("deposit event step failed, will retry")
}
