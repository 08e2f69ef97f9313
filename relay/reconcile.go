package relay

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/logging"
)

// Reconciler compares destination balances with the amounts claimed by awaiting events and
// settles whatever no event accounts for.
type Reconciler struct {
	logger   logging.Logger
	worker   *DestinationWorker
	interval time.Duration
}

func NewReconciler(logger logging.Logger, worker *DestinationWorker, interval time.Duration) *Reconciler {
	return &Reconciler{
		logger:   logger.WithField("worker", "reconcile"),
		worker:   worker,
		interval: interval,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	runLoop(ctx, r.logger, "reconcile", r.interval, r.ReconcileAll)
}

// ReconcileAll scans every active request.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	reqs, err := r.worker.store.ActiveRequests(ctx, 0)
	if err != nil {
		return fmt.Errorf("can't get active deposit requests: %w", err)
	}
	for _, req := range reqs {
		if ctx.Err() != nil {
			return nil
		}
		if err = r.ReconcileRequest(ctx, req.TrackingID); err != nil {
			r.logger.WithError(err).WithField("tracking_id", req.TrackingID).Error("can't reconcile deposit request")
		}
	}
	return nil
}

// ReconcileRequest creates a reconciled event for each destination asset whose balance exceeds
// the claimed amount, and drives it to credited.
func (r *Reconciler) ReconcileRequest(ctx context.Context, id uuid.UUID) error {
	w := r.worker
	return w.withLock(ctx, id, func(req *entity.DepositRequest) error {
		awaiting, err := w.store.AwaitingDestination(ctx, id)
		if err != nil {
			return fmt.Errorf("can't get awaiting events: %w", err)
		}
		claimed := make(map[common.Address]*big.Int)
		for _, event := range awaiting {
			sum, ok := claimed[event.Asset()]
			if !ok {
				sum = new(big.Int)
				claimed[event.Asset()] = sum
			}
			sum.Add(sum, event.AmountValue())
		}

		assets := []*common.Address{nil}
		for _, token := range w.tokens.Tokens() {
			token := token.OriginAddress
			assets = append(assets, &token)
		}
		for _, origin := range assets {
			if err = r.reconcileAsset(ctx, req, origin, claimed); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Reconciler) reconcileAsset(ctx context.Context, req *entity.DepositRequest, origin *common.Address, claimed map[common.Address]*big.Int) error {
	w := r.worker
	token, err := w.tokens.DestinationToken(origin)
	if err != nil {
		return err
	}
	balance, err := w.balance(ctx, req, token)
	if err != nil {
		return err
	}
	surplus := new(big.Int).Set(balance)
	var asset common.Address
	if origin != nil {
		asset = *origin
	}
	if sum, ok := claimed[asset]; ok {
		surplus.Sub(surplus, sum)
	}
	if surplus.Sign() <= 0 {
		return nil
	}

	event := &entity.DepositEvent{
		TrackingID:   req.TrackingID,
		Kind:         entity.KindNative,
		TokenAddress: origin,
		Amount:       surplus.String(),
		Status:       entity.StatusDestinationArrived,
		Reconciled:   true,
	}
	if origin != nil {
		event.Kind = entity.KindToken
	}
	if err = w.store.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("can't create reconciled event: %w", err)
	}
	SurplusEvents.WithLabelValues("reconcile").Inc()
	r.logger.WithFields(logrus.Fields{
		"tracking_id": req.TrackingID,
		"event_id":    event.ID,
		"token":       origin,
		"amount":      surplus,
	}).Warn("found unclaimed destination balance")
	w.drive(ctx, req, event)
	return nil
}
