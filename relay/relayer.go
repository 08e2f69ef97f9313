package relay

import (
	"context"
	"sync"

	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/workflow"
)

// Relayer runs the origin, destination and reconciliation loops together with the status job.
type Relayer struct {
	logger      logging.Logger
	Origin      *OriginWorker
	Destination *DestinationWorker
	Reconciler  *Reconciler
	statusJob   *StatusJob
	wg          sync.WaitGroup
}

type Ledgers struct {
	Origin      OriginLedger
	Destination DestinationLedger
	Tokens      TokenRegistry
	Params      ForwarderParamsBuilder
	// Credentials is optional.
	Credentials CredentialInvalidator
}

func NewRelayer(logger logging.Logger, cfg *config.Config, store *workflow.Store, ledgers *Ledgers) *Relayer {
	logger.Info("initializing relayer")
	destination := NewDestinationWorker(logger, cfg.Destination, store, ledgers.Destination, ledgers.Tokens, ledgers.Credentials)
	return &Relayer{
		logger:      logger,
		Origin:      NewOriginWorker(logger, cfg.Origin, store, ledgers.Origin, ledgers.Tokens, ledgers.Params),
		Destination: destination,
		Reconciler:  NewReconciler(logger, destination, cfg.Destination.ReconcileInterval),
		statusJob:   NewStatusJob(logger, store.CountByStatus),
	}
}

func (r *Relayer) Start(ctx context.Context) {
	r.logger.Info("starting relayer")
	for _, start := range []func(context.Context){
		r.Origin.Start,
		r.Destination.Start,
		r.Reconciler.Start,
		r.statusJob.Start,
	} {
		start := start
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			start(ctx)
		}()
	}
}

// Wait blocks until every loop returned after ctx cancellation.
func (r *Relayer) Wait() {
	r.wg.Wait()
}
