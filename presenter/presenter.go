package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/alias"
	"github.com/omni/alias-relay/auth"
	"github.com/omni/alias-relay/config"
	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/presenter/http/middleware"
	"github.com/omni/alias-relay/presenter/http/render"
	"github.com/omni/alias-relay/workflow"
)

const (
	maxBodySize      = 1 << 16
	aliasDepositsMax = 50
	shutdownTimeout  = 5 * time.Second
)

type Presenter struct {
	logger   logging.Logger
	cfg      *config.Config
	aliases  entity.AliasesRepo
	store    *workflow.Store
	verifier auth.Verifier
	root     chi.Router
}

func NewPresenter(logger logging.Logger, cfg *config.Config, aliases entity.AliasesRepo, store *workflow.Store, verifier auth.Verifier) *Presenter {
	p := &Presenter{
		logger:   logger,
		cfg:      cfg,
		aliases:  aliases,
		store:    store,
		verifier: verifier,
		root:     chi.NewMux(),
	}
	p.setupRoutes()
	return p
}

func (p *Presenter) setupRoutes() {
	throttle := 20
	if p.cfg.Resolver != nil && p.cfg.Resolver.Throttle > 0 {
		throttle = p.cfg.Resolver.Throttle
	}
	p.root.Use(chimiddleware.RequestID)
	p.root.Use(middleware.NewLoggerMiddleware(p.logger))
	p.root.Use(middleware.Recoverer)
	p.root.Use(middleware.CORS)
	p.root.Use(chimiddleware.Throttle(throttle))

	p.root.Get("/health", p.Health)
	p.root.Get("/config", p.Config)
	p.root.Get("/accepted-tokens", p.AcceptedTokens)
	p.root.Post("/alias/exists", p.AliasExists)
	p.root.Post("/deposit/request", p.RequestDeposit)
	p.root.With(middleware.GetTrackingIDMiddleware).Get("/deposit/{trackingId}", p.DepositStatus)

	p.root.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(p.verifier))
		r.Post("/alias/register", p.RegisterAlias)
		r.With(middleware.GetAliasKeyMiddleware).Get("/alias/deposits", p.AliasDeposits)
		r.With(middleware.GetEventIDMiddleware).Post("/deposit-events/{eventId:[0-9]+}/retry", p.RetryEvent)
	})
}

func (p *Presenter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.root.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is cancelled, then shuts the server down gracefully.
func (p *Presenter) Serve(ctx context.Context, addr string) error {
	p.logger.WithField("addr", addr).Info("starting resolver api")
	server := &http.Server{
		Addr:              addr,
		Handler:           p.root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("can't shutdown resolver api: %w", err)
	}
	p.logger.Info("resolver api stopped")
	return nil
}

func (p *Presenter) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, http.StatusOK, &HealthResult{OK: true})
}

func (p *Presenter) Config(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, http.StatusOK, &ConfigResult{
		OriginChainID:      p.cfg.Origin.Chain.ChainID,
		DestinationChainID: p.cfg.Destination.Chain.ChainID,
		ForwarderFactory:   p.cfg.Origin.ForwarderFactory,
		VaultFactory:       p.cfg.Destination.VaultFactory,
		Bridgehub:          p.cfg.Origin.Bridgehub,
		NativeTokenVault:   p.cfg.Origin.NativeTokenVault,
		RelayHop:           p.cfg.Destination.RelayHop,
		Tokens:             p.tokens(),
	})
}

func (p *Presenter) AcceptedTokens(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, http.StatusOK, p.tokens())
}

func (p *Presenter) tokens() []*TokenInfo {
	res := make([]*TokenInfo, len(p.cfg.Tokens))
	for i, token := range p.cfg.Tokens {
		res[i] = &TokenInfo{
			Symbol:             token.Symbol,
			OriginAddress:      token.OriginAddress,
			DestinationAddress: token.DestinationAddress,
		}
	}
	return res
}

// RegisterAlias binds the caller's verified identity, plus an optional suffix, to a recipient address.
func (p *Presenter) RegisterAlias(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.Identity(ctx)

	var body RegisterAliasRequest
	if err := decodeBody(r, &body); err != nil {
		render.Fail(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Email != "" && alias.Normalize(body.Email) != identity.Email {
		render.Fail(w, r, http.StatusForbidden, "email does not match the authenticated identity")
		return
	}
	if !common.IsHexAddress(body.RecipientAddress) || common.HexToAddress(body.RecipientAddress) == (common.Address{}) {
		render.Fail(w, r, http.StatusBadRequest, "invalid recipient address")
		return
	}
	id, err := alias.Parse(identity.Email, body.Suffix)
	if err != nil {
		render.Fail(w, r, http.StatusBadRequest, err.Error())
		return
	}

	a := &entity.Alias{
		AliasKey:           id.Key(),
		NormalizedIdentity: id.Normalized,
		Suffix:             id.Suffix,
		RecipientAddress:   common.HexToAddress(body.RecipientAddress),
	}
	if err = p.aliases.Ensure(ctx, a); err != nil {
		render.Error(w, r, fmt.Errorf("can't register alias: %w", err))
		return
	}
	logging.LoggerFromContext(ctx).WithFields(logrus.Fields{
		"alias_key": a.AliasKey,
		"recipient": a.RecipientAddress,
	}).Info("registered alias")
	render.JSON(w, r, http.StatusOK, &AliasResult{
		AliasKey:           a.AliasKey,
		NormalizedIdentity: a.NormalizedIdentity,
		Suffix:             a.Suffix,
		RecipientAddress:   a.RecipientAddress,
	})
}

// AliasExists never fails on bad input, it answers not_found instead.
func (p *Presenter) AliasExists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notFound := &ExistsResult{Result: alias.NotFound}

	var body IdentityRequest
	if err := decodeBody(r, &body); err != nil {
		render.JSON(w, r, http.StatusOK, notFound)
		return
	}
	id, err := alias.Parse(body.Email, body.Suffix)
	if err != nil {
		render.JSON(w, r, http.StatusOK, notFound)
		return
	}

	suffixProvided := id.Suffix != ""
	var hasExact, hasBase, hasSuffixed bool
	if suffixProvided {
		if hasExact, err = p.aliasExists(ctx, id.Key()); err != nil {
			render.Error(w, r, err)
			return
		}
	}
	if hasBase, err = p.aliasExists(ctx, alias.Key(id.Normalized, "")); err != nil {
		render.Error(w, r, err)
		return
	}
	if !suffixProvided && !hasBase {
		aliases, err2 := p.aliases.FindByIdentity(ctx, id.Normalized)
		if err2 != nil {
			render.Error(w, r, fmt.Errorf("can't find aliases: %w", err2))
			return
		}
		for _, a := range aliases {
			if a.Suffix != "" {
				hasSuffixed = true
				break
			}
		}
	}
	render.JSON(w, r, http.StatusOK, &ExistsResult{
		Result: alias.EvaluateExists(hasExact, hasBase, hasSuffixed, suffixProvided),
	})
}

func (p *Presenter) aliasExists(ctx context.Context, key common.Hash) (bool, error) {
	_, err := p.aliases.GetByKey(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("can't get alias: %w", err)
	}
	return true, nil
}

// RequestDeposit issues a deposit address pair for a registered alias, or returns the active one.
func (p *Presenter) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body DepositRequestBody
	if err := decodeBody(r, &body); err != nil {
		render.Fail(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.ChainID != nil && strconv.FormatUint(*body.ChainID, 10) != p.cfg.Origin.Chain.ChainID {
		render.Fail(w, r, http.StatusBadRequest, fmt.Sprintf("only chainId %s is supported", p.cfg.Origin.Chain.ChainID))
		return
	}
	id, err := alias.Parse(body.Email, body.Suffix)
	if err != nil {
		render.Fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a, err := p.aliases.GetByKey(ctx, id.Key())
	if errors.Is(err, db.ErrNotFound) {
		render.Fail(w, r, http.StatusNotFound, "alias not registered")
		return
	}
	if err != nil {
		render.Error(w, r, fmt.Errorf("can't get alias: %w", err))
		return
	}

	req, reused, err := p.store.CreateRequest(ctx, a)
	if err != nil {
		render.Error(w, r, fmt.Errorf("can't create deposit request: %w", err))
		return
	}
	render.JSON(w, r, http.StatusOK, &DepositRequestResult{
		TrackingID:         req.TrackingID,
		AliasKey:           req.AliasKey,
		OriginChainID:      p.cfg.Origin.Chain.ChainID,
		DestinationChainID: p.cfg.Destination.Chain.ChainID,
		OriginAddress:      req.OriginAddress,
		DestinationAddress: req.DestinationAddress,
		RelayAddress:       req.RelayAddress,
		Reused:             reused,
	})
}

func (p *Presenter) DepositStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := p.store.Request(ctx, middleware.TrackingID(ctx))
	if errors.Is(err, db.ErrNotFound) {
		render.Fail(w, r, http.StatusNotFound, "deposit request not found")
		return
	}
	if err != nil {
		render.Error(w, r, fmt.Errorf("can't get deposit request: %w", err))
		return
	}
	res, err := p.depositStatus(ctx, req)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, res)
}

func (p *Presenter) depositStatus(ctx context.Context, req *entity.DepositRequest) (*DepositStatusResult, error) {
	events, err := p.store.Events(ctx, req.TrackingID)
	if err != nil {
		return nil, fmt.Errorf("can't get deposit events: %w", err)
	}
	res := &DepositStatusResult{
		Request: requestToRequestInfo(req),
		Events:  make([]*EventInfo, len(events)),
	}
	for i, e := range events {
		res.Events[i] = p.eventToEventInfo(e)
	}
	return res, nil
}

// AliasDeposits lists the latest requests of an alias owned by the caller.
func (p *Presenter) AliasDeposits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := middleware.AliasKey(ctx)

	a, err := p.aliases.GetByKey(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		render.JSON(w, r, http.StatusOK, []*DepositStatusResult{})
		return
	}
	if err != nil {
		render.Error(w, r, fmt.Errorf("can't get alias: %w", err))
		return
	}
	if !owns(middleware.Identity(ctx), a) {
		render.Fail(w, r, http.StatusForbidden, "alias belongs to another identity")
		return
	}

	reqs, err := p.store.RequestsByAlias(ctx, key, aliasDepositsMax)
	if err != nil {
		render.Error(w, r, fmt.Errorf("can't get deposit requests: %w", err))
		return
	}
	res := make([]*DepositStatusResult, len(reqs))
	for i, req := range reqs {
		if res[i], err = p.depositStatus(ctx, req); err != nil {
			render.Error(w, r, err)
			return
		}
	}
	render.JSON(w, r, http.StatusOK, res)
}

// RetryEvent re-queues a stuck event. The caller's alias is its verified identity plus the optional suffix.
func (p *Presenter) RetryEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body RetryRequest
	if err := decodeBody(r, &body); err != nil {
		render.Fail(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	id, err := alias.Parse(middleware.Identity(ctx).Email, body.Suffix)
	if err != nil {
		render.Fail(w, r, http.StatusBadRequest, err.Error())
		return
	}

	event, err := p.store.RetryEvent(ctx, middleware.EventID(ctx), id.Key())
	switch {
	case errors.Is(err, db.ErrNotFound):
		render.Fail(w, r, http.StatusNotFound, "deposit event not found")
	case errors.Is(err, workflow.ErrForbidden):
		render.Fail(w, r, http.StatusForbidden, "deposit event belongs to another alias")
	case errors.Is(err, workflow.ErrNotStuck):
		render.Fail(w, r, http.StatusConflict, "deposit event is not stuck")
	case errors.Is(err, db.ErrConflict):
		render.Fail(w, r, http.StatusConflict, "deposit event was updated concurrently")
	case err != nil:
		render.Error(w, r, fmt.Errorf("can't retry deposit event: %w", err))
	default:
		render.JSON(w, r, http.StatusOK, p.eventToEventInfo(event))
	}
}

func owns(identity *auth.Identity, a *entity.Alias) bool {
	if identity == nil {
		return false
	}
	id, err := alias.Parse(identity.Email, nil)
	if err != nil {
		return false
	}
	return id.Normalized == a.NormalizedIdentity
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
