package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/deriver"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/events"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/repository"
	"github.com/omni/alias-relay/retry"
)

var (
	ErrForbidden         = errors.New("caller does not own the deposit request")
	ErrNotStuck          = errors.New("deposit event is not stuck")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const maxErrorLength = 1024

type Deriver interface {
	Derive(ctx context.Context, aliasKey, nonce common.Hash, recipient common.Address) (*deriver.Addresses, error)
}

// Store is the only writer of deposit requests and events.
type Store struct {
	logger    logging.Logger
	repo      *repository.Repo
	deriver   Deriver
	policy    *retry.Policy
	publisher events.Publisher
	lockTTL   time.Duration
	now       func() time.Time
}

func NewStore(logger logging.Logger, repo *repository.Repo, d Deriver, policy *retry.Policy, publisher events.Publisher, lockTTL time.Duration) *Store {
	return &Store{
		logger:    logger,
		repo:      repo,
		deriver:   d,
		policy:    policy,
		publisher: publisher,
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Now() time.Time {
	return s.now()
}

// CreateRequest returns the active request for the alias and its current recipient,
// creating one if there is none. The second return value reports reuse.
func (s *Store) CreateRequest(ctx context.Context, alias *entity.Alias) (*entity.DepositRequest, bool, error) {
	req, err := s.repo.DepositRequests.FindActiveByAliasAndRecipient(ctx, alias.AliasKey, alias.RecipientAddress)
	if err == nil {
		return req, true, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, err
	}

	nonce, err := deriver.NewNonce()
	if err != nil {
		return nil, false, err
	}
	addrs, err := s.deriver.Derive(ctx, alias.AliasKey, nonce, alias.RecipientAddress)
	if err != nil {
		return nil, false, fmt.Errorf("can't derive deposit addresses: %w", err)
	}
	req = &entity.DepositRequest{
		TrackingID:         uuid.New(),
		AliasKey:           alias.AliasKey,
		RecipientAddress:   alias.RecipientAddress,
		Nonce:              nonce,
		OriginAddress:      addrs.Origin,
		DestinationAddress: addrs.Destination,
		RelayAddress:       addrs.Relay,
		OriginSalt:         addrs.OriginSalt,
		DestinationSalt:    addrs.DestinationSalt,
		RelaySalt:          addrs.RelaySalt,
	}
	created, err := s.repo.DepositRequests.Create(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// lost the race against a concurrent caller
		req, err = s.repo.DepositRequests.FindActiveByAliasAndRecipient(ctx, alias.AliasKey, alias.RecipientAddress)
		if err != nil {
			return nil, false, err
		}
		return req, true, nil
	}
	s.logger.WithFields(logrus.Fields{
		"tracking_id": req.TrackingID,
		"origin":      req.OriginAddress,
		"destination": req.DestinationAddress,
	}).Info("created deposit request")
	req, err = s.repo.DepositRequests.GetByTrackingID(ctx, req.TrackingID)
	return req, false, err
}

func (s *Store) Request(ctx context.Context, id uuid.UUID) (*entity.DepositRequest, error) {
	return s.repo.DepositRequests.GetByTrackingID(ctx, id)
}

func (s *Store) RequestsByAlias(ctx context.Context, aliasKey common.Hash, limit uint64) ([]*entity.DepositRequest, error) {
	return s.repo.DepositRequests.FindByAliasKey(ctx, aliasKey, limit)
}

// ActiveRequests returns active requests, least recently touched first.
func (s *Store) ActiveRequests(ctx context.Context, limit uint64) ([]*entity.DepositRequest, error) {
	return s.repo.DepositRequests.FindActive(ctx, limit)
}

func (s *Store) TryAcquireInflight(ctx context.Context, id uuid.UUID, side entity.Side) (bool, error) {
	now := s.now()
	return s.repo.DepositRequests.TryAcquire(ctx, id, side, now, now.Add(-s.lockTTL))
}

func (s *Store) ReleaseInflight(ctx context.Context, id uuid.UUID, side entity.Side) error {
	return s.repo.DepositRequests.Release(ctx, id, side)
}

// ReleaseStale clears inflight flags older than the lock TTL and returns how many were cleared.
func (s *Store) ReleaseStale(ctx context.Context, side entity.Side, olderThan time.Duration) (int64, error) {
	return s.repo.DepositRequests.ReleaseStale(ctx, side, s.now().Add(-olderThan))
}

func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	return s.repo.DepositRequests.Touch(ctx, id, s.now())
}

func (s *Store) Events(ctx context.Context, id uuid.UUID) ([]*entity.DepositEvent, error) {
	return s.repo.DepositEvents.FindByTrackingID(ctx, id)
}

func (s *Store) Event(ctx context.Context, id int64) (*entity.DepositEvent, error) {
	return s.repo.DepositEvents.GetByID(ctx, id)
}

// OpenOriginEvent returns the event currently owned by the origin side, or db.ErrNotFound.
func (s *Store) OpenOriginEvent(ctx context.Context, id uuid.UUID) (*entity.DepositEvent, error) {
	return s.repo.DepositEvents.FindOpenOrigin(ctx, id)
}

func (s *Store) AwaitingDestination(ctx context.Context, id uuid.UUID) ([]*entity.DepositEvent, error) {
	return s.repo.DepositEvents.FindAwaitingDestination(ctx, id)
}

func (s *Store) DueDestinationEvents(ctx context.Context, limit uint64) ([]*entity.DepositEvent, error) {
	return s.repo.DepositEvents.FindDueDestination(ctx, s.now(), limit)
}

func (s *Store) CountByStatus(ctx context.Context) ([]*entity.StatusCount, error) {
	return s.repo.DepositEvents.CountByStatus(ctx)
}

// CreateEvent stores a new event in its initial status, detected unless set otherwise.
func (s *Store) CreateEvent(ctx context.Context, event *entity.DepositEvent) error {
	if event.Status == "" {
		event.Status = entity.StatusDetected
	}
	event.ResumeStatus = event.Status
	if err := s.repo.DepositEvents.Create(ctx, event); err != nil {
		return err
	}
	s.publish(ctx, event, "")
	return nil
}

// AdvanceEvent moves the event forward to status. The update is rejected if the
// stored status changed since the event was read.
func (s *Store) AdvanceEvent(ctx context.Context, event *entity.DepositEvent, status entity.Status) error {
	if status.Rank() <= event.ResumeStatus.Rank() {
		return fmt.Errorf("%s -> %s: %w", event.ResumeStatus, status, ErrInvalidTransition)
	}
	prev := event.Status
	next := *event
	next.Status = status
	next.ResumeStatus = status
	next.Attempts = 0
	next.NextAttemptAt = nil
	if err := s.repo.DepositEvents.Update(ctx, &next, prev); err != nil {
		return err
	}
	*event = next
	s.publish(ctx, event, prev)
	return nil
}

// MarkEventFailed records the failure and reschedules the event according to the retry policy.
func (s *Store) MarkEventFailed(ctx context.Context, event *entity.DepositEvent, cause error) (retry.Decision, error) {
	now := s.now()
	decision := s.policy.OnFailure(now, event.Attempts, cause)

	prev := event.Status
	next := *event
	next.Attempts = decision.Attempts
	next.LastErrorAt = &now
	next.Error = truncate(cause.Error(), maxErrorLength)
	if decision.Stuck {
		next.Status = entity.StatusStuck
		next.Stuck = true
	} else {
		next.Status = failedStatus(event.ResumeStatus)
		next.NextAttemptAt = decision.NextAttemptAt
	}
	if err := s.repo.DepositEvents.Update(ctx, &next, prev); err != nil {
		return decision, err
	}
	*event = next
	s.publish(ctx, event, prev)
	return decision, nil
}

// RetryEvent re-queues a stuck event on behalf of the owner of its request.
func (s *Store) RetryEvent(ctx context.Context, eventID int64, callerAliasKey common.Hash) (*entity.DepositEvent, error) {
	event, err := s.repo.DepositEvents.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	req, err := s.repo.DepositRequests.GetByTrackingID(ctx, event.TrackingID)
	if err != nil {
		return nil, err
	}
	if req.AliasKey != callerAliasKey {
		return nil, ErrForbidden
	}
	if !event.Stuck {
		return nil, ErrNotStuck
	}
	prev := event.Status
	event.Status = event.ResumeStatus
	event.Attempts = 0
	event.NextAttemptAt = nil
	event.Stuck = false
	if err = s.repo.DepositEvents.Update(ctx, event, prev); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"event_id":    event.ID,
		"tracking_id": event.TrackingID,
		"status":      event.Status,
	}).Info("stuck deposit event re-queued")
	s.publish(ctx, event, prev)
	return event, nil
}

// Credit marks the events credited by a single vault sweep and stores the
// optional surplus event in the same write.
func (s *Store) Credit(ctx context.Context, credited []*entity.DepositEvent, sweepTxHash *common.Hash, surplus *entity.DepositEvent) error {
	now := s.now()
	ids := make([]int64, len(credited))
	for i, event := range credited {
		ids[i] = event.ID
	}
	if surplus != nil {
		surplus.Status = entity.StatusCredited
		surplus.ResumeStatus = entity.StatusCredited
		surplus.Reconciled = true
		surplus.DestinationSweepTxHash = sweepTxHash
		surplus.CreditedAt = &now
	}
	if err := s.repo.DepositEvents.Credit(ctx, ids, sweepTxHash, surplus, now); err != nil {
		return err
	}
	for _, event := range credited {
		prev := event.Status
		event.Status = entity.StatusCredited
		event.ResumeStatus = entity.StatusCredited
		event.DestinationSweepTxHash = sweepTxHash
		event.Stuck = false
		event.NextAttemptAt = nil
		event.LastErrorAt = nil
		event.Error = ""
		event.CreditedAt = &now
		s.publish(ctx, event, prev)
	}
	if surplus != nil {
		s.publish(ctx, surplus, "")
	}
	return nil
}

func (s *Store) publish(ctx context.Context, event *entity.DepositEvent, from entity.Status) {
	EventTransitions.WithLabelValues(string(event.Status)).Inc()
	if err := s.publisher.Publish(ctx, events.NewTransition(event, from, s.now())); err != nil {
		s.logger.WithError(err).WithField("event_id", event.ID).Warn("can't publish deposit event transition")
	}
}

func failedStatus(resume entity.Status) entity.Status {
	if resume.Side() == entity.SideOrigin {
		return entity.StatusOriginFailed
	}
	return entity.StatusDestinationFailed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
