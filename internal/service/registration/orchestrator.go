package registration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/distlock"
	"github.com/ignite/onboarding/internal/pkg/httpretry"
	"github.com/ignite/onboarding/internal/pkg/logger"
)

// Config tunes the saga.
type Config struct {
	GrantTTL         time.Duration
	StepTimeout      time.Duration
	GrantMaxAttempts int
	GrantBackoff     time.Duration
	AssistantID      string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GrantTTL:         2 * time.Hour,
		StepTimeout:      15 * time.Second,
		GrantMaxAttempts: 3,
		GrantBackoff:     200 * time.Millisecond,
	}
}

// Result is the successful form of a registration outcome.
type Result struct {
	AttemptID   string                       `json:"attempt_id"`
	Account     *domain.AccountRecord        `json:"account"`
	GroundGrant domain.UploadGrant           `json:"ground_grant"`
	AerialGrant domain.UploadGrant           `json:"aerial_grant"`
	Thread      domain.VerificationThreadRef `json:"thread"`
}

// Orchestrator sequences a registration. Register may be called
// concurrently for different requests; each call owns its SagaState.
type Orchestrator struct {
	accounts    AccountStore
	uniqueness  *UniquenessChecker
	writer      *AccountWriter
	grants      *GrantIssuer
	threads     *ThreadInitiator
	compensator *Compensator
	stepTimeout time.Duration

	journal   Journal
	publisher Publisher
	locks     distlock.Factory
	newID     func() string
	now       func() time.Time
}

// NewOrchestrator wires the saga steps over the three collaborators.
func NewOrchestrator(accounts AccountStore, storage StorageGateway, verifier VerificationService, cfg Config) *Orchestrator {
	backoff := httpretry.Backoff{Base: cfg.GrantBackoff, Max: 8 * cfg.GrantBackoff, Min: cfg.GrantBackoff / 4}
	return &Orchestrator{
		accounts:    accounts,
		uniqueness:  NewUniquenessChecker(accounts),
		writer:      NewAccountWriter(accounts),
		grants:      NewGrantIssuer(storage, cfg.GrantTTL, cfg.GrantMaxAttempts, backoff, cfg.StepTimeout),
		threads:     NewThreadInitiator(verifier, cfg.AssistantID, cfg.StepTimeout),
		compensator: NewCompensator(accounts, storage, verifier, cfg.StepTimeout),
		stepTimeout: cfg.StepTimeout,
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// SetJournal records saga transitions to j.
func (o *Orchestrator) SetJournal(j Journal) { o.journal = j }

// SetPublisher emits AccountRegistered events to p.
func (o *Orchestrator) SetPublisher(p Publisher) { o.publisher = p }

// SetLockFactory serializes attempts for the same email.
func (o *Orchestrator) SetLockFactory(f distlock.Factory) { o.locks = f }

// Register runs one registration attempt. On failure the error is a
// *FailureError naming the failed stage, its cause, and what compensation did.
//
// Register is safe to retry after a failure. It is not safe to call twice
// concurrently for the same email, which the lock factory enforces when set.
func (o *Orchestrator) Register(ctx context.Context, req domain.RegistrationRequest) (*Result, error) {
	req = req.Normalize()
	state := newSagaState(o.newID(), o.now)

	if err := req.Validate(); err != nil {
		return nil, o.failEarly(ctx, state, StageInitiated, stageErr(StageInitiated, ErrInvalidRequest, err), false)
	}

	if o.locks != nil {
		lock := o.locks(distlock.RegistrationKey(req.Email))
		acquired, err := lock.Acquire(ctx)
		switch {
		case err != nil:
			logger.Warn("registration lock unavailable, relying on store constraints",
				"attempt_id", state.AttemptID, "error", err)
		case !acquired:
			return nil, o.failEarly(ctx, state, StageInitiated, stageErr(StageInitiated, ErrRegistrationInProgress, nil), true)
		default:
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("registration lock release failed", "attempt_id", state.AttemptID, "error", err)
				}
			}()
		}
	}

	logger.Info("registration started", "attempt_id", state.AttemptID, "email", req.Email, "username", req.Username)
	o.record(ctx, state, nil)

	// INITIATED: fail fast on collisions. No mutation has happened.
	callCtx, cancel := withStepTimeout(ctx, o.stepTimeout)
	collision, err := o.uniqueness.Check(callCtx, req.Email, req.Username)
	cancel()
	if err != nil {
		return nil, o.failEarly(ctx, state, StageInitiated, stageErr(StageInitiated, ErrPersistence, err), true)
	}
	if collision.Any() {
		return nil, o.failEarly(ctx, state, StageInitiated, stageErr(StageInitiated, collision.Err(), nil), false)
	}

	// ACCOUNT_CREATED: first durable side effect.
	callCtx, cancel = withStepTimeout(ctx, o.stepTimeout)
	account, err := o.writer.Create(callCtx, req)
	cancel()
	if err != nil {
		return nil, o.failEarly(ctx, state, StageAccountCreated, err, !errors.Is(err, ErrDuplicateAccount))
	}
	if err := o.advance(ctx, state, CompletedStep{Stage: StageAccountCreated, AccountID: account.ID}); err != nil {
		return nil, o.abort(ctx, state, StageGrantsIssued, err)
	}

	// GRANTS_ISSUED
	pair, err := o.grants.Issue(ctx, account.ID, map[domain.AssetSlot]string{
		domain.SlotGround: req.ContentType(domain.SlotGround),
		domain.SlotAerial: req.ContentType(domain.SlotAerial),
	})
	if err != nil {
		return nil, o.abort(ctx, state, StageGrantsIssued, err)
	}
	if err := o.advance(ctx, state, CompletedStep{Stage: StageGrantsIssued, AccountID: account.ID, ResourceKeys: pair.Keys()}); err != nil {
		return nil, o.abort(ctx, state, StageThreadCreated, err)
	}

	// THREAD_CREATED
	thread, err := o.threads.Initiate(ctx, account.ID, pair.Ground.ResourceKey, pair.Aerial.ResourceKey)
	if err != nil {
		return nil, o.abort(ctx, state, StageThreadCreated, err)
	}
	if err := o.advance(ctx, state, CompletedStep{Stage: StageThreadCreated, AccountID: account.ID, ThreadID: thread.ThreadID}); err != nil {
		return nil, o.abort(ctx, state, StageComplete, err)
	}

	// COMPLETE: the thread id only lands on the account after the thread exists.
	callCtx, cancel = withStepTimeout(ctx, o.stepTimeout)
	updated, err := o.accounts.UpdateVerificationThread(callCtx, account.ID, thread.ThreadID)
	cancel()
	if err != nil {
		return nil, o.abort(ctx, state, StageComplete, stageErr(StageComplete, ErrPersistence, err))
	}
	if err := o.advance(ctx, state, CompletedStep{Stage: StageComplete, AccountID: account.ID, ThreadID: thread.ThreadID}); err != nil {
		return nil, o.abort(ctx, state, StageComplete, err)
	}

	logger.Info("registration complete",
		"attempt_id", state.AttemptID, "account_id", updated.ID, "thread_id", thread.ThreadID)
	o.publish(ctx, state, updated, pair)

	return &Result{
		AttemptID:   state.AttemptID,
		Account:     updated,
		GroundGrant: pair.Ground,
		AerialGrant: pair.Aerial,
		Thread:      *thread,
	}, nil
}

func (o *Orchestrator) advance(ctx context.Context, state *SagaState, step CompletedStep) error {
	if err := state.advance(step); err != nil {
		return err
	}
	logger.Info("saga advanced", "attempt_id", state.AttemptID, "stage", state.Stage, "account_id", state.AccountID)
	o.record(ctx, state, nil)
	return nil
}

// failEarly ends a saga that has nothing to compensate.
func (o *Orchestrator) failEarly(ctx context.Context, state *SagaState, stage Stage, cause error, retryable bool) error {
	if err := state.fail(); err != nil {
		logger.Error("saga state violation", "attempt_id", state.AttemptID, "error", err)
	}
	logger.Warn("registration rejected",
		"attempt_id", state.AttemptID, "stage", stage, "error", cause)
	o.record(ctx, state, cause)
	return &FailureError{
		AttemptID:     state.AttemptID,
		Stage:         stage,
		LastCompleted: state.LastCompleted(),
		Cause:         cause,
		Retryable:     retryable,
	}
}

// abort compensates every completed step and ends the saga in FAILED. The
// returned error keeps cause as its primary error.
func (o *Orchestrator) abort(ctx context.Context, state *SagaState, stage Stage, cause error) error {
	last := state.LastCompleted()
	if err := state.beginCompensation(); err != nil {
		logger.Error("saga state violation", "attempt_id", state.AttemptID, "error", err)
	}
	logger.Warn("registration step failed, compensating",
		"attempt_id", state.AttemptID, "stage", stage, "account_id", state.AccountID, "error", cause)
	o.record(ctx, state, cause)

	summary := o.compensator.Compensate(ctx, state.AttemptID, state.Completed())

	if err := state.fail(); err != nil {
		logger.Error("saga state violation", "attempt_id", state.AttemptID, "error", err)
	}
	o.record(ctx, state, cause)
	if !summary.AllUndone() {
		logger.Error("registration cleanup incomplete, manual reconciliation required",
			"attempt_id", state.AttemptID, "account_id", state.AccountID, "compensation", summary.String())
	}

	return &FailureError{
		AttemptID:     state.AttemptID,
		Stage:         stage,
		LastCompleted: last,
		AccountID:     state.AccountID,
		Cause:         cause,
		Compensation:  summary,
		Retryable:     summary.AllUndone(),
	}
}

func (o *Orchestrator) record(ctx context.Context, state *SagaState, cause error) {
	if o.journal == nil {
		return
	}
	entry := JournalEntry{
		Stage:        state.Stage,
		AccountID:    state.AccountID,
		ResourceKeys: state.IssuedResourceKeys,
		ThreadID:     state.ThreadID,
		At:           o.now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := o.journal.Record(context.WithoutCancel(ctx), state.AttemptID, entry); err != nil {
		logger.Warn("saga journal write failed", "attempt_id", state.AttemptID, "stage", state.Stage, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, state *SagaState, account *domain.AccountRecord, pair GrantPair) {
	if o.publisher == nil {
		return
	}
	evt := AccountRegistered{
		AccountID: account.ID,
		Email:     account.Email,
		Username:  account.Username,
		ThreadID:  account.ThreadID(),
		GroundKey: pair.Ground.ResourceKey,
		AerialKey: pair.Aerial.ResourceKey,
	}
	if err := o.publisher.Publish(context.WithoutCancel(ctx), RoutingKeyAccountRegistered, evt); err != nil {
		logger.Warn("account registered event not published",
			"attempt_id", state.AttemptID, "account_id", account.ID, "error", err)
	}
}
