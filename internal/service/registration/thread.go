package registration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/logger"
)

// threadAttempts is one attempt plus one retry on a fresh thread.
const threadAttempts = 2

var errNoAssistant = errors.New("no verification assistant configured")

// ThreadInitiator opens a verification thread for an account and starts the
// analysis run on it. A thread that reports busy is never reused.
type ThreadInitiator struct {
	verifier    VerificationService
	assistantID string
	stepTimeout time.Duration
}

// NewThreadInitiator creates an initiator. An empty assistantID is resolved
// through the verifier when it implements AssistantResolver.
func NewThreadInitiator(verifier VerificationService, assistantID string, stepTimeout time.Duration) *ThreadInitiator {
	return &ThreadInitiator{verifier: verifier, assistantID: assistantID, stepTimeout: stepTimeout}
}

// Initiate returns the thread the run was started on, or a THREAD_CREATED
// stage error.
func (t *ThreadInitiator) Initiate(ctx context.Context, accountID int64, groundKey, aerialKey string) (*domain.VerificationThreadRef, error) {
	assistant, err := t.assistant(ctx)
	if err != nil {
		return nil, stageErr(StageThreadCreated, ErrThreadCreation, err)
	}

	input := domain.VerificationInput{
		UserID:    strconv.FormatInt(accountID, 10),
		GroundKey: groundKey,
		AerialKey: aerialKey,
	}
	rejected := map[string]bool{}
	defer t.cancelRejected(ctx, accountID, rejected)

	var lastErr error
	for attempt := 1; attempt <= threadAttempts; attempt++ {
		threadID, err := t.attempt(ctx, assistant, input, rejected)
		if err == nil {
			return &domain.VerificationThreadRef{
				ThreadID:            threadID,
				AssociatedAccountID: accountID,
				InputKeys:           []string{groundKey, aerialKey},
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.Warn("verification thread attempt failed",
			"account_id", accountID, "attempt", attempt, "error", err)
	}
	return nil, stageErr(StageThreadCreated, ErrThreadCreation, lastErr)
}

// attempt creates a thread, swaps it for a fresh one if busy, and starts the
// run. Every thread that was busy or failed is added to rejected.
func (t *ThreadInitiator) attempt(ctx context.Context, assistant string, input domain.VerificationInput, rejected map[string]bool) (string, error) {
	threadID, err := t.freshThread(ctx, rejected)
	if err != nil {
		return "", err
	}

	callCtx, cancel := withStepTimeout(ctx, t.stepTimeout)
	runs, err := t.verifier.ListRuns(callCtx, threadID)
	cancel()
	if err != nil {
		rejected[threadID] = true
		return "", fmt.Errorf("list runs on %s: %w", threadID, err)
	}
	if domain.ThreadBusy(runs) {
		logger.Warn("verification thread busy, creating a new one", "thread_id", threadID)
		rejected[threadID] = true
		if threadID, err = t.freshThread(ctx, rejected); err != nil {
			return "", err
		}
	}

	callCtx, cancel = withStepTimeout(ctx, t.stepTimeout)
	err = t.verifier.StartRun(callCtx, threadID, assistant, input)
	cancel()
	if err != nil {
		rejected[threadID] = true
		return "", fmt.Errorf("start run on %s: %w", threadID, err)
	}
	return threadID, nil
}

// cancelRejected cancels threads opened but not used by Initiate. Failures
// are logged only; the returned thread is never in rejected.
func (t *ThreadInitiator) cancelRejected(ctx context.Context, accountID int64, rejected map[string]bool) {
	if len(rejected) == 0 {
		return
	}
	canceller, ok := t.verifier.(ThreadCanceller)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for threadID := range rejected {
		callCtx, cancel := withStepTimeout(ctx, t.stepTimeout)
		err := canceller.CancelThread(callCtx, threadID)
		cancel()
		if err != nil {
			logger.Warn("cancel rejected verification thread failed",
				"account_id", accountID, "thread_id", threadID, "error", err)
		}
	}
}

func (t *ThreadInitiator) freshThread(ctx context.Context, rejected map[string]bool) (string, error) {
	callCtx, cancel := withStepTimeout(ctx, t.stepTimeout)
	defer cancel()
	threadID, err := t.verifier.CreateThread(callCtx)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if threadID == "" {
		return "", errors.New("create thread: empty thread id")
	}
	if rejected[threadID] {
		return "", fmt.Errorf("create thread: service returned previously rejected thread %s", threadID)
	}
	return threadID, nil
}

func (t *ThreadInitiator) assistant(ctx context.Context) (string, error) {
	if t.assistantID != "" {
		return t.assistantID, nil
	}
	resolver, ok := t.verifier.(AssistantResolver)
	if !ok {
		return "", errNoAssistant
	}
	callCtx, cancel := withStepTimeout(ctx, t.stepTimeout)
	defer cancel()
	id, err := resolver.DefaultAssistant(callCtx)
	if err != nil {
		return "", fmt.Errorf("resolve assistant: %w", err)
	}
	if id == "" {
		return "", errNoAssistant
	}
	return id, nil
}
