package registration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/onboarding/internal/pkg/logger"
)

// UndoResult is the outcome of one compensating action.
type UndoResult string

const (
	Undone     UndoResult = "undone"
	UndoFailed UndoResult = "undo_failed"
)

// Compensation summary keys.
const (
	ResourceThread  = "thread"
	ResourceGrants  = "grants"
	ResourceAccount = "account"
)

// CompensationSummary maps an undone resource to its result. Resources whose
// undo is a no-op (no revoke or cancel API) are left out.
type CompensationSummary map[string]UndoResult

// AllUndone reports whether no compensation failed.
func (c CompensationSummary) AllUndone() bool {
	for _, r := range c {
		if r != Undone {
			return false
		}
	}
	return true
}

func (c CompensationSummary) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+string(c[k]))
	}
	return strings.Join(parts, ", ")
}

// Compensator undoes completed saga steps in reverse completion order.
// Failures are logged and summarized, never returned.
type Compensator struct {
	accounts AccountStore
	storage  StorageGateway
	verifier VerificationService
	timeout  time.Duration
}

// NewCompensator creates a compensator. timeout bounds each undo call.
func NewCompensator(accounts AccountStore, storage StorageGateway, verifier VerificationService, timeout time.Duration) *Compensator {
	return &Compensator{accounts: accounts, storage: storage, verifier: verifier, timeout: timeout}
}

// Compensate runs the undo action of every undoable step, most recent first.
// It detaches from ctx cancellation: a cancelled registration still cleans up.
func (c *Compensator) Compensate(ctx context.Context, attemptID string, steps []CompletedStep) CompensationSummary {
	ctx = context.WithoutCancel(ctx)
	summary := CompensationSummary{}

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		switch step.Stage {
		case StageThreadCreated:
			c.undoThread(ctx, attemptID, step, summary)
		case StageGrantsIssued:
			c.undoGrants(ctx, attemptID, step, summary)
		case StageAccountCreated:
			c.undoAccount(ctx, attemptID, step, summary)
		}
	}
	return summary
}

func (c *Compensator) undoThread(ctx context.Context, attemptID string, step CompletedStep, summary CompensationSummary) {
	canceller, ok := c.verifier.(ThreadCanceller)
	if !ok {
		logger.Warn("compensation: verification thread left open, no cancel API",
			"attempt_id", attemptID, "thread_id", step.ThreadID)
		return
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	if err := canceller.CancelThread(callCtx, step.ThreadID); err != nil {
		c.logFailure(attemptID, ResourceThread, err, "thread_id", step.ThreadID)
		summary[ResourceThread] = UndoFailed
		return
	}
	summary[ResourceThread] = Undone
}

func (c *Compensator) undoGrants(ctx context.Context, attemptID string, step CompletedStep, summary CompensationSummary) {
	revoker, ok := c.storage.(GrantRevoker)
	if !ok {
		logger.Info("compensation: upload grants left to expire",
			"attempt_id", attemptID, "keys", strings.Join(step.ResourceKeys, ","))
		return
	}
	result := Undone
	for _, key := range step.ResourceKeys {
		callCtx, cancel := c.callContext(ctx)
		err := revoker.RevokePutGrant(callCtx, key)
		cancel()
		if err != nil {
			c.logFailure(attemptID, ResourceGrants, err, "key", key)
			result = UndoFailed
		}
	}
	summary[ResourceGrants] = result
}

func (c *Compensator) undoAccount(ctx context.Context, attemptID string, step CompletedStep, summary CompensationSummary) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	existed, err := c.accounts.Delete(callCtx, step.AccountID)
	if err != nil {
		c.logFailure(attemptID, ResourceAccount, err, "account_id", step.AccountID)
		summary[ResourceAccount] = UndoFailed
		return
	}
	if !existed {
		logger.Warn("compensation: account already gone", "attempt_id", attemptID, "account_id", step.AccountID)
	}
	summary[ResourceAccount] = Undone
}

func (c *Compensator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Compensator) logFailure(attemptID, resource string, err error, kv ...interface{}) {
	fields := append([]interface{}{
		"attempt_id", attemptID,
		"resource", resource,
		"error", fmt.Errorf("%w: %v", ErrCompensation, err),
	}, kv...)
	logger.Error("compensation: undo failed", fields...)
}
