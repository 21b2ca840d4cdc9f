package domain

import (
	"encoding/json"
	"time"
)

// RunState is the lifecycle state of one analysis run on a verification thread.
type RunState string

const (
	RunPending     RunState = "pending"
	RunQueued      RunState = "queued"
	RunInProgress  RunState = "in_progress"
	RunRunning     RunState = "running"
	RunSuccess     RunState = "success"
	RunError       RunState = "error"
	RunTimeout     RunState = "timeout"
	RunInterrupted RunState = "interrupted"
)

// Active reports whether a run in this state still occupies its thread.
func (s RunState) Active() bool {
	switch s {
	case RunPending, RunQueued, RunInProgress, RunRunning:
		return true
	}
	return false
}

// RunStatus is one entry returned when listing a thread's runs.
type RunStatus struct {
	RunID     string    `json:"run_id"`
	Status    RunState  `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// VerificationInput is the payload handed to the analysis run.
type VerificationInput struct {
	UserID    string `json:"user_id"`
	GroundKey string `json:"ground_key"`
	AerialKey string `json:"aerial_key"`
}

// VerificationThreadRef identifies the thread tracking an account's analysis.
type VerificationThreadRef struct {
	ThreadID            string   `json:"thread_id"`
	AssociatedAccountID int64    `json:"account_id"`
	InputKeys           []string `json:"input_keys"`
}

// ThreadBusy reports whether any run in the list is still active.
func ThreadBusy(runs []RunStatus) bool {
	for _, r := range runs {
		if r.Status.Active() {
			return true
		}
	}
	return false
}

// StatusFromRuns derives the account verification status from a thread's
// runs. Active runs win; otherwise the most recent terminal run decides.
func StatusFromRuns(runs []RunStatus) VerificationStatus {
	if len(runs) == 0 {
		return VerificationPending
	}
	if ThreadBusy(runs) {
		return VerificationInReview
	}
	latest := runs[0]
	for _, r := range runs[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	switch latest.Status {
	case RunSuccess:
		return VerificationVerified
	case RunError, RunTimeout, RunInterrupted:
		return VerificationRejected
	}
	return VerificationPending
}

// VerificationResult is the analysis output stored on a thread. Status is the
// thread's own state (idle, busy), not the account's VerificationStatus.
// Values is passed through as returned by the service.
type VerificationResult struct {
	ThreadID string          `json:"thread_id"`
	Status   string          `json:"status"`
	Values   json.RawMessage `json:"values,omitempty"`
}
