package registration

import (
	"fmt"
	"time"
)

// Stage is a SagaState position.
type Stage string

const (
	StageInitiated      Stage = "INITIATED"
	StageAccountCreated Stage = "ACCOUNT_CREATED"
	StageGrantsIssued   Stage = "GRANTS_ISSUED"
	StageThreadCreated  Stage = "THREAD_CREATED"
	StageComplete       Stage = "COMPLETE"
	StageCompensating   Stage = "COMPENSATING"
	StageFailed         Stage = "FAILED"
)

// forwardOrder ranks the stages a successful saga passes through.
var forwardOrder = map[Stage]int{
	StageInitiated:      0,
	StageAccountCreated: 1,
	StageGrantsIssued:   2,
	StageThreadCreated:  3,
	StageComplete:       4,
}

// Undoable reports whether a completed stage has a compensating action.
func (s Stage) Undoable() bool {
	switch s {
	case StageAccountCreated, StageGrantsIssued, StageThreadCreated:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// CompletedStep records a confirmed stage with the identifiers needed to undo it.
type CompletedStep struct {
	Stage        Stage
	AccountID    int64
	ResourceKeys []string
	ThreadID     string
	At           time.Time
}

// SagaState is the control structure for one registration attempt. It is
// owned by a single Register call and never shared across goroutines.
type SagaState struct {
	AttemptID          string
	Stage              Stage
	AccountID          int64
	IssuedResourceKeys []string
	ThreadID           string

	completed []CompletedStep
	now       func() time.Time
}

func newSagaState(attemptID string, now func() time.Time) *SagaState {
	if now == nil {
		now = time.Now
	}
	return &SagaState{AttemptID: attemptID, Stage: StageInitiated, now: now}
}

// advance moves to the next forward stage after its step succeeded.
func (s *SagaState) advance(step CompletedStep) error {
	cur, ok := forwardOrder[s.Stage]
	if !ok {
		return fmt.Errorf("saga %s: cannot advance from %s", s.AttemptID, s.Stage)
	}
	next, ok := forwardOrder[step.Stage]
	if !ok || next != cur+1 {
		return fmt.Errorf("saga %s: invalid transition %s -> %s", s.AttemptID, s.Stage, step.Stage)
	}

	step.At = s.now()
	switch step.Stage {
	case StageAccountCreated:
		s.AccountID = step.AccountID
	case StageGrantsIssued:
		s.IssuedResourceKeys = append([]string(nil), step.ResourceKeys...)
	case StageThreadCreated:
		s.ThreadID = step.ThreadID
	}
	s.Stage = step.Stage
	s.completed = append(s.completed, step)
	return nil
}

// beginCompensation is only legal once an account exists and before the
// saga finished.
func (s *SagaState) beginCompensation() error {
	rank, ok := forwardOrder[s.Stage]
	if !ok || rank < forwardOrder[StageAccountCreated] || s.Stage == StageComplete {
		return fmt.Errorf("saga %s: cannot compensate from %s", s.AttemptID, s.Stage)
	}
	s.Stage = StageCompensating
	return nil
}

// fail ends the saga. Legal before any mutation or after compensation ran.
func (s *SagaState) fail() error {
	if s.Stage != StageInitiated && s.Stage != StageCompensating {
		return fmt.Errorf("saga %s: cannot fail from %s", s.AttemptID, s.Stage)
	}
	s.Stage = StageFailed
	return nil
}

// LastCompleted is the furthest confirmed forward stage.
func (s *SagaState) LastCompleted() Stage {
	if len(s.completed) == 0 {
		return StageInitiated
	}
	return s.completed[len(s.completed)-1].Stage
}

// Completed returns the confirmed steps in completion order.
func (s *SagaState) Completed() []CompletedStep {
	return append([]CompletedStep(nil), s.completed...)
}
