package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestSagaState_ForwardOnly(t *testing.T) {
	s := newSagaState("a1", fixedClock())
	assert.Equal(t, StageInitiated, s.Stage)

	require.NoError(t, s.advance(CompletedStep{Stage: StageAccountCreated, AccountID: 7}))
	assert.Error(t, s.advance(CompletedStep{Stage: StageThreadCreated, ThreadID: "th"}), "skipping a stage")
	assert.Error(t, s.advance(CompletedStep{Stage: StageAccountCreated}), "repeating a stage")
	assert.Error(t, s.advance(CompletedStep{Stage: StageInitiated}), "moving backwards")

	require.NoError(t, s.advance(CompletedStep{Stage: StageGrantsIssued, ResourceKeys: []string{"k1", "k2"}}))
	require.NoError(t, s.advance(CompletedStep{Stage: StageThreadCreated, ThreadID: "th"}))
	require.NoError(t, s.advance(CompletedStep{Stage: StageComplete}))

	assert.Equal(t, int64(7), s.AccountID)
	assert.Equal(t, []string{"k1", "k2"}, s.IssuedResourceKeys)
	assert.Equal(t, "th", s.ThreadID)
	assert.True(t, s.Stage.Terminal())
	assert.Error(t, s.beginCompensation(), "complete sagas are never compensated")
	assert.Error(t, s.fail())
}

func TestSagaState_CompensationPath(t *testing.T) {
	s := newSagaState("a1", fixedClock())
	assert.Error(t, s.beginCompensation(), "nothing to compensate before an account exists")

	require.NoError(t, s.advance(CompletedStep{Stage: StageAccountCreated, AccountID: 7}))
	assert.Error(t, s.fail(), "mutations must be compensated before failing")
	require.NoError(t, s.beginCompensation())
	assert.Error(t, s.advance(CompletedStep{Stage: StageGrantsIssued}))
	require.NoError(t, s.fail())
	assert.Equal(t, StageFailed, s.Stage)
	assert.Equal(t, StageAccountCreated, s.LastCompleted())
}

func TestSagaState_CompletedIsACopy(t *testing.T) {
	s := newSagaState("a1", fixedClock())
	require.NoError(t, s.advance(CompletedStep{Stage: StageAccountCreated, AccountID: 7}))

	steps := s.Completed()
	require.Len(t, steps, 1)
	assert.Equal(t, fixedClock()(), steps[0].At)
	steps[0].AccountID = 99
	assert.Equal(t, int64(7), s.Completed()[0].AccountID)
}

func TestStage_Undoable(t *testing.T) {
	assert.True(t, StageAccountCreated.Undoable())
	assert.True(t, StageGrantsIssued.Undoable())
	assert.True(t, StageThreadCreated.Undoable())
	assert.False(t, StageInitiated.Undoable())
	assert.False(t, StageComplete.Undoable())
}

func TestFailureError_Reason(t *testing.T) {
	cases := []struct {
		name  string
		cause error
		want  string
	}{
		{"timeout", stageErr(StageThreadCreated, ErrThreadCreation, context.DeadlineExceeded), "timeout"},
		{"cancelled", stageErr(StageGrantsIssued, ErrGrantIssuance, context.Canceled), "cancelled"},
		{"inner cause", stageErr(StageAccountCreated, ErrPersistence, errors.New("disk full")), "disk full"},
		{"kind only", stageErr(StageInitiated, ErrDuplicateEmail, nil), ErrDuplicateEmail.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fe := &FailureError{Stage: StageInitiated, Cause: tc.cause}
			assert.Equal(t, tc.want, fe.Reason())
		})
	}
}

func TestStageError_Unwrap(t *testing.T) {
	err := stageErr(StageThreadCreated, ErrThreadCreation, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrThreadCreation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "THREAD_CREATED: thread creation error: context deadline exceeded", err.Error())

	bare := stageErr(StageInitiated, ErrDuplicateUsername, nil)
	assert.Equal(t, "INITIATED: duplicate account: username already taken", bare.Error())
	assert.ErrorIs(t, bare, ErrDuplicateAccount)
}
