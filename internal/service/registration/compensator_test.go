package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompensator_SkipsUnsupportedUndo(t *testing.T) {
	store := newMemStore()
	acct := store.seed("a@x.io", "ann")
	c := NewCompensator(store, newFakeStorage(), newFakeVerifier(), 0)

	summary := c.Compensate(context.Background(), "a1", []CompletedStep{
		{Stage: StageAccountCreated, AccountID: acct.ID},
		{Stage: StageGrantsIssued, ResourceKeys: []string{"k1", "k2"}},
		{Stage: StageThreadCreated, ThreadID: "th_9"},
	})

	assert.Equal(t, CompensationSummary{ResourceAccount: Undone}, summary)
	assert.Zero(t, store.count())
}

func TestCompensator_AlreadyDeletedCountsAsUndone(t *testing.T) {
	c := NewCompensator(newMemStore(), newFakeStorage(), newFakeVerifier(), 0)

	summary := c.Compensate(context.Background(), "a1", []CompletedStep{{Stage: StageAccountCreated, AccountID: 404}})
	assert.Equal(t, CompensationSummary{ResourceAccount: Undone}, summary)
}

func TestCompensator_ContinuesPastFailures(t *testing.T) {
	log := &eventLog{}
	store := newMemStore()
	store.log = log
	acct := store.seed("a@x.io", "ann")
	storage := &revokingStorage{fakeStorage: newFakeStorage(), log: log, revokeErr: errors.New("403")}
	verifier := &cancellingVerifier{fakeVerifier: newFakeVerifier(), log: log, cancelErr: errors.New("gone")}
	c := NewCompensator(store, storage, verifier, 0)

	summary := c.Compensate(context.Background(), "a1", []CompletedStep{
		{Stage: StageAccountCreated, AccountID: acct.ID},
		{Stage: StageGrantsIssued, ResourceKeys: []string{"k1"}},
		{Stage: StageThreadCreated, ThreadID: "th_9"},
	})

	assert.Equal(t, CompensationSummary{
		ResourceThread:  UndoFailed,
		ResourceGrants:  UndoFailed,
		ResourceAccount: Undone,
	}, summary)
	assert.False(t, summary.AllUndone())
	assert.Equal(t, "account=undone, grants=undo_failed, thread=undo_failed", summary.String())
	assert.Equal(t, []string{"delete account 42"}, log.all())
}

func TestCompensator_IgnoresCancelledContext(t *testing.T) {
	store := newMemStore()
	acct := store.seed("a@x.io", "ann")
	c := NewCompensator(store, newFakeStorage(), newFakeVerifier(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := c.Compensate(ctx, "a1", []CompletedStep{{Stage: StageAccountCreated, AccountID: acct.ID}})

	assert.Equal(t, CompensationSummary{ResourceAccount: Undone}, summary)
	assert.Zero(t, store.count())
}

func TestCompensationSummary_Empty(t *testing.T) {
	var s CompensationSummary
	assert.True(t, s.AllUndone())
	assert.Equal(t, "", s.String())
}
