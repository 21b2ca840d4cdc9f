package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/httpretry"
)

var fastBackoff = httpretry.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}

func TestUniquenessChecker(t *testing.T) {
	store := newMemStore()
	store.seed("a@x.io", "ann")
	u := NewUniquenessChecker(store)
	ctx := context.Background()

	c, err := u.Check(ctx, "b@x.io", "bob")
	require.NoError(t, err)
	assert.False(t, c.Any())
	assert.Nil(t, c.Err())

	c, err = u.Check(ctx, "a@x.io", "ann")
	require.NoError(t, err)
	assert.True(t, c.Email && c.Username)
	assert.Equal(t, ErrDuplicateEmail, c.Err())

	c, err = u.Check(ctx, "b@x.io", "ann")
	require.NoError(t, err)
	assert.Equal(t, ErrDuplicateUsername, c.Err())

	store.findErr = errors.New("timeout")
	_, err = u.Check(ctx, "b@x.io", "bob")
	assert.Error(t, err)
}

func TestAccountWriter_MapsViolations(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&UniqueViolationError{Field: "email"}, ErrDuplicateEmail},
		{&UniqueViolationError{Field: "username"}, ErrDuplicateUsername},
		{&UniqueViolationError{}, ErrDuplicateAccount},
		{errors.New("broken pipe"), ErrPersistence},
	}
	for _, tc := range cases {
		store := newMemStore()
		store.insertErr = tc.err
		_, err := NewAccountWriter(store).Create(context.Background(), validRequest())
		assert.ErrorIs(t, err, tc.want)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageAccountCreated, se.Stage)
	}
}

func TestGrantIssuer_DeterministicKeys(t *testing.T) {
	storage := newFakeStorage()
	g := NewGrantIssuer(storage, 30*time.Minute, 3, fastBackoff, time.Second)

	pair, err := g.Issue(context.Background(), 7, map[domain.AssetSlot]string{
		domain.SlotGround: "image/png",
		domain.SlotAerial: "image/tiff",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"users/7/ground_photo", "users/7/aerial_photo"}, pair.Keys())
	assert.Equal(t, domain.SlotGround, pair.Ground.Slot)
	assert.Equal(t, "image/png", pair.Ground.ContentType)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), pair.Aerial.ExpiresAt, 5*time.Second)
}

func TestGrantIssuer_RetryReusesKey(t *testing.T) {
	storage := newFakeStorage()
	storage.failures["users/7/ground_photo"] = 1
	g := NewGrantIssuer(storage, time.Minute, 2, fastBackoff, time.Second)

	_, err := g.Issue(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"users/7/ground_photo", "users/7/aerial_photo"}, storage.issued)
	assert.Equal(t, 2, storage.calls["users/7/ground_photo"])
}

func TestGrantIssuer_StopsOnCancelledContext(t *testing.T) {
	storage := newFakeStorage()
	storage.err = errors.New("unavailable")
	g := NewGrantIssuer(storage, time.Minute, 5, httpretry.Backoff{Base: time.Second}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Issue(ctx, 7, nil)
	assert.ErrorIs(t, err, ErrGrantIssuance)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, storage.calls["users/7/ground_photo"])
}

func TestGrantIssuer_PartialFailure_RevokesIssued(t *testing.T) {
	storage := &revokingStorage{fakeStorage: newFakeStorage()}
	storage.failures["users/7/aerial_photo"] = 5
	g := NewGrantIssuer(storage, time.Minute, 2, fastBackoff, time.Second)

	_, err := g.Issue(context.Background(), 7, nil)
	assert.ErrorIs(t, err, ErrGrantIssuance)
	assert.Equal(t, []string{"users/7/ground_photo"}, storage.revoked)
}

func TestGrantIssuer_PartialFailure_RevokeErrorKeepsCause(t *testing.T) {
	storage := &revokingStorage{fakeStorage: newFakeStorage(), revokeErr: errors.New("403")}
	storage.failures["users/7/aerial_photo"] = 5
	g := NewGrantIssuer(storage, time.Minute, 1, fastBackoff, time.Second)

	_, err := g.Issue(context.Background(), 7, nil)
	assert.ErrorIs(t, err, ErrGrantIssuance)
	assert.Contains(t, err.Error(), "storage unavailable")
	assert.NotContains(t, err.Error(), "403")
}

func TestGrantIssuer_FirstSlotFailure_RevokesNothing(t *testing.T) {
	storage := &revokingStorage{fakeStorage: newFakeStorage()}
	storage.err = errors.New("unavailable")
	g := NewGrantIssuer(storage, time.Minute, 1, fastBackoff, time.Second)

	_, err := g.Issue(context.Background(), 7, nil)
	assert.ErrorIs(t, err, ErrGrantIssuance)
	assert.Empty(t, storage.revoked)
}

func TestThreadInitiator_Success(t *testing.T) {
	verifier := newFakeVerifier()
	ti := NewThreadInitiator(verifier, "asst", time.Second)

	ref, err := ti.Initiate(context.Background(), 9, "users/9/ground_photo", "users/9/aerial_photo")
	require.NoError(t, err)
	assert.Equal(t, "th_1", ref.ThreadID)
	assert.Equal(t, int64(9), ref.AssociatedAccountID)
	require.Len(t, verifier.started, 1)
	assert.Equal(t, "9", verifier.started[0].input.UserID)
}

func TestThreadInitiator_CreateFailure(t *testing.T) {
	verifier := newFakeVerifier()
	verifier.createErr = errors.New("502 bad gateway")
	ti := NewThreadInitiator(verifier, "asst", time.Second)

	_, err := ti.Initiate(context.Background(), 9, "g", "a")
	assert.ErrorIs(t, err, ErrThreadCreation)
	assert.Contains(t, err.Error(), "502 bad gateway")
	assert.Empty(t, verifier.started)
}

func TestThreadInitiator_GivesUpAfterRetry(t *testing.T) {
	verifier := newFakeVerifier()
	verifier.startErrs["th_1"] = ErrThreadBusy
	verifier.startErrs["th_2"] = ErrThreadBusy
	ti := NewThreadInitiator(verifier, "asst", time.Second)

	_, err := ti.Initiate(context.Background(), 9, "g", "a")
	assert.ErrorIs(t, err, ErrThreadCreation)
	assert.ErrorIs(t, err, ErrThreadBusy)
	assert.Equal(t, []string{"th_1", "th_2"}, verifier.created)
}

func TestThreadInitiator_CancelsRejectedThreads(t *testing.T) {
	verifier := &cancellingVerifier{fakeVerifier: newFakeVerifier()}
	verifier.runs["th_1"] = []domain.RunStatus{{RunID: "r0", Status: domain.RunInProgress}}
	ti := NewThreadInitiator(verifier, "asst", time.Second)

	ref, err := ti.Initiate(context.Background(), 9, "g", "a")
	require.NoError(t, err)
	assert.Equal(t, "th_2", ref.ThreadID)
	assert.Equal(t, []string{"th_1"}, verifier.cancelled)
}

func TestThreadInitiator_FailureCancelsEveryThread(t *testing.T) {
	verifier := &cancellingVerifier{fakeVerifier: newFakeVerifier()}
	verifier.startErrs["th_1"] = ErrThreadBusy
	verifier.startErrs["th_2"] = ErrThreadBusy
	ti := NewThreadInitiator(verifier, "asst", time.Second)

	_, err := ti.Initiate(context.Background(), 9, "g", "a")
	assert.ErrorIs(t, err, ErrThreadCreation)
	assert.ElementsMatch(t, []string{"th_1", "th_2"}, verifier.cancelled)
}

func TestThreadInitiator_CancelErrorIgnored(t *testing.T) {
	verifier := &cancellingVerifier{fakeVerifier: newFakeVerifier(), cancelErr: errors.New("gone")}
	verifier.startErrs["th_1"] = ErrThreadBusy
	ti := NewThreadInitiator(verifier, "asst", time.Second)

	ref, err := ti.Initiate(context.Background(), 9, "g", "a")
	require.NoError(t, err)
	assert.Equal(t, "th_2", ref.ThreadID)
	assert.Empty(t, verifier.cancelled)
}
