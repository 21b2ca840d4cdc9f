package sagalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/onboarding/internal/service/registration"
)

func setupJournal(t *testing.T, ttl time.Duration) (*Journal, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, ttl), mr
}

func TestJournal_RecordsInOrder(t *testing.T) {
	j, _ := setupJournal(t, time.Hour)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, "a1", registration.JournalEntry{Stage: registration.StageInitiated, At: at}))
	require.NoError(t, j.Record(ctx, "a1", registration.JournalEntry{
		Stage: registration.StageGrantsIssued, AccountID: 42,
		ResourceKeys: []string{"users/42/ground_photo", "users/42/aerial_photo"}, At: at,
	}))
	require.NoError(t, j.Record(ctx, "a2", registration.JournalEntry{Stage: registration.StageFailed, Error: "boom", At: at}))

	hist, err := j.History(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, registration.StageInitiated, hist[0].Stage)
	assert.Equal(t, int64(42), hist[1].AccountID)
	assert.Equal(t, []string{"users/42/ground_photo", "users/42/aerial_photo"}, hist[1].ResourceKeys)
	assert.True(t, at.Equal(hist[1].At))

	other, err := j.History(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "boom", other[0].Error)
}

func TestJournal_Expires(t *testing.T) {
	j, mr := setupJournal(t, time.Hour)
	require.NoError(t, j.Record(context.Background(), "a1", registration.JournalEntry{Stage: registration.StageInitiated}))

	assert.Equal(t, time.Hour, mr.TTL(Key("a1")))
	mr.FastForward(2 * time.Hour)

	hist, err := j.History(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestJournal_RedisDown(t *testing.T) {
	j, mr := setupJournal(t, time.Hour)
	mr.Close()

	err := j.Record(context.Background(), "a1", registration.JournalEntry{Stage: registration.StageInitiated})
	assert.Error(t, err)
}
