package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLock_ExclusiveUntilReleased(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	factory := NewFactory(client, nil, time.Minute)

	first := factory(RegistrationKey("A@X.com"))
	second := factory(RegistrationKey("a@x.com "))

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same normalized email must contend for one lock")

	// A non-owner release must not free the lock.
	require.NoError(t, second.Release(ctx))
	ok, _ = second.Acquire(ctx)
	assert.False(t, ok)

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "k", time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = NewRedisLock(client, "k", time.Second).Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPGAdvisoryLock_FallbackWhenNoRedis(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewLock(nil, db, RegistrationKey("a@x.com"), time.Minute)
	_, isPG := l.(*PGAdvisoryLock)
	require.True(t, isPG)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLock_NotAcquiredReleasesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	l := NewPGAdvisoryLock(db, RegistrationKey("a@x.com"))
	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
