// Package sagalog keeps a per-attempt transition log of registration sagas
// in Redis so operators can see how far a failed attempt got and what was
// compensated.
package sagalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/onboarding/internal/service/registration"
)

const keyPrefix = "saga:"

// Journal appends entries to a Redis list per attempt.
type Journal struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a journal. Lists expire ttl after their last write.
func New(client *redis.Client, ttl time.Duration) *Journal {
	return &Journal{client: client, ttl: ttl}
}

var _ registration.Journal = (*Journal)(nil)

// Key returns the list key for an attempt.
func Key(attemptID string) string { return keyPrefix + attemptID }

// Record appends entry to the attempt's list.
func (j *Journal) Record(ctx context.Context, attemptID string, entry registration.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	key := Key(attemptID)
	pipe := j.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if j.ttl > 0 {
		pipe.Expire(ctx, key, j.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("journal %s: %w", attemptID, err)
	}
	return nil
}

// History returns an attempt's entries in the order they were recorded.
func (j *Journal) History(ctx context.Context, attemptID string) ([]registration.JournalEntry, error) {
	raw, err := j.client.LRange(ctx, Key(attemptID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", attemptID, err)
	}
	out := make([]registration.JournalEntry, 0, len(raw))
	for _, r := range raw {
		var e registration.JournalEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
