package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/distlock"
)

// eventLog collects the order of side effects across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// memStore is an in-memory AccountStore that enforces uniqueness atomically.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.AccountRecord
	log    *eventLog

	findErr   error
	insertErr error
	updateErr error
	deleteErr error
	inserts   int
}

func newMemStore() *memStore {
	return &memStore{nextID: 41, byID: map[int64]*domain.AccountRecord{}}
}

func (m *memStore) seed(email, username string) *domain.AccountRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec := &domain.AccountRecord{ID: m.nextID, Email: email, Username: username, VerificationStatus: domain.VerificationPending}
	m.byID[rec.ID] = rec
	return rec
}

func (m *memStore) FindByEmailOrUsername(_ context.Context, email, username string) (*domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, rec := range m.byID {
		if rec.Email == email || rec.Username == username {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Insert(ctx context.Context, req domain.RegistrationRequest) (*domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, rec := range m.byID {
		if rec.Email == req.Email {
			return nil, &UniqueViolationError{Field: "email"}
		}
		if rec.Username == req.Username {
			return nil, &UniqueViolationError{Field: "username"}
		}
	}
	m.nextID++
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &domain.AccountRecord{
		ID:                 m.nextID,
		Email:              req.Email,
		Username:           req.Username,
		AvatarURL:          req.AvatarURL,
		VerificationStatus: domain.VerificationPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.byID[rec.ID] = rec
	m.log.add("insert %d", rec.ID)
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpdateVerificationThread(_ context.Context, accountID int64, threadID string) (*domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	rec, ok := m.byID[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	rec.VerificationThreadID = &threadID
	cp := *rec
	return &cp, nil
}

func (m *memStore) Delete(_ context.Context, accountID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	_, ok := m.byID[accountID]
	delete(m.byID, accountID)
	m.log.add("delete account %d", accountID)
	return ok, nil
}

func (m *memStore) get(id int64) *domain.AccountRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// fakeStorage issues grants without a revoke API.
type fakeStorage struct {
	mu       sync.Mutex
	failures map[string]int // remaining failures per key
	err      error          // permanent failure when set
	calls    map[string]int
	issued   []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{failures: map[string]int{}, calls: map[string]int{}}
}

func (s *fakeStorage) IssuePutGrant(ctx context.Context, key, contentType string, ttl time.Duration) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[key]++
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	if s.failures[key] > 0 {
		s.failures[key]--
		return "", time.Time{}, errors.New("storage unavailable")
	}
	s.issued = append(s.issued, key)
	return "https://uploads.test/" + key + "?sig=abc", time.Now().Add(ttl), nil
}

// revokingStorage adds the optional revoke API.
type revokingStorage struct {
	*fakeStorage
	log       *eventLog
	revokeErr error
	revoked   []string
}

func (s *revokingStorage) RevokePutGrant(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revokeErr != nil {
		return s.revokeErr
	}
	s.revoked = append(s.revoked, key)
	s.log.add("revoke %s", key)
	return nil
}

type startCall struct {
	threadID  string
	assistant string
	input     domain.VerificationInput
}

// fakeVerifier hands out th_1, th_2, ... and records run starts.
type fakeVerifier struct {
	mu        sync.Mutex
	next      int
	block     bool
	createErr error
	runs      map[string][]domain.RunStatus
	startErrs map[string]error
	started   []startCall
	created   []string
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{runs: map[string][]domain.RunStatus{}, startErrs: map[string]error{}}
}

func (v *fakeVerifier) CreateThread(ctx context.Context) (string, error) {
	v.mu.Lock()
	block, err := v.block, v.createErr
	v.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	id := fmt.Sprintf("th_%d", v.next)
	v.created = append(v.created, id)
	return id, nil
}

func (v *fakeVerifier) ListRuns(_ context.Context, threadID string) ([]domain.RunStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.runs[threadID], nil
}

func (v *fakeVerifier) StartRun(_ context.Context, threadID, assistant string, input domain.VerificationInput) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.startErrs[threadID]; err != nil {
		return err
	}
	v.started = append(v.started, startCall{threadID: threadID, assistant: assistant, input: input})
	v.runs[threadID] = append(v.runs[threadID], domain.RunStatus{RunID: "run_" + threadID, Status: domain.RunQueued})
	return nil
}

// cancellingVerifier adds the optional cancel API.
type cancellingVerifier struct {
	*fakeVerifier
	log       *eventLog
	cancelErr error
	cancelled []string
}

func (v *cancellingVerifier) CancelThread(_ context.Context, threadID string) error {
	if v.cancelErr != nil {
		return v.cancelErr
	}
	v.mu.Lock()
	v.cancelled = append(v.cancelled, threadID)
	v.mu.Unlock()
	v.log.add("cancel %s", threadID)
	return nil
}

// resolvingVerifier adds assistant discovery.
type resolvingVerifier struct {
	*fakeVerifier
	assistant string
}

func (v *resolvingVerifier) DefaultAssistant(context.Context) (string, error) {
	return v.assistant, nil
}

type memJournal struct {
	mu      sync.Mutex
	entries map[string][]JournalEntry
}

func newMemJournal() *memJournal {
	return &memJournal{entries: map[string][]JournalEntry{}}
}

func (j *memJournal) Record(_ context.Context, attemptID string, entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[attemptID] = append(j.entries[attemptID], entry)
	return nil
}

func (j *memJournal) stages(attemptID string) []Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Stage
	for _, e := range j.entries[attemptID] {
		out = append(out, e.Stage)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []AccountRegistered
	keys   []string
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, body.(AccountRegistered))
	return nil
}

type fakeLock struct {
	acquired bool
	err      error
	released bool
}

func (l *fakeLock) Acquire(context.Context) (bool, error) { return l.acquired, l.err }
func (l *fakeLock) Release(context.Context) error {
	l.released = true
	return nil
}

func lockFactory(l *fakeLock) distlock.Factory {
	return func(string) distlock.DistLock { return l }
}
