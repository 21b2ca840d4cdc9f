package registration

import (
	"context"
	"time"

	"github.com/ignite/onboarding/internal/domain"
)

// AccountStore is the data access contract for accounts.
// Implementations must be safe for concurrent use and must enforce email and
// username uniqueness atomically.
type AccountStore interface {
	// FindByEmailOrUsername returns any account matching either field, or
	// nil when there is none.
	FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.AccountRecord, error)

	// Insert creates the account with status pending. Returns a
	// *UniqueViolationError if the store rejects a duplicate.
	Insert(ctx context.Context, req domain.RegistrationRequest) (*domain.AccountRecord, error)

	// UpdateVerificationThread attaches the verification thread id.
	UpdateVerificationThread(ctx context.Context, accountID int64, threadID string) (*domain.AccountRecord, error)

	// Delete removes the account. Returns false if it did not exist.
	Delete(ctx context.Context, accountID int64) (bool, error)
}

// StorageGateway issues upload grants. Resource keys are chosen by the
// caller; the gateway never generates them.
type StorageGateway interface {
	IssuePutGrant(ctx context.Context, resourceKey, contentType string, ttl time.Duration) (signedURL string, expiresAt time.Time, err error)
}

// GrantRevoker is implemented by gateways that can withdraw a grant or remove
// whatever was uploaded under it. Gateways without it are compensated by
// letting grants expire.
type GrantRevoker interface {
	RevokePutGrant(ctx context.Context, resourceKey string) error
}

// VerificationService is the thread/run contract of the external analysis
// service.
type VerificationService interface {
	CreateThread(ctx context.Context) (string, error)
	ListRuns(ctx context.Context, threadID string) ([]domain.RunStatus, error)
	// StartRun returns ErrThreadBusy when the thread has an active run.
	StartRun(ctx context.Context, threadID, assistantRef string, input domain.VerificationInput) error
}

// AssistantResolver finds the assistant to run when none is configured.
type AssistantResolver interface {
	DefaultAssistant(ctx context.Context) (string, error)
}

// ThreadCanceller is implemented by verification clients that can cancel a
// thread's runs. Without it, thread compensation is log-only.
type ThreadCanceller interface {
	CancelThread(ctx context.Context, threadID string) error
}

// Journal records saga transitions for operators.
type Journal interface {
	Record(ctx context.Context, attemptID string, entry JournalEntry) error
}

// Publisher emits domain events after a registration completes.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// JournalEntry is one saga transition.
type JournalEntry struct {
	Stage        Stage     `json:"stage"`
	AccountID    int64     `json:"account_id,omitempty"`
	ResourceKeys []string  `json:"resource_keys,omitempty"`
	ThreadID     string    `json:"thread_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// AccountRegistered is published once a saga reaches COMPLETE.
type AccountRegistered struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	ThreadID  string `json:"thread_id"`
	GroundKey string `json:"ground_key"`
	AerialKey string `json:"aerial_key"`
}

// RoutingKeyAccountRegistered is the routing key for AccountRegistered.
const RoutingKeyAccountRegistered = "account.registered"
