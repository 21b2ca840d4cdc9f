package accounts

import (
	"context"

	"github.com/ignite/onboarding/internal/domain"
)

// Repository defines the data access contract for registered accounts.
type Repository interface {
	// GetByID returns ErrNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id int64) (*domain.AccountRecord, error)

	// List returns accounts matching the filter and the unpaginated total.
	List(ctx context.Context, filter ListFilter) ([]domain.AccountRecord, int, error)

	// RecordUploads sets the photo keys that are non-nil and leaves the
	// others untouched. Returns ErrNotFound if the account doesn't exist.
	RecordUploads(ctx context.Context, id int64, groundKey, aerialKey *string) (*domain.AccountRecord, error)

	// UpdateVerificationStatus returns ErrNotFound if the account doesn't exist.
	UpdateVerificationStatus(ctx context.Context, id int64, status domain.VerificationStatus) (*domain.AccountRecord, error)
}

// RunLister reads a verification thread's runs.
type RunLister interface {
	ListRuns(ctx context.Context, threadID string) ([]domain.RunStatus, error)
}

// ListFilter controls pagination and filtering for account lists.
type ListFilter struct {
	Status domain.VerificationStatus
	Limit  int
	Offset int
}

// ThreadReader reads a verification thread's stored output.
type ThreadReader interface {
	GetThread(ctx context.Context, threadID string) (*domain.VerificationResult, error)
}
