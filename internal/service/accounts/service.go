package accounts

import (
	"context"
	"fmt"

	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/logger"
)

const maxListLimit = 200

// UploadNotification is sent by object storage once a photo has landed.
type UploadNotification struct {
	UserID         int64   `json:"user_id"`
	GroundPhotoKey *string `json:"ground_photo_key,omitempty"`
	AerialPhotoKey *string `json:"aerial_photo_key,omitempty"`
}

// Service implements account lookups and post-registration updates. It is
// safe for concurrent use.
type Service struct {
	repo Repository
	runs RunLister
}

// NewService creates an accounts service. runs may be nil, in which case
// RefreshVerification is unavailable.
func NewService(repo Repository, runs RunLister) *Service {
	return &Service{repo: repo, runs: runs}
}

// Get returns a single account.
func (s *Service) Get(ctx context.Context, id int64) (*domain.AccountRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of accounts.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.AccountRecord, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("unknown verification status %q", f.Status)
	}
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// RecordUpload stores the keys reported by the storage webhook. Each key
// must be exactly the key that was granted for its slot.
func (s *Service) RecordUpload(ctx context.Context, n UploadNotification) (*domain.AccountRecord, error) {
	if n.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidUpload)
	}
	if n.GroundPhotoKey == nil && n.AerialPhotoKey == nil {
		return nil, fmt.Errorf("%w: no photo key given", ErrInvalidUpload)
	}
	if err := checkKey(n.UserID, domain.SlotGround, n.GroundPhotoKey); err != nil {
		return nil, err
	}
	if err := checkKey(n.UserID, domain.SlotAerial, n.AerialPhotoKey); err != nil {
		return nil, err
	}

	acct, err := s.repo.RecordUploads(ctx, n.UserID, n.GroundPhotoKey, n.AerialPhotoKey)
	if err != nil {
		return nil, err
	}
	logger.Info("upload recorded",
		"account_id", acct.ID, "uploads_complete", acct.UploadsComplete())
	return acct, nil
}

// RefreshVerification recomputes the account's status from its thread runs
// and persists it when it changed.
func (s *Service) RefreshVerification(ctx context.Context, id int64) (*domain.AccountRecord, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("verification service not configured")
	}
	acct, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	threadID := acct.ThreadID()
	if threadID == "" {
		return nil, ErrNoThread
	}

	runs, err := s.runs.ListRuns(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list runs for thread %s: %w", threadID, err)
	}
	status := domain.StatusFromRuns(runs)
	if status == acct.VerificationStatus {
		return acct, nil
	}

	updated, err := s.repo.UpdateVerificationStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	logger.Info("verification status changed",
		"account_id", id, "from", acct.VerificationStatus, "to", status)
	return updated, nil
}

// VerificationResult returns the analysis output on the account's thread.
// The verification client must also implement ThreadReader.
func (s *Service) VerificationResult(ctx context.Context, id int64) (*domain.VerificationResult, error) {
	reader, ok := s.runs.(ThreadReader)
	if !ok {
		return nil, fmt.Errorf("verification results not available")
	}
	acct, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	threadID := acct.ThreadID()
	if threadID == "" {
		return nil, ErrNoThread
	}
	return reader.GetThread(ctx, threadID)
}

func checkKey(userID int64, slot domain.AssetSlot, key *string) error {
	if key == nil {
		return nil
	}
	if want := domain.ResourceKey(userID, slot); *key != want {
		return fmt.Errorf("%w: %s key %q does not match %q", ErrInvalidUpload, slot, *key, want)
	}
	return nil
}
