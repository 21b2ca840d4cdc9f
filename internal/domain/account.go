package domain

import "time"

// VerificationStatus enumerates where an account sits in the external
// verification lifecycle.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationInReview VerificationStatus = "in_review"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationInReview, VerificationVerified, VerificationRejected:
		return true
	}
	return false
}

// AccountRecord is the durable account entity. The ID is assigned by the
// account store on insert and never changes afterwards.
type AccountRecord struct {
	ID                   int64              `json:"id" db:"id"`
	Email                string             `json:"email" db:"email"`
	Username             string             `json:"username" db:"username"`
	AvatarURL            string             `json:"avatar_url,omitempty" db:"avatar_url"`
	VerificationThreadID *string            `json:"verification_thread_id" db:"verification_thread_id"`
	VerificationStatus   VerificationStatus `json:"verification_status" db:"verification_status"`
	GroundPhotoKey       *string            `json:"ground_photo_key,omitempty" db:"ground_photo_key"`
	AerialPhotoKey       *string            `json:"aerial_photo_key,omitempty" db:"aerial_photo_key"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at" db:"updated_at"`
}

// ThreadID returns the verification thread id or "" when none is attached yet.
func (a *AccountRecord) ThreadID() string {
	if a == nil || a.VerificationThreadID == nil {
		return ""
	}
	return *a.VerificationThreadID
}

// UploadsComplete reports whether both photo slots have been uploaded.
func (a *AccountRecord) UploadsComplete() bool {
	return a.GroundPhotoKey != nil && a.AerialPhotoKey != nil
}
