package accounts

import "errors"

// Sentinel errors for the accounts service layer.
var (
	ErrNotFound      = errors.New("account not found")
	ErrInvalidUpload = errors.New("invalid upload notification")
	ErrNoThread      = errors.New("account has no verification thread")
)
