package registration

import (
	"context"
	"strings"
)

// Collision reports which fields of a request are already taken.
type Collision struct {
	Email    bool
	Username bool
}

// Any reports whether either field collided.
func (c Collision) Any() bool { return c.Email || c.Username }

// Err returns the field-specific duplicate error, email first.
func (c Collision) Err() error {
	switch {
	case c.Email:
		return ErrDuplicateEmail
	case c.Username:
		return ErrDuplicateUsername
	}
	return nil
}

// UniquenessChecker fails registrations fast before any write. It is an
// optimization: the account store's constraint is the source of truth.
type UniquenessChecker struct {
	accounts AccountStore
}

// NewUniquenessChecker creates a checker over the account store.
func NewUniquenessChecker(accounts AccountStore) *UniquenessChecker {
	return &UniquenessChecker{accounts: accounts}
}

// Check is read-only and safe to retry.
func (u *UniquenessChecker) Check(ctx context.Context, email, username string) (Collision, error) {
	existing, err := u.accounts.FindByEmailOrUsername(ctx, email, username)
	if err != nil {
		return Collision{}, err
	}
	if existing == nil {
		return Collision{}, nil
	}
	return Collision{
		Email:    strings.EqualFold(existing.Email, email),
		Username: existing.Username == username,
	}, nil
}
