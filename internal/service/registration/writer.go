package registration

import (
	"context"
	"errors"

	"github.com/ignite/onboarding/internal/domain"
)

// AccountWriter performs the saga's first durable side effect.
type AccountWriter struct {
	accounts AccountStore
}

// NewAccountWriter creates a writer over the account store.
func NewAccountWriter(accounts AccountStore) *AccountWriter {
	return &AccountWriter{accounts: accounts}
}

// Create inserts the account. A unique-constraint rejection (a race the
// uniqueness check lost) maps to a duplicate; anything else is a persistence
// error.
func (w *AccountWriter) Create(ctx context.Context, req domain.RegistrationRequest) (*domain.AccountRecord, error) {
	account, err := w.accounts.Insert(ctx, req)
	if err != nil {
		var uv *UniqueViolationError
		if errors.As(err, &uv) {
			kind := ErrDuplicateAccount
			switch uv.Field {
			case "email":
				kind = ErrDuplicateEmail
			case "username":
				kind = ErrDuplicateUsername
			}
			return nil, stageErr(StageAccountCreated, kind, err)
		}
		return nil, stageErr(StageAccountCreated, ErrPersistence, err)
	}
	return account, nil
}
