package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/service/accounts"
	"github.com/ignite/onboarding/internal/service/registration"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, username, avatar_url, verification_thread_id, verification_status,
	ground_photo_key, aerial_photo_key, created_at, updated_at`

// AccountRepo implements registration.AccountStore and accounts.Repository
// against PostgreSQL. Uniqueness of email and username is enforced by the
// accounts_email_key and accounts_username_key constraints.
type AccountRepo struct{ db *sql.DB }

// NewAccountRepo creates a Postgres-backed account repository.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

var (
	_ registration.AccountStore = (*AccountRepo)(nil)
	_ accounts.Repository       = (*AccountRepo)(nil)
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.AccountRecord, error) {
	var (
		a      domain.AccountRecord
		avatar sql.NullString
		thread sql.NullString
		ground sql.NullString
		aerial sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Email, &a.Username, &avatar, &thread, &a.VerificationStatus,
		&ground, &aerial, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AvatarURL = avatar.String
	a.VerificationThreadID = nullToPtr(thread)
	a.GroundPhotoKey = nullToPtr(ground)
	a.AerialPhotoKey = nullToPtr(aerial)
	return &a, nil
}

func nullToPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r *AccountRepo) FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.AccountRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = LOWER($1) OR username = $2
		ORDER BY (LOWER(email) = LOWER($1)) DESC
		LIMIT 1
	`, email, username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) Insert(ctx context.Context, req domain.RegistrationRequest) (*domain.AccountRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, username, avatar_url, verification_status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NOW(), NOW())
		RETURNING `+accountColumns,
		req.Email, req.Username, req.AvatarURL, domain.VerificationPending)
	a, err := scanAccount(row)
	if err != nil {
		if uv := asUniqueViolation(err); uv != nil {
			return nil, uv
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) UpdateVerificationThread(ctx context.Context, id int64, threadID string) (*domain.AccountRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts SET verification_thread_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, threadID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registration.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update verification thread: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete account rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*domain.AccountRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accounts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) List(ctx context.Context, f accounts.ListFilter) ([]domain.AccountRecord, int, error) {
	where := ""
	args := []interface{}{}
	if f.Status != "" {
		where = "WHERE verification_status = $1"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`
		SELECT %s
		FROM accounts
		%s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d
	`, accountColumns, where, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.AccountRecord
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

func (r *AccountRepo) RecordUploads(ctx context.Context, id int64, groundKey, aerialKey *string) (*domain.AccountRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts SET
			ground_photo_key = COALESCE($2, ground_photo_key),
			aerial_photo_key = COALESCE($3, aerial_photo_key),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, ptrToNull(groundKey), ptrToNull(aerialKey))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accounts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record uploads: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) UpdateVerificationStatus(ctx context.Context, id int64, status domain.VerificationStatus) (*domain.AccountRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts SET verification_status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, status)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accounts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update verification status: %w", err)
	}
	return a, nil
}

func ptrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// asUniqueViolation maps a pq unique violation to the field it rejected.
func asUniqueViolation(err error) *registration.UniqueViolationError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return &registration.UniqueViolationError{Field: "email"}
	case strings.Contains(pqErr.Constraint, "username"):
		return &registration.UniqueViolationError{Field: "username"}
	}
	return &registration.UniqueViolationError{}
}
