package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpinegear/identity/types"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, password_hash, real_name, last_name, phone_number, secret_word_hash,
		role, is_verified, verification_code, verification_code_expires_at, created_at, updated_at`

// PostgresAccountRepository handles persistence for accounts in PostgreSQL.
type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (types.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE lower(email) = lower($1)`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Account{}, ErrNotFound
	}
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresAccountRepository) InsertIfAbsent(ctx context.Context, account types.Account) (types.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	// The unique index on lower(email) turns the duplicate check into part of the insert.
	const query = `
		INSERT INTO accounts (id, email, password_hash, real_name, last_name, phone_number, secret_word_hash,
			role, is_verified, verification_code, verification_code_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING
		RETURNING id`
	code, expires := verificationArgs(account.Verification)
	err := r.db.QueryRowContext(
		ctx,
		query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.RealName,
		account.LastName,
		account.PhoneNumber,
		account.SecretWordHash,
		string(account.Role),
		account.IsVerified,
		code,
		expires,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return types.Account{}, ErrDuplicateIdentity
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *PostgresAccountRepository) UpdateByID(ctx context.Context, id string, patch types.AccountPatch) (types.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Account{}, ErrNotFound
	}
	if patch.Empty() && patch.IfCode == "" {
		return r.FindByID(ctx, id)
	}

	query, args := buildAccountUpdate(id, patch, time.Now().UTC())
	return scanAccount(r.db.QueryRowContext(ctx, query, args...))
}

// buildAccountUpdate renders the UPDATE statement for a patch. Placeholders are
// numbered in the order columns are appended.
func buildAccountUpdate(id string, patch types.AccountPatch, now time.Time) (string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.RealName != nil {
		set("real_name", *patch.RealName)
	}
	if patch.LastName != nil {
		set("last_name", *patch.LastName)
	}
	if patch.PhoneNumber != nil {
		set("phone_number", *patch.PhoneNumber)
	}
	if patch.Role != nil {
		set("role", string(*patch.Role))
	}
	if patch.IsVerified != nil {
		set("is_verified", *patch.IsVerified)
	}
	switch {
	case patch.ClearVerification:
		sets = append(sets, "verification_code = NULL", "verification_code_expires_at = NULL")
	case patch.Verification != nil:
		code, expires := verificationArgs(*patch.Verification)
		set("verification_code", code)
		set("verification_code_expires_at", expires)
	}
	set("updated_at", now)

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if patch.IfCode != "" {
		args = append(args, patch.IfCode)
		where += fmt.Sprintf(" AND verification_code = $%d", len(args))
	}

	query := `
		UPDATE accounts
		SET ` + strings.Join(sets, ", ") + `
		WHERE ` + where + `
		RETURNING ` + accountColumns
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var (
		account types.Account
		role    string
		code    sql.NullString
		expires sql.NullTime
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.RealName,
		&account.LastName,
		&account.PhoneNumber,
		&account.SecretWordHash,
		&role,
		&account.IsVerified,
		&code,
		&expires,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.Role = types.Role(role)
	if code.Valid {
		account.Verification.Code = code.String
	}
	if expires.Valid {
		account.Verification.ExpiresAt = expires.Time
	}
	return account, nil
}

func verificationArgs(code types.VerificationCode) (sql.NullString, sql.NullTime) {
	if code.Empty() {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: code.Code, Valid: true},
		sql.NullTime{Time: code.ExpiresAt, Valid: !code.ExpiresAt.IsZero()}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
