package postgres

import (
	"context"
	"time"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userCols = `id, tenant_id, email, username, password_hash,
first_name, last_name, display_name, phone, avatar, bio,
status, role, email_verified, failed_login_attempts, locked_until,
last_login_at, last_login_ip, created_at, updated_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, tenant_id, email, username, password_hash,
	first_name, last_name, display_name, phone, avatar, bio,
	status, role, email_verified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING created_at, updated_at`
	p := u.Profile
	err := r.db.Pool.QueryRow(ctx, q,
		u.ID, u.TenantID, u.Email, u.Username, u.PasswordHash,
		p.FirstName, p.LastName, p.DisplayName, p.Phone, p.Avatar, p.Bio,
		string(u.Status), string(u.Role), u.EmailVerified,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID within a tenant.
func (r *UserRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE tenant_id=$1 AND id=$2`
	return scanUser(r.db.Pool.QueryRow(ctx, q, tenantID, id))
}

// GetByEmail selects a user by email within a tenant.
func (r *UserRepo) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE tenant_id=$1 AND email=$2`
	return scanUser(r.db.Pool.QueryRow(ctx, q, tenantID, email))
}

// GetByUsername selects a user by username within a tenant.
func (r *UserRepo) GetByUsername(ctx context.Context, tenantID uuid.UUID, username string) (*model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE tenant_id=$1 AND username=$2`
	return scanUser(r.db.Pool.QueryRow(ctx, q, tenantID, username))
}

// GetByLogin selects a user whose email or username matches login within a tenant.
func (r *UserRepo) GetByLogin(ctx context.Context, tenantID uuid.UUID, login string) (*model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE tenant_id=$1 AND (email=$2 OR username=$2) LIMIT 1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, tenantID, login))
}

// IncrementFailedAttempts bumps the counter in one statement and returns the new value.
func (r *UserRepo) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `
UPDATE users
SET failed_login_attempts = failed_login_attempts + 1, updated_at = now()
WHERE id = $1 AND status <> 'DELETED'
RETURNING failed_login_attempts`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&n); err != nil {
		return 0, scanErr(err)
	}
	return n, nil
}

// LockUntil sets locked_until.
func (r *UserRepo) LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error {
	const q = `UPDATE users SET locked_until = $2, updated_at = now() WHERE id = $1 AND status <> 'DELETED'`
	return r.execOne(ctx, q, id, until)
}

// ResetFailedAttempts clears the counter and any lockout.
func (r *UserRepo) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE users
SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
WHERE id = $1 AND status <> 'DELETED'`
	return r.execOne(ctx, q, id)
}

// RecordLogin stores last-login metadata.
func (r *UserRepo) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	const q = `UPDATE users SET last_login_at = $2, last_login_ip = $3, updated_at = now() WHERE id = $1 AND status <> 'DELETED'`
	return r.execOne(ctx, q, id, at, ip)
}

// UpdatePassword replaces the password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1 AND status <> 'DELETED'`
	return r.execOne(ctx, q, id, hash)
}

// MarkEmailVerified sets email_verified and activates pending accounts.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE users
SET email_verified = true,
	status = CASE WHEN status = 'PENDING_VERIFICATION' THEN 'ACTIVE' ELSE status END,
	updated_at = now()
WHERE id = $1 AND status <> 'DELETED'`
	return r.execOne(ctx, q, id)
}

// UpdateStatus changes the account status.
func (r *UserRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AccountStatus) error {
	const q = `UPDATE users SET status = $2, updated_at = now() WHERE id = $1 AND status <> 'DELETED'`
	return r.execOne(ctx, q, id, string(status))
}

// UpdateProfile replaces the profile columns.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uuid.UUID, p model.Profile) error {
	const q = `
UPDATE users
SET first_name = $2, last_name = $3, display_name = $4, phone = $5, avatar = $6, bio = $7, updated_at = now()
WHERE id = $1 AND status <> 'DELETED'`
	return r.execOne(ctx, q, id, p.FirstName, p.LastName, p.DisplayName, p.Phone, p.Avatar, p.Bio)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u      model.User
		status string
		role   string
	)
	p := &u.Profile
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.Username, &u.PasswordHash,
		&p.FirstName, &p.LastName, &p.DisplayName, &p.Phone, &p.Avatar, &p.Bio,
		&status, &role, &u.EmailVerified, &u.FailedLoginAttempts, &u.LockedUntil,
		&u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	u.Status = model.AccountStatus(status)
	u.Role = model.Role(role)
	return &u, nil
}
