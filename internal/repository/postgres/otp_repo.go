package postgres

import (
	"context"
	"time"

	"github.com/and161185/tenantauth/internal/model"
	"github.com/gofrs/uuid/v5"
)

// OTPRepo implements OTPRepository using PostgreSQL.
type OTPRepo struct{ db *DB }

// NewOTPRepo constructs an OTP repository.
func NewOTPRepo(db *DB) *OTPRepo { return &OTPRepo{db: db} }

// Create inserts a new OTP row.
func (r *OTPRepo) Create(ctx context.Context, o *model.OTP) error {
	const q = `
INSERT INTO otps (id, tenant_id, user_id, email, code, purpose, expires_at, max_attempts, ip, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Pool.Exec(ctx, q,
		o.ID, o.TenantID, o.UserID, o.Email, o.Code, string(o.Purpose), o.ExpiresAt, o.MaxAttempts, o.IP, o.CreatedAt)
	return err
}

// FindActive returns the newest unused, unexpired, non-exhausted OTP.
func (r *OTPRepo) FindActive(
	ctx context.Context, tenantID uuid.UUID, email string, purpose model.OTPPurpose, now time.Time,
) (*model.OTP, error) {
	const q = `
SELECT id, tenant_id, user_id, email, code, purpose, expires_at, is_used, used_at, attempts, max_attempts, ip, created_at
FROM otps
WHERE tenant_id=$1 AND email=$2 AND purpose=$3
	AND is_used = false AND expires_at > $4 AND attempts < max_attempts
ORDER BY created_at DESC
LIMIT 1`
	var (
		o   model.OTP
		pur string
	)
	err := r.db.Pool.QueryRow(ctx, q, tenantID, email, string(purpose), now).Scan(
		&o.ID, &o.TenantID, &o.UserID, &o.Email, &o.Code, &pur, &o.ExpiresAt,
		&o.Used, &o.UsedAt, &o.Attempts, &o.MaxAttempts, &o.IP, &o.CreatedAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	o.Purpose = model.OTPPurpose(pur)
	return &o, nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (r *OTPRepo) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `UPDATE otps SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&n); err != nil {
		return 0, scanErr(err)
	}
	return n, nil
}

// MarkUsed consumes the OTP; only one caller can observe true for a given id.
func (r *OTPRepo) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE otps SET is_used = true, used_at = $2 WHERE id = $1 AND is_used = false`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountRecent counts OTPs issued after since, including used and expired ones.
func (r *OTPRepo) CountRecent(
	ctx context.Context, tenantID uuid.UUID, email string, purpose model.OTPPurpose, since time.Time,
) (int, error) {
	const q = `
SELECT count(*) FROM otps
WHERE tenant_id=$1 AND email=$2 AND purpose=$3 AND created_at > $4`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, tenantID, email, string(purpose), since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteExpired removes OTPs that expired before the cutoff.
func (r *OTPRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM otps WHERE expires_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
