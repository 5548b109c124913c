package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepo implements RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepo struct{ db *DB }

// NewRefreshTokenRepo constructs a refresh-token repository.
func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const refreshCols = `id, token_hash, user_id, tenant_id,
device_id, device_name, platform, os_version, app_version, ip,
expires_at, revoked, revoked_at, revoked_reason, created_at, last_used_at`

// Create inserts a new session row.
func (r *RefreshTokenRepo) Create(ctx context.Context, rt *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (id, token_hash, user_id, tenant_id,
	device_id, device_name, platform, os_version, app_version, ip,
	expires_at, created_at, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	d := rt.Device
	_, err := r.db.Pool.Exec(ctx, q,
		rt.ID, rt.TokenHash, rt.UserID, rt.TenantID,
		d.DeviceID, d.DeviceName, d.Platform, d.OSVersion, d.AppVersion, rt.IP,
		rt.ExpiresAt, rt.CreatedAt, rt.LastUsedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByHash selects a session by token digest.
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash []byte) (*model.RefreshToken, error) {
	const q = `SELECT ` + refreshCols + ` FROM refresh_tokens WHERE token_hash=$1`
	return scanRefresh(r.db.Pool.QueryRow(ctx, q, hash))
}

// RevokeIfActive is the compare-and-set used by rotation: of two concurrent callers only one gets a row back.
func (r *RefreshTokenRepo) RevokeIfActive(
	ctx context.Context, hash []byte, tenantID uuid.UUID, now time.Time, reason string,
) (*model.RefreshToken, error) {
	const q = `
UPDATE refresh_tokens
SET revoked = true, revoked_at = $3, revoked_reason = $4, last_used_at = $3
WHERE token_hash = $1 AND tenant_id = $2 AND revoked = false AND expires_at > $3
RETURNING ` + refreshCols
	rt, err := scanRefresh(r.db.Pool.QueryRow(ctx, q, hash, tenantID, now, reason))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrVersionConflict
	}
	return rt, err
}

// Revoke revokes the user's token with that digest if it is still active.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, hash []byte, userID uuid.UUID, reason string, at time.Time) error {
	const q = `
UPDATE refresh_tokens
SET revoked = true, revoked_at = $3, revoked_reason = $4
WHERE token_hash = $1 AND user_id = $2 AND revoked = false`
	_, err := r.db.Pool.Exec(ctx, q, hash, userID, at, reason)
	return err
}

// RevokeByID revokes one active session of the user.
func (r *RefreshTokenRepo) RevokeByID(ctx context.Context, userID, id uuid.UUID, reason string, at time.Time) error {
	const q = `
UPDATE refresh_tokens
SET revoked = true, revoked_at = $3, revoked_reason = $4
WHERE id = $1 AND user_id = $2 AND revoked = false`
	tag, err := r.db.Pool.Exec(ctx, q, id, userID, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every active session of the user.
func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	const q = `
UPDATE refresh_tokens
SET revoked = true, revoked_at = $2, revoked_reason = $3
WHERE user_id = $1 AND revoked = false`
	tag, err := r.db.Pool.Exec(ctx, q, userID, at, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActive returns unrevoked, unexpired sessions ordered by creation time.
func (r *RefreshTokenRepo) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.RefreshToken, error) {
	const q = `
SELECT ` + refreshCols + `
FROM refresh_tokens
WHERE user_id = $1 AND revoked = false AND expires_at > $2
ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RefreshToken
	for rows.Next() {
		rt, err := scanRefresh(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rt)
	}
	return out, rows.Err()
}

// DeleteExpired removes sessions that expired before the cutoff.
func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRefresh(row pgx.Row) (*model.RefreshToken, error) {
	var (
		rt     model.RefreshToken
		reason *string
	)
	d := &rt.Device
	err := row.Scan(
		&rt.ID, &rt.TokenHash, &rt.UserID, &rt.TenantID,
		&d.DeviceID, &d.DeviceName, &d.Platform, &d.OSVersion, &d.AppVersion, &rt.IP,
		&rt.ExpiresAt, &rt.Revoked, &rt.RevokedAt, &reason, &rt.CreatedAt, &rt.LastUsedAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	if reason != nil {
		rt.RevokedReason = *reason
	}
	return &rt, nil
}
