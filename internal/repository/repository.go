// Package repository defines storage interfaces implemented by concrete backends.
//
// Every contested field (failed-login counter, OTP attempts, refresh-token revocation) is mutated
// through a single atomic or conditional operation so that concurrent requests never race on
// read-modify-write logic.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tenantauth/internal/model"
)

// TenantRepository stores tenants (apps).
type TenantRepository interface {
	// Create inserts a tenant; ErrAlreadyExists on duplicate name or API key.
	Create(ctx context.Context, t *model.Tenant) error
	// GetByID loads a tenant by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	// GetByAPIKey loads a tenant by its API key.
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error)
	// UpdateConfig replaces the tenant configuration.
	UpdateConfig(ctx context.Context, id uuid.UUID, cfg model.TenantConfig) error
	// SetActive toggles the active flag.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// SetSecretHash replaces the API secret digest.
	SetSecretHash(ctx context.Context, id uuid.UUID, hash []byte) error
}

// UserRepository stores tenant-scoped users. Mutations never touch DELETED users.
type UserRepository interface {
	// Create inserts a user; ErrAlreadyExists on (tenant, email) or (tenant, username) collision.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user within a tenant.
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by normalized email within a tenant.
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*model.User, error)
	// GetByUsername loads a user by normalized username within a tenant.
	GetByUsername(ctx context.Context, tenantID uuid.UUID, username string) (*model.User, error)
	// GetByLogin loads a user whose email or username equals login within a tenant.
	GetByLogin(ctx context.Context, tenantID uuid.UUID, login string) (*model.User, error)
	// IncrementFailedAttempts atomically adds one failed attempt and returns the new count.
	IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error)
	// LockUntil sets the lockout deadline.
	LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error
	// ResetFailedAttempts zeroes the counter and clears the lockout.
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error
	// RecordLogin stores last-login metadata.
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) error
	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	// MarkEmailVerified sets emailVerified and promotes PENDING_VERIFICATION to ACTIVE.
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	// UpdateStatus changes the account status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.AccountStatus) error
	// UpdateProfile replaces profile fields.
	UpdateProfile(ctx context.Context, id uuid.UUID, p model.Profile) error
}

// OTPRepository stores one-time passcodes.
type OTPRepository interface {
	// Create inserts an OTP.
	Create(ctx context.Context, o *model.OTP) error
	// FindActive returns the newest redeemable OTP for (tenant, email, purpose) at now.
	FindActive(ctx context.Context, tenantID uuid.UUID, email string, purpose model.OTPPurpose, now time.Time) (*model.OTP, error)
	// IncrementAttempts atomically adds one attempt and returns the new count.
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	// MarkUsed flips isUsed iff it is still false and reports whether this call made the transition.
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// CountRecent counts OTPs for (tenant, email, purpose) created after since, used or expired alike.
	CountRecent(ctx context.Context, tenantID uuid.UUID, email string, purpose model.OTPPurpose, since time.Time) (int, error)
	// DeleteExpired physically removes OTPs that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository stores sessions keyed by the refresh-token digest.
type RefreshTokenRepository interface {
	// Create inserts a session record.
	Create(ctx context.Context, rt *model.RefreshToken) error
	// GetByHash loads a session by token digest.
	GetByHash(ctx context.Context, hash []byte) (*model.RefreshToken, error)
	// RevokeIfActive revokes the token iff it belongs to tenantID, is not revoked and has not expired at now.
	// It returns the revoked record, or ErrVersionConflict when no such token was active.
	RevokeIfActive(ctx context.Context, hash []byte, tenantID uuid.UUID, now time.Time, reason string) (*model.RefreshToken, error)
	// Revoke revokes the user's token with that digest; a no-op when already revoked or unknown.
	Revoke(ctx context.Context, hash []byte, userID uuid.UUID, reason string, at time.Time) error
	// RevokeByID revokes one of the user's sessions by ID; ErrNotFound when no active session matched.
	RevokeByID(ctx context.Context, userID, id uuid.UUID, reason string, at time.Time) error
	// RevokeAllForUser revokes every active session of the user and returns how many changed.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error)
	// ListActive returns the user's unrevoked, unexpired sessions, oldest first.
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.RefreshToken, error)
	// DeleteExpired physically removes sessions that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Store bundles the per-entity repositories of one backend.
type Store struct {
	Tenants TenantRepository
	Users   UserRepository
	OTPs    OTPRepository
	Tokens  RefreshTokenRepository
	// Close releases backend resources.
	Close func()
}
