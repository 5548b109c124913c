// Package limiter implements account lockout and per-peer request throttling.
package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
)

// counterStore is the subset of UserRepository the guard mutates.
type counterStore interface {
	IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error)
	LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error
}

// Guard tracks failed sign-ins per user and places temporary lockouts.
type Guard struct {
	store counterStore
	now   func() time.Time
}

// NewGuard constructs a Guard over the user store.
func NewGuard(store counterStore) *Guard {
	return NewGuardWithClock(store, time.Now)
}

// NewGuardWithClock is NewGuard with an explicit time source for lockout windows.
func NewGuardWithClock(store counterStore, now func() time.Time) *Guard {
	return &Guard{store: store, now: now}
}

// Check fails with AccountLocked while the user's lockout is in effect.
// It does not touch the store, so it must run before any password verification.
func (g *Guard) Check(u *model.User) error {
	if locked, remaining := u.LockedAt(g.now()); locked {
		return errs.Locked(remaining)
	}
	return nil
}

// Failure records a failed attempt and locks the account once the tenant threshold is reached.
// The counter is incremented in a single store operation, so concurrent failures are all counted.
func (g *Guard) Failure(ctx context.Context, userID uuid.UUID, cfg model.LockoutConfig) (bool, time.Duration, error) {
	fails, err := g.store.IncrementFailedAttempts(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	if cfg.MaxFailedAttempts <= 0 || fails < cfg.MaxFailedAttempts {
		return false, 0, nil
	}
	if err := g.store.LockUntil(ctx, userID, g.now().Add(cfg.Duration)); err != nil {
		return false, 0, err
	}
	return true, cfg.Duration, nil
}

// Success clears the failure counter and any lockout.
func (g *Guard) Success(ctx context.Context, userID uuid.UUID) error {
	return g.store.ResetFailedAttempts(ctx, userID)
}
