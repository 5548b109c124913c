// Package session manages refresh-token records: creation, single-use rotation and revocation.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/obs"
	"github.com/and161185/tenantauth/internal/repository"
	"github.com/and161185/tenantauth/internal/token"
)

// Revocation reasons recorded on session records.
const (
	ReasonRefreshed       = "Refreshed"
	ReasonLogout          = "Logout"
	ReasonLogoutAll       = "Logout all devices"
	ReasonPasswordChanged = "Password changed"
	ReasonPasswordReset   = "Password reset"
	ReasonAccountDeleted  = "Account deleted"
	ReasonSuspended       = "Account suspended"
	ReasonManual          = "Manually revoked"
	ReasonSessionLimit    = "Session limit exceeded"
	ReasonSingleSession   = "Signed in elsewhere"
)

// Ledger creates, rotates and revokes sessions.
type Ledger struct {
	store   repository.RefreshTokenRepository
	metrics *obs.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewLedger constructs a session ledger.
func NewLedger(store repository.RefreshTokenRepository, metrics *obs.Metrics, log *zap.Logger) *Ledger {
	return &Ledger{store: store, metrics: metrics, log: log.Named("session"), now: time.Now}
}

// CreateParams describes a new session.
type CreateParams struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Device   model.DeviceInfo
	IP       string
	Policy   model.SessionConfig
}

// Create mints a refresh token, persists its digest and enforces the tenant's concurrent-session policy.
// The returned record carries the plaintext token; it is never stored.
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*model.RefreshToken, error) {
	rt, err := l.insert(ctx, p.UserID, p.TenantID, p.Device, p.IP, p.Policy.RefreshTTL)
	if err != nil {
		return nil, err
	}
	if err := l.enforceLimit(ctx, rt, p.Policy); err != nil {
		return nil, err
	}
	return rt, nil
}

// Redeem consumes a refresh token of the tenant. Exactly one concurrent caller succeeds for a given token;
// every other caller, and any caller presenting an unknown, revoked, expired or foreign token, gets InvalidRefreshToken.
func (l *Ledger) Redeem(ctx context.Context, tenantID uuid.UUID, tok string) (*model.RefreshToken, error) {
	if tok == "" {
		return nil, errs.ErrInvalidRefreshToken
	}
	prev, err := l.store.RevokeIfActive(ctx, token.HashRefreshToken(tok), tenantID, l.now(), ReasonRefreshed)
	if errors.Is(err, errs.ErrVersionConflict) {
		l.metrics.Refresh("rejected")
		return nil, errs.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	return prev, nil
}

// Rotate creates the successor of a redeemed session, preserving its device metadata.
func (l *Ledger) Rotate(ctx context.Context, prev *model.RefreshToken, ip string, ttl time.Duration) (*model.RefreshToken, error) {
	if ip == "" {
		ip = prev.IP
	}
	rt, err := l.insert(ctx, prev.UserID, prev.TenantID, prev.Device, ip, ttl)
	if err != nil {
		return nil, err
	}
	l.metrics.Refresh("ok")
	return rt, nil
}

// Revoke revokes the user's session holding tok. Unknown or already revoked tokens are ignored.
func (l *Ledger) Revoke(ctx context.Context, userID uuid.UUID, tok, reason string) error {
	if tok == "" {
		return nil
	}
	if err := l.store.Revoke(ctx, token.HashRefreshToken(tok), userID, reason, l.now()); err != nil {
		return errs.Internal(err)
	}
	return nil
}

// RevokeByID revokes one active session of the user.
func (l *Ledger) RevokeByID(ctx context.Context, userID, id uuid.UUID, reason string) error {
	err := l.store.RevokeByID(ctx, userID, id, reason, l.now())
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrNotFoundResource
	}
	if err != nil {
		return errs.Internal(err)
	}
	return nil
}

// RevokeAllForUser revokes every active session of the user and returns how many were revoked.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	n, err := l.store.RevokeAllForUser(ctx, userID, reason, l.now())
	if err != nil {
		return 0, errs.Internal(err)
	}
	return n, nil
}

// ListActive returns the user's live sessions, oldest first.
func (l *Ledger) ListActive(ctx context.Context, userID uuid.UUID) ([]model.RefreshToken, error) {
	list, err := l.store.ListActive(ctx, userID, l.now())
	if err != nil {
		return nil, errs.Internal(err)
	}
	return list, nil
}

// SweepExpired physically removes sessions past expiry.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, err
	}
	l.metrics.Swept("refresh_tokens", n)
	return n, nil
}

func (l *Ledger) insert(
	ctx context.Context, userID, tenantID uuid.UUID, device model.DeviceInfo, ip string, ttl time.Duration,
) (*model.RefreshToken, error) {
	plain, err := token.NewRefreshToken()
	if err != nil {
		return nil, errs.Internal(err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errs.Internal(err)
	}
	now := l.now()
	rt := &model.RefreshToken{
		ID:         id,
		TokenHash:  token.HashRefreshToken(plain),
		Token:      plain,
		UserID:     userID,
		TenantID:   tenantID,
		Device:     device,
		IP:         ip,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := l.store.Create(ctx, rt); err != nil {
		return nil, errs.Internal(err)
	}
	return rt, nil
}

// enforceLimit revokes the oldest sessions beyond the tenant cap, or all others in single-session mode.
func (l *Ledger) enforceLimit(ctx context.Context, created *model.RefreshToken, p model.SessionConfig) error {
	if p.AllowMultipleSessions && p.MaxActiveSessions <= 0 {
		return nil
	}
	active, err := l.store.ListActive(ctx, created.UserID, l.now())
	if err != nil {
		return errs.Internal(err)
	}
	others := make([]model.RefreshToken, 0, len(active))
	for _, rt := range active {
		if rt.ID != created.ID {
			others = append(others, rt)
		}
	}

	var victims []model.RefreshToken
	reason := ReasonSessionLimit
	switch {
	case !p.AllowMultipleSessions:
		victims, reason = others, ReasonSingleSession
	case len(others)+1 > p.MaxActiveSessions:
		victims = others[:len(others)+1-p.MaxActiveSessions]
	}
	for _, v := range victims {
		err := l.store.RevokeByID(ctx, v.UserID, v.ID, reason, l.now())
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return errs.Internal(err)
		}
	}
	if len(victims) > 0 {
		l.log.Debug("sessions revoked by policy",
			zap.String("user_id", created.UserID.String()),
			zap.Int("count", len(victims)),
			zap.String("reason", reason))
	}
	return nil
}
