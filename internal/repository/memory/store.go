// Package memory provides in-process implementations of the repository interfaces.
//
// All repositories of one store share a single mutex, so every conditional
// update is atomic with respect to the others exactly like a row-level UPDATE.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/repository"
)

type state struct {
	mu      sync.Mutex
	now     func() time.Time
	tenants map[uuid.UUID]*model.Tenant
	users   map[uuid.UUID]*model.User
	otps    map[uuid.UUID]*model.OTP
	tokens  map[uuid.UUID]*model.RefreshToken
}

// NewStore returns an empty in-memory store. A nil clock defaults to time.Now.
func NewStore(now func() time.Time) repository.Store {
	if now == nil {
		now = time.Now
	}
	s := &state{
		now:     now,
		tenants: make(map[uuid.UUID]*model.Tenant),
		users:   make(map[uuid.UUID]*model.User),
		otps:    make(map[uuid.UUID]*model.OTP),
		tokens:  make(map[uuid.UUID]*model.RefreshToken),
	}
	return repository.Store{
		Tenants: &TenantRepo{s},
		Users:   &UserRepo{s},
		OTPs:    &OTPRepo{s},
		Tokens:  &RefreshTokenRepo{s},
		Close:   func() {},
	}
}

// TenantRepo implements TenantRepository in memory.
type TenantRepo struct{ s *state }

// Create stores a copy of t.
func (r *TenantRepo) Create(_ context.Context, t *model.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ex := range r.s.tenants {
		if ex.ID == t.ID || ex.Name == t.Name || ex.APIKey == t.APIKey {
			return errs.ErrAlreadyExists
		}
	}
	now := r.s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	cp.APISecretHash = bytes.Clone(t.APISecretHash)
	r.s.tenants[t.ID] = &cp
	return nil
}

// GetByID returns a copy of the tenant.
func (r *TenantRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetByAPIKey returns a copy of the tenant with that key.
func (r *TenantRepo) GetByAPIKey(_ context.Context, apiKey string) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tenants {
		if t.APIKey == apiKey {
			cp := *t
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

// UpdateConfig replaces the tenant configuration.
func (r *TenantRepo) UpdateConfig(_ context.Context, id uuid.UUID, cfg model.TenantConfig) error {
	return r.update(id, func(t *model.Tenant) { t.Config = cfg })
}

// SetActive toggles the active flag.
func (r *TenantRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return r.update(id, func(t *model.Tenant) { t.Active = active })
}

// SetSecretHash replaces the API secret digest.
func (r *TenantRepo) SetSecretHash(_ context.Context, id uuid.UUID, hash []byte) error {
	return r.update(id, func(t *model.Tenant) { t.APISecretHash = bytes.Clone(hash) })
}

func (r *TenantRepo) update(id uuid.UUID, fn func(*model.Tenant)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return errs.ErrNotFound
	}
	fn(t)
	t.UpdatedAt = r.s.now()
	return nil
}

// UserRepo implements UserRepository in memory.
type UserRepo struct{ s *state }

// Create stores a copy of u, enforcing per-tenant uniqueness of email and username.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ex := range r.s.users {
		if ex.ID == u.ID {
			return errs.ErrAlreadyExists
		}
		if ex.TenantID == u.TenantID && (ex.Email == u.Email || ex.Username == u.Username) {
			return errs.ErrAlreadyExists
		}
	}
	now := r.s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.users[u.ID] = copyUser(u)
	return nil
}

// GetByID returns a copy of the user within the tenant.
func (r *UserRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.TenantID == tenantID && u.ID == id })
}

// GetByEmail returns a copy of the user with that email within the tenant.
func (r *UserRepo) GetByEmail(_ context.Context, tenantID uuid.UUID, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.TenantID == tenantID && u.Email == email })
}

// GetByUsername returns a copy of the user with that username within the tenant.
func (r *UserRepo) GetByUsername(_ context.Context, tenantID uuid.UUID, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.TenantID == tenantID && u.Username == username })
}

// GetByLogin returns a copy of the user whose email or username equals login.
func (r *UserRepo) GetByLogin(_ context.Context, tenantID uuid.UUID, login string) (*model.User, error) {
	return r.find(func(u *model.User) bool {
		return u.TenantID == tenantID && (u.Email == login || u.Username == login)
	})
}

// IncrementFailedAttempts bumps the counter under the store lock.
func (r *UserRepo) IncrementFailedAttempts(_ context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.mutate(id, func(u *model.User) {
		u.FailedLoginAttempts++
		n = u.FailedLoginAttempts
	})
	return n, err
}

// LockUntil sets the lockout deadline.
func (r *UserRepo) LockUntil(_ context.Context, id uuid.UUID, until time.Time) error {
	return r.mutate(id, func(u *model.User) { u.LockedUntil = &until })
}

// ResetFailedAttempts clears the counter and the lockout.
func (r *UserRepo) ResetFailedAttempts(_ context.Context, id uuid.UUID) error {
	return r.mutate(id, func(u *model.User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	})
}

// RecordLogin stores last-login metadata.
func (r *UserRepo) RecordLogin(_ context.Context, id uuid.UUID, at time.Time, ip string) error {
	return r.mutate(id, func(u *model.User) {
		u.LastLoginAt = &at
		u.LastLoginIP = ip
	})
}

// UpdatePassword replaces the password hash.
func (r *UserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return r.mutate(id, func(u *model.User) { u.PasswordHash = hash })
}

// MarkEmailVerified sets the flag and activates a pending account.
func (r *UserRepo) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	return r.mutate(id, func(u *model.User) {
		u.EmailVerified = true
		if u.Status == model.StatusPendingVerification {
			u.Status = model.StatusActive
		}
	})
}

// UpdateStatus changes the account status.
func (r *UserRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.AccountStatus) error {
	return r.mutate(id, func(u *model.User) { u.Status = status })
}

// UpdateProfile replaces profile fields.
func (r *UserRepo) UpdateProfile(_ context.Context, id uuid.UUID, p model.Profile) error {
	return r.mutate(id, func(u *model.User) { u.Profile = p })
}

func (r *UserRepo) find(match func(*model.User) bool) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, errs.ErrNotFound
}

// mutate applies fn to a live, non-deleted user.
func (r *UserRepo) mutate(id uuid.UUID, fn func(*model.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.Status == model.StatusDeleted {
		return errs.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = r.s.now()
	return nil
}

func copyUser(u *model.User) *model.User {
	cp := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

// OTPRepo implements OTPRepository in memory.
type OTPRepo struct{ s *state }

// Create stores a copy of o.
func (r *OTPRepo) Create(_ context.Context, o *model.OTP) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.otps[o.ID]; ok {
		return errs.ErrAlreadyExists
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.s.now()
	}
	cp := *o
	r.s.otps[o.ID] = &cp
	return nil
}

// FindActive returns the newest redeemable OTP.
func (r *OTPRepo) FindActive(
	_ context.Context, tenantID uuid.UUID, email string, purpose model.OTPPurpose, now time.Time,
) (*model.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *model.OTP
	for _, o := range r.s.otps {
		if o.TenantID != tenantID || o.Email != email || o.Purpose != purpose {
			continue
		}
		if !o.ValidAt(now) || o.Attempts >= o.MaxAttempts {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) {
			best = o
		}
	}
	if best == nil {
		return nil, errs.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// IncrementAttempts bumps the attempt counter under the store lock.
func (r *OTPRepo) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.otps[id]
	if !ok {
		return 0, errs.ErrNotFound
	}
	o.Attempts++
	return o.Attempts, nil
}

// MarkUsed flips Used iff it is still false.
func (r *OTPRepo) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.otps[id]
	if !ok || o.Used {
		return false, nil
	}
	o.Used = true
	o.UsedAt = &at
	return true, nil
}

// CountRecent counts OTPs created after since, including used and expired ones.
func (r *OTPRepo) CountRecent(
	_ context.Context, tenantID uuid.UUID, email string, purpose model.OTPPurpose, since time.Time,
) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, o := range r.s.otps {
		if o.TenantID == tenantID && o.Email == email && o.Purpose == purpose &&
			o.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes OTPs that expired before the cutoff.
func (r *OTPRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, o := range r.s.otps {
		if o.ExpiresAt.Before(before) {
			delete(r.s.otps, id)
			n++
		}
	}
	return n, nil
}

// RefreshTokenRepo implements RefreshTokenRepository in memory.
type RefreshTokenRepo struct{ s *state }

// Create stores a copy of rt without its plaintext token.
func (r *RefreshTokenRepo) Create(_ context.Context, rt *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ex := range r.s.tokens {
		if ex.ID == rt.ID || bytes.Equal(ex.TokenHash, rt.TokenHash) {
			return errs.ErrAlreadyExists
		}
	}
	cp := *rt
	cp.Token = ""
	cp.TokenHash = bytes.Clone(rt.TokenHash)
	r.s.tokens[rt.ID] = &cp
	return nil
}

// GetByHash returns a copy of the session with that digest.
func (r *RefreshTokenRepo) GetByHash(_ context.Context, hash []byte) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rt := r.byHash(hash)
	if rt == nil {
		return nil, errs.ErrNotFound
	}
	return copyToken(rt), nil
}

// RevokeIfActive revokes an active token of the tenant; at most one caller wins.
func (r *RefreshTokenRepo) RevokeIfActive(
	_ context.Context, hash []byte, tenantID uuid.UUID, now time.Time, reason string,
) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rt := r.byHash(hash)
	if rt == nil || rt.TenantID != tenantID || rt.Revoked || !rt.ExpiresAt.After(now) {
		return nil, errs.ErrVersionConflict
	}
	revoke(rt, reason, now)
	rt.LastUsedAt = now
	return copyToken(rt), nil
}

// Revoke revokes the user's token with that digest if still active.
func (r *RefreshTokenRepo) Revoke(_ context.Context, hash []byte, userID uuid.UUID, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rt := r.byHash(hash); rt != nil && rt.UserID == userID && !rt.Revoked {
		revoke(rt, reason, at)
	}
	return nil
}

// RevokeByID revokes one active session of the user.
func (r *RefreshTokenRepo) RevokeByID(_ context.Context, userID, id uuid.UUID, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rt, ok := r.s.tokens[id]
	if !ok || rt.UserID != userID || rt.Revoked {
		return errs.ErrNotFound
	}
	revoke(rt, reason, at)
	return nil
}

// RevokeAllForUser revokes every active session of the user.
func (r *RefreshTokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, rt := range r.s.tokens {
		if rt.UserID == userID && !rt.Revoked {
			revoke(rt, reason, at)
			n++
		}
	}
	return n, nil
}

// ListActive returns unrevoked, unexpired sessions, oldest first.
func (r *RefreshTokenRepo) ListActive(_ context.Context, userID uuid.UUID, now time.Time) ([]model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.RefreshToken
	for _, rt := range r.s.tokens {
		if rt.UserID == userID && !rt.Revoked && rt.ExpiresAt.After(now) {
			out = append(out, *copyToken(rt))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteExpired removes sessions that expired before the cutoff.
func (r *RefreshTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, rt := range r.s.tokens {
		if rt.ExpiresAt.Before(before) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokenRepo) byHash(hash []byte) *model.RefreshToken {
	for _, rt := range r.s.tokens {
		if bytes.Equal(rt.TokenHash, hash) {
			return rt
		}
	}
	return nil
}

func revoke(rt *model.RefreshToken, reason string, at time.Time) {
	rt.Revoked = true
	rt.RevokedAt = &at
	rt.RevokedReason = reason
}

func copyToken(rt *model.RefreshToken) *model.RefreshToken {
	cp := *rt
	cp.TokenHash = bytes.Clone(rt.TokenHash)
	if rt.RevokedAt != nil {
		t := *rt.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}
