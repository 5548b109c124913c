// Package otp issues and verifies one-time passcodes with issuance throttling and attempt limits.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tenantauth/internal/crypto"
	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/notify"
	"github.com/and161185/tenantauth/internal/obs"
	"github.com/and161185/tenantauth/internal/repository"
)

// Config tunes code shape and abuse limits.
type Config struct {
	Length       int
	TTL          time.Duration
	MaxAttempts  int
	Window       time.Duration
	MaxPerWindow int
}

// DefaultConfig returns 6-digit codes valid for 10 minutes, 3 attempts, 5 issuances per hour.
func DefaultConfig() Config {
	return Config{
		Length:       6,
		TTL:          10 * time.Minute,
		MaxAttempts:  3,
		Window:       time.Hour,
		MaxPerWindow: 5,
	}
}

// Engine issues and redeems OTPs.
type Engine struct {
	store    repository.OTPRepository
	notifier notify.Notifier
	metrics  *obs.Metrics
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

// NewEngine constructs an OTP engine. Zero-valued config fields take defaults.
func NewEngine(store repository.OTPRepository, notifier notify.Notifier, metrics *obs.Metrics, log *zap.Logger, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Length <= 0 {
		cfg.Length = def.Length
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = def.MaxPerWindow
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		log:      log.Named("otp"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Request describes an issuance.
type Request struct {
	TenantID uuid.UUID
	UserID   *uuid.UUID
	Email    string
	Purpose  model.OTPPurpose
	IP       string
}

// Issue persists a fresh code and hands it to the notifier.
// A failed delivery is logged and counted but the stored code stays valid.
func (e *Engine) Issue(ctx context.Context, req Request) (*model.OTP, error) {
	now := e.now()
	n, err := e.store.CountRecent(ctx, req.TenantID, req.Email, req.Purpose, now.Add(-e.cfg.Window))
	if err != nil {
		return nil, errs.Internal(err)
	}
	if n >= e.cfg.MaxPerWindow {
		e.metrics.OTPRejected(string(req.Purpose), "throttled")
		return nil, &errs.Error{
			Kind:       errs.KindTooManyOTPRequests,
			Msg:        errs.ErrTooManyOTPRequests.Msg,
			RetryAfter: e.cfg.Window,
		}
	}

	code, err := crypto.RandomDigits(e.cfg.Length)
	if err != nil {
		return nil, errs.Internal(err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errs.Internal(err)
	}
	o := &model.OTP{
		ID:          id,
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Email:       req.Email,
		Code:        code,
		Purpose:     req.Purpose,
		ExpiresAt:   now.Add(e.cfg.TTL),
		MaxAttempts: e.cfg.MaxAttempts,
		IP:          req.IP,
		CreatedAt:   now,
	}
	if err := e.store.Create(ctx, o); err != nil {
		return nil, errs.Internal(err)
	}
	e.metrics.OTPIssued(string(req.Purpose))

	if !e.notifier.SendOTP(ctx, req.Email, code, req.Purpose) {
		e.metrics.NotifyFailed(notify.KindOTP)
		e.log.Warn("otp delivery failed",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("purpose", string(req.Purpose)))
	}
	return o, nil
}

// Verify redeems the newest active code for (tenant, email, purpose).
// Every submission consumes an attempt before the comparison, and only one
// concurrent caller can consume a matching code.
func (e *Engine) Verify(ctx context.Context, tenantID uuid.UUID, email, code string, purpose model.OTPPurpose) (*model.OTP, error) {
	now := e.now()
	o, err := e.store.FindActive(ctx, tenantID, email, purpose, now)
	if errors.Is(err, errs.ErrNotFound) {
		e.metrics.OTPRejected(string(purpose), "not_found")
		return nil, errs.ErrInvalidOTP
	}
	if err != nil {
		return nil, errs.Internal(err)
	}

	attempts, err := e.store.IncrementAttempts(ctx, o.ID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if attempts > o.MaxAttempts {
		e.metrics.OTPRejected(string(purpose), "exhausted")
		return nil, errs.ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(o.Code), []byte(code)) != 1 {
		e.metrics.OTPRejected(string(purpose), "mismatch")
		return nil, errs.ErrInvalidOTP
	}

	won, err := e.store.MarkUsed(ctx, o.ID, now)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if !won {
		e.metrics.OTPRejected(string(purpose), "already_used")
		return nil, errs.ErrInvalidOTP
	}
	o.Used = true
	o.UsedAt = &now
	o.Attempts = attempts
	return o, nil
}

// SweepExpired physically removes codes that expired before the current throttle window.
// Anything younger may still count against an issuance limit.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	n, err := e.store.DeleteExpired(ctx, e.now().Add(-e.cfg.Window))
	if err != nil {
		return 0, err
	}
	e.metrics.Swept("otps", n)
	return n, nil
}
