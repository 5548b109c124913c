// Package service contains the application services: the authentication flows, tenant administration and user profiles.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tenantauth/internal/crypto"
	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/limiter"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/notify"
	"github.com/and161185/tenantauth/internal/obs"
	"github.com/and161185/tenantauth/internal/otp"
	"github.com/and161185/tenantauth/internal/policy"
	"github.com/and161185/tenantauth/internal/repository"
	"github.com/and161185/tenantauth/internal/session"
	"github.com/and161185/tenantauth/internal/token"
)

// AuthService defines the account lifecycle flows of a tenant.
type AuthService interface {
	// SignUp registers a user and starts email verification when the tenant requires it.
	SignUp(ctx context.Context, tenant *model.Tenant, in SignUpInput) (*model.User, error)
	// SignIn authenticates by email or username and opens a session.
	SignIn(ctx context.Context, tenant *model.Tenant, in SignInInput) (*AuthResult, error)
	// Refresh rotates a refresh token into a new token pair.
	Refresh(ctx context.Context, tenant *model.Tenant, refreshToken, ip string) (*AuthResult, error)
	// VerifyEmail redeems an email verification code and activates the account.
	VerifyEmail(ctx context.Context, tenant *model.Tenant, email, code string) (*model.User, error)
	// ResendVerification issues a fresh email verification code.
	ResendVerification(ctx context.Context, tenant *model.Tenant, email, ip string) error
	// ForgotPassword issues a reset code if the account exists. It reports success either way.
	ForgotPassword(ctx context.Context, tenant *model.Tenant, email, ip string) error
	// ResetPassword sets a new password using a reset code and signs the user out everywhere.
	ResetPassword(ctx context.Context, tenant *model.Tenant, in ResetPasswordInput) error
	// ChangePassword replaces the password of an authenticated user and signs them out everywhere.
	ChangePassword(ctx context.Context, tenant *model.Tenant, userID uuid.UUID, in ChangePasswordInput) error
	// Logout revokes one refresh token of the user.
	Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error
	// LogoutAll revokes every session of the user.
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	// DeleteAccount soft-deletes the user after a password check.
	DeleteAccount(ctx context.Context, tenant *model.Tenant, userID uuid.UUID, password string) error
	// Authenticate verifies an access token issued for the tenant.
	Authenticate(ctx context.Context, tenant *model.Tenant, accessToken string) (model.Claims, error)
}

// SignUpInput is a registration request.
type SignUpInput struct {
	Email           string
	Username        string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	Phone           string
	IP              string
}

// SignInInput is a credential sign-in request.
type SignInInput struct {
	Login    string // email or username
	Password string
	IP       string
	Device   model.DeviceInfo
}

// ResetPasswordInput carries a password reset code and the new password.
type ResetPasswordInput struct {
	Email           string
	Code            string
	NewPassword     string
	ConfirmPassword string
}

// ChangePasswordInput carries the current and the new password.
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// AuthResult is returned by flows that open a session.
type AuthResult struct {
	Tokens model.Tokens
	User   *model.User
}

// AuthDeps are the collaborators of AuthServiceImpl.
type AuthDeps struct {
	Users    repository.UserRepository
	Hasher   *crypto.Hasher
	Issuer   *token.Issuer
	OTP      *otp.Engine
	Sessions *session.Ledger
	Guard    *limiter.Guard
	Notifier notify.Notifier
	Metrics  *obs.Metrics
	Log      *zap.Logger
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	hasher   *crypto.Hasher
	issuer   *token.Issuer
	otp      *otp.Engine
	sessions *session.Ledger
	guard    *limiter.Guard
	notifier notify.Notifier
	metrics  *obs.Metrics
	log      *zap.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d AuthDeps) *AuthServiceImpl {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{
		users:    d.Users,
		hasher:   d.Hasher,
		issuer:   d.Issuer,
		otp:      d.OTP,
		sessions: d.Sessions,
		guard:    d.Guard,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      log.Named("auth"),
		now:      time.Now,
	}
}

// SignUp validates the input against the tenant policy and creates the user.
// The account starts PENDING_VERIFICATION when the tenant requires email verification, ACTIVE otherwise.
func (s *AuthServiceImpl) SignUp(ctx context.Context, tenant *model.Tenant, in SignUpInput) (*model.User, error) {
	email, err := policy.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	username, err := policy.NormalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	if err := s.validatePassword(in.Password, tenant); err != nil {
		return nil, err
	}
	if err := policy.PasswordsMatch(in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}
	phone, err := policy.NormalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}

	// Existence is reported here, unlike ForgotPassword.
	if err := ensureAbsent(s.users.GetByEmail(ctx, tenant.ID, email)); err != nil {
		return nil, err
	}
	if err := ensureAbsent(s.users.GetByUsername(ctx, tenant.ID, username)); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, errs.Internal(err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errs.Internal(err)
	}

	verify := tenant.Config.EmailVerificationRequired
	status := model.StatusActive
	if verify {
		status = model.StatusPendingVerification
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	display := strings.TrimSpace(first + " " + last)
	if display == "" {
		display = username
	}
	u := &model.User{
		ID:           id,
		TenantID:     tenant.ID,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Profile: model.Profile{
			FirstName:   first,
			LastName:    last,
			DisplayName: display,
			Phone:       phone,
		},
		Status:        status,
		Role:          model.RoleUser,
		EmailVerified: !verify,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, errs.ErrUserAlreadyExists
		}
		return nil, errs.Internal(err)
	}

	if verify {
		uid := u.ID
		_, err := s.otp.Issue(ctx, otp.Request{
			TenantID: tenant.ID,
			UserID:   &uid,
			Email:    email,
			Purpose:  model.PurposeEmailVerification,
			IP:       in.IP,
		})
		if err != nil {
			// The account exists; the user can ask for another code.
			s.log.Warn("verification code not issued",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("user_id", u.ID.String()),
				zap.Error(err))
		}
	} else {
		s.welcome(ctx, u)
	}
	return u, nil
}

func ensureAbsent(_ *model.User, err error) error {
	switch {
	case err == nil:
		return errs.ErrUserAlreadyExists
	case errors.Is(err, errs.ErrNotFound):
		return nil
	default:
		return errs.Internal(err)
	}
}

// SignIn authenticates the user and opens a session.
// Unknown identities, deleted accounts and wrong passwords all yield the same InvalidCredentials error.
func (s *AuthServiceImpl) SignIn(ctx context.Context, tenant *model.Tenant, in SignInInput) (*AuthResult, error) {
	login := policy.NormalizeLogin(in.Login)
	if login == "" || in.Password == "" {
		return nil, errs.ErrInvalidCredentials
	}

	u, err := s.users.GetByLogin(ctx, tenant.ID, login)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Internal(err)
	}
	if u == nil || u.Status == model.StatusDeleted {
		s.hasher.Verify(in.Password, s.decoyHash())
		s.metrics.SignIn("invalid")
		return nil, errs.ErrInvalidCredentials
	}

	switch u.Status {
	case model.StatusPendingVerification:
		s.metrics.SignIn("not_verified")
		return nil, errs.ErrAccountNotVerified
	case model.StatusSuspended:
		s.metrics.SignIn("suspended")
		return nil, errs.ErrAccountSuspended
	}

	if err := s.guard.Check(u); err != nil {
		s.metrics.SignIn("locked")
		return nil, err
	}

	if !s.hasher.Verify(in.Password, u.PasswordHash) {
		locked, d, ferr := s.guard.Failure(ctx, u.ID, tenant.Config.Lockout)
		if ferr != nil {
			return nil, errs.Internal(ferr)
		}
		s.metrics.SignIn("invalid")
		if locked {
			s.metrics.Lockout()
			s.log.Info("account locked",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("user_id", u.ID.String()),
				zap.Duration("duration", d))
		}
		return nil, errs.ErrInvalidCredentials
	}

	if u.FailedLoginAttempts > 0 || u.LockedUntil != nil {
		if err := s.guard.Success(ctx, u.ID); err != nil {
			return nil, errs.Internal(err)
		}
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}
	now := s.now()
	if err := s.users.RecordLogin(ctx, u.ID, now, in.IP); err != nil {
		return nil, errs.Internal(err)
	}
	u.LastLoginAt = &now
	u.LastLoginIP = in.IP

	access, exp, err := s.accessToken(tenant, u)
	if err != nil {
		return nil, err
	}
	rt, err := s.sessions.Create(ctx, session.CreateParams{
		UserID:   u.ID,
		TenantID: tenant.ID,
		Device:   in.Device,
		IP:       in.IP,
		Policy:   tenant.Config.Session,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SignIn("ok")
	return &AuthResult{Tokens: s.pair(tenant, access, exp, rt), User: u}, nil
}

// decoyHash returns a hash verified against when the login names no account.
func (s *AuthServiceImpl) decoyHash() string {
	s.dummyOnce.Do(func() {
		pw, err := crypto.RandomToken(16)
		if err == nil {
			s.dummyHash, _ = s.hasher.Hash(pw)
		}
	})
	return s.dummyHash
}

// Refresh redeems the refresh token exactly once and returns a rotated pair.
func (s *AuthServiceImpl) Refresh(ctx context.Context, tenant *model.Tenant, refreshToken, ip string) (*AuthResult, error) {
	prev, err := s.sessions.Redeem(ctx, tenant.ID, refreshToken)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, tenant.ID, prev.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	if u.Status != model.StatusActive {
		return nil, errs.ErrInvalidRefreshToken
	}

	access, exp, err := s.accessToken(tenant, u)
	if err != nil {
		return nil, err
	}
	rt, err := s.sessions.Rotate(ctx, prev, ip, tenant.Config.Session.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Tokens: s.pair(tenant, access, exp, rt), User: u}, nil
}

// VerifyEmail consumes an EMAIL_VERIFICATION code, activates the account and sends a welcome message.
func (s *AuthServiceImpl) VerifyEmail(ctx context.Context, tenant *model.Tenant, email, code string) (*model.User, error) {
	addr, err := policy.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	u, err := s.liveUserByEmail(ctx, tenant.ID, addr)
	if err != nil {
		return nil, err
	}
	if _, err := s.otp.Verify(ctx, tenant.ID, addr, code, model.PurposeEmailVerification); err != nil {
		return nil, err
	}
	if err := s.users.MarkEmailVerified(ctx, u.ID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, errs.Internal(err)
	}
	u.EmailVerified = true
	if u.Status == model.StatusPendingVerification {
		u.Status = model.StatusActive
	}
	s.welcome(ctx, u)
	return u, nil
}

// ResendVerification issues a new verification code; the previous one is superseded.
func (s *AuthServiceImpl) ResendVerification(ctx context.Context, tenant *model.Tenant, email, ip string) error {
	addr, err := policy.NormalizeEmail(email)
	if err != nil {
		return err
	}
	u, err := s.liveUserByEmail(ctx, tenant.ID, addr)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return errs.New(errs.KindValidation, "Email is already verified")
	}
	uid := u.ID
	_, err = s.otp.Issue(ctx, otp.Request{
		TenantID: tenant.ID,
		UserID:   &uid,
		Email:    addr,
		Purpose:  model.PurposeEmailVerification,
		IP:       ip,
	})
	return err
}

// ForgotPassword issues a PASSWORD_RESET code when the email belongs to a live account.
// The outcome is indistinguishable for unknown emails, including when issuance is throttled.
func (s *AuthServiceImpl) ForgotPassword(ctx context.Context, tenant *model.Tenant, email, ip string) error {
	addr, err := policy.NormalizeEmail(email)
	if err != nil {
		return err
	}
	u, err := s.users.GetByEmail(ctx, tenant.ID, addr)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errs.Internal(err)
	}
	if u.Status == model.StatusDeleted {
		return nil
	}
	uid := u.ID
	_, err = s.otp.Issue(ctx, otp.Request{
		TenantID: tenant.ID,
		UserID:   &uid,
		Email:    addr,
		Purpose:  model.PurposePasswordReset,
		IP:       ip,
	})
	if errs.KindOf(err) == errs.KindTooManyOTPRequests {
		s.log.Info("password reset throttled", zap.String("tenant_id", tenant.ID.String()))
		return nil
	}
	return err
}

// ResetPassword validates the new password, redeems the reset code, stores the new hash
// and revokes every session of the user.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, tenant *model.Tenant, in ResetPasswordInput) error {
	addr, err := policy.NormalizeEmail(in.Email)
	if err != nil {
		return err
	}
	if err := s.validatePassword(in.NewPassword, tenant); err != nil {
		return err
	}
	if err := policy.PasswordsMatch(in.NewPassword, in.ConfirmPassword); err != nil {
		return err
	}
	if _, err := s.otp.Verify(ctx, tenant.ID, addr, in.Code, model.PurposePasswordReset); err != nil {
		return err
	}
	u, err := s.liveUserByEmail(ctx, tenant.ID, addr)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, u.ID, in.NewPassword, session.ReasonPasswordReset); err != nil {
		return err
	}
	// A successful reset also lifts a lockout.
	if err := s.guard.Success(ctx, u.ID); err != nil {
		return errs.Internal(err)
	}
	return nil
}

// validatePassword applies the tenant policy and the hasher's input limit.
func (s *AuthServiceImpl) validatePassword(password string, tenant *model.Tenant) error {
	if err := policy.ValidatePassword(password, tenant.Config.Password); err != nil {
		return err
	}
	if max := s.hasher.MaxPasswordBytes(); max > 0 && len(password) > max {
		return errs.Newf(errs.KindWeakPassword, "Password must be at most %d bytes", max)
	}
	return nil
}

// ChangePassword checks the current password, stores the new one and revokes every session.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, tenant *model.Tenant, userID uuid.UUID, in ChangePasswordInput) error {
	u, err := s.liveUser(ctx, tenant.ID, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(in.CurrentPassword, u.PasswordHash) {
		return errs.ErrInvalidCurrentPassword
	}
	if err := s.validatePassword(in.NewPassword, tenant); err != nil {
		return err
	}
	if err := policy.PasswordsMatch(in.NewPassword, in.ConfirmPassword); err != nil {
		return err
	}
	return s.setPassword(ctx, u.ID, in.NewPassword, session.ReasonPasswordChanged)
}

func (s *AuthServiceImpl) setPassword(ctx context.Context, userID uuid.UUID, password, reason string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return errs.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrUserNotFound
		}
		return errs.Internal(err)
	}
	n, err := s.sessions.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return err
	}
	s.log.Info("password replaced",
		zap.String("user_id", userID.String()),
		zap.String("reason", reason),
		zap.Int64("sessions_revoked", n))
	return nil
}

// Logout revokes the given refresh token. It succeeds even when the token is unknown or already revoked.
func (s *AuthServiceImpl) Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	return s.sessions.Revoke(ctx, userID, refreshToken, session.ReasonLogout)
}

// LogoutAll revokes every active session of the user and returns how many were revoked.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.sessions.RevokeAllForUser(ctx, userID, session.ReasonLogoutAll)
}

// DeleteAccount marks the user DELETED and revokes every session. Records are kept.
func (s *AuthServiceImpl) DeleteAccount(ctx context.Context, tenant *model.Tenant, userID uuid.UUID, password string) error {
	u, err := s.liveUser(ctx, tenant.ID, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return errs.ErrInvalidCredentials
	}
	if err := s.users.UpdateStatus(ctx, u.ID, model.StatusDeleted); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrUserNotFound
		}
		return errs.Internal(err)
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, u.ID, session.ReasonAccountDeleted); err != nil {
		return err
	}
	s.log.Info("account deleted",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("user_id", u.ID.String()))
	return nil
}

// Authenticate parses the access token and checks that it was issued for tenant.
func (s *AuthServiceImpl) Authenticate(_ context.Context, tenant *model.Tenant, accessToken string) (model.Claims, error) {
	if accessToken == "" {
		return model.Claims{}, errs.ErrUnauthorized
	}
	claims, err := s.issuer.ParseAccess(accessToken)
	if err != nil {
		return model.Claims{}, errs.ErrUnauthorized
	}
	if claims.TenantID != tenant.ID {
		return model.Claims{}, errs.ErrUnauthorized
	}
	return claims, nil
}

func (s *AuthServiceImpl) accessToken(tenant *model.Tenant, u *model.User) (string, time.Time, error) {
	access, exp, err := s.issuer.IssueAccess(model.Claims{
		UserID:   u.ID,
		TenantID: tenant.ID,
		Role:     u.Role,
		Email:    u.Email,
	}, tenant.Config.Session.AccessTTL)
	if err != nil {
		return "", time.Time{}, errs.Internal(err)
	}
	return access, exp, nil
}

func (s *AuthServiceImpl) pair(tenant *model.Tenant, access string, exp time.Time, rt *model.RefreshToken) model.Tokens {
	return model.Tokens{
		AccessToken:  access,
		RefreshToken: rt.Token,
		ExpiresAt:    exp,
		ExpiresIn:    tenant.Config.Session.AccessTTL,
	}
}

func (s *AuthServiceImpl) welcome(ctx context.Context, u *model.User) {
	if !s.notifier.SendWelcome(ctx, u.Email, u.Profile.DisplayName) {
		s.metrics.NotifyFailed(notify.KindWelcome)
		s.log.Warn("welcome delivery failed", zap.String("user_id", u.ID.String()))
	}
}

// liveUser loads a non-deleted user of the tenant.
func (s *AuthServiceImpl) liveUser(ctx context.Context, tenantID, userID uuid.UUID) (*model.User, error) {
	return checkLive(s.users.GetByID(ctx, tenantID, userID))
}

func (s *AuthServiceImpl) liveUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*model.User, error) {
	return checkLive(s.users.GetByEmail(ctx, tenantID, email))
}

func checkLive(u *model.User, err error) (*model.User, error) {
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUserNotFound
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	if u.Status == model.StatusDeleted {
		return nil, errs.ErrUserNotFound
	}
	return u, nil
}
