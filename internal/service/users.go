package service

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/policy"
	"github.com/and161185/tenantauth/internal/repository"
	"github.com/and161185/tenantauth/internal/session"
)

// UserService serves profile and session management for authenticated users.
type UserService struct {
	users    repository.UserRepository
	sessions *session.Ledger
	log      *zap.Logger
}

// NewUserService constructs UserService.
func NewUserService(users repository.UserRepository, sessions *session.Ledger, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{users: users, sessions: sessions, log: log.Named("user")}
}

// ProfileUpdate is a partial profile update; nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	DisplayName *string
	Phone       *string
	Avatar      *string
	Bio         *string
}

// GetProfile returns the user. Deleted users are reported as not found.
func (s *UserService) GetProfile(ctx context.Context, tenantID, userID uuid.UUID) (*model.User, error) {
	return checkLive(s.users.GetByID(ctx, tenantID, userID))
}

// UpdateProfile applies upd to the user's profile.
func (s *UserService) UpdateProfile(ctx context.Context, tenantID, userID uuid.UUID, upd ProfileUpdate) (*model.User, error) {
	u, err := checkLive(s.users.GetByID(ctx, tenantID, userID))
	if err != nil {
		return nil, err
	}
	p := u.Profile
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&p.FirstName, upd.FirstName)
	set(&p.LastName, upd.LastName)
	set(&p.DisplayName, upd.DisplayName)
	set(&p.Avatar, upd.Avatar)
	set(&p.Bio, upd.Bio)
	if upd.Phone != nil {
		phone, err := policy.NormalizePhone(*upd.Phone)
		if err != nil {
			return nil, err
		}
		p.Phone = phone
	}
	if p.DisplayName == "" {
		p.DisplayName = u.Username
	}

	if err := s.users.UpdateProfile(ctx, u.ID, p); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, errs.Internal(err)
	}
	u.Profile = p
	return u, nil
}

// ListSessions returns the user's active sessions, oldest first.
func (s *UserService) ListSessions(ctx context.Context, tenantID, userID uuid.UUID) ([]model.RefreshToken, error) {
	if _, err := checkLive(s.users.GetByID(ctx, tenantID, userID)); err != nil {
		return nil, err
	}
	return s.sessions.ListActive(ctx, userID)
}

// SetStatus suspends or reinstates a user of the tenant. Suspension revokes every session.
// Reinstating sets ACTIVE even for a user who never verified their email.
func (s *UserService) SetStatus(ctx context.Context, tenantID, userID uuid.UUID, status model.AccountStatus) (*model.User, error) {
	if status != model.StatusActive && status != model.StatusSuspended {
		return nil, errs.New(errs.KindValidation, "status must be ACTIVE or SUSPENDED")
	}
	u, err := checkLive(s.users.GetByID(ctx, tenantID, userID))
	if err != nil {
		return nil, err
	}
	if u.Status == status {
		return u, nil
	}
	if err := s.users.UpdateStatus(ctx, u.ID, status); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, errs.Internal(err)
	}
	if status == model.StatusSuspended {
		if _, err := s.sessions.RevokeAllForUser(ctx, u.ID, session.ReasonSuspended); err != nil {
			return nil, err
		}
	}
	s.log.Info("user status changed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", u.ID.String()),
		zap.String("status", string(status)))
	u.Status = status
	return u, nil
}

// RevokeSession revokes one of the user's sessions by ID.
func (s *UserService) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	if err := s.sessions.RevokeByID(ctx, userID, sessionID, session.ReasonManual); err != nil {
		return err
	}
	s.log.Debug("session revoked", zap.String("user_id", userID.String()), zap.String("session_id", sessionID.String()))
	return nil
}
