package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// AccountStatus is the lifecycle state of a user.
type AccountStatus string

const (
	StatusPendingVerification AccountStatus = "PENDING_VERIFICATION"
	StatusActive              AccountStatus = "ACTIVE"
	StatusSuspended           AccountStatus = "SUSPENDED"
	StatusDeleted             AccountStatus = "DELETED" // terminal
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPendingVerification, StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// Role is the authorization role embedded in access tokens.
type Role string

const (
	RoleUser       Role = "USER"
	RoleModerator  Role = "MODERATOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Profile holds user-editable profile fields.
type Profile struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Avatar      string `json:"avatar"`
	Bio         string `json:"bio"`
}

// User represents an account scoped to a tenant. Email and username are stored lowercased.
type User struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Email    string // unique within tenant
	Username string // unique within tenant
	// PasswordHash embeds algorithm, parameters and salt.
	PasswordHash        string
	Profile             Profile
	Status              AccountStatus
	Role                Role
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LockedAt reports whether the user is locked at now and the remaining lockout.
func (u *User) LockedAt(now time.Time) (bool, time.Duration) {
	if u.LockedUntil == nil || !now.Before(*u.LockedUntil) {
		return false, 0
	}
	return true, u.LockedUntil.Sub(now)
}
