// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// PasswordPolicy is the per-tenant rule set applied to candidate passwords.
type PasswordPolicy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireDigit     bool `json:"require_digit"`
	RequireSpecial   bool `json:"require_special"`
}

// LockoutConfig controls progressive account lockout.
type LockoutConfig struct {
	MaxFailedAttempts int           `json:"max_failed_attempts"`
	Duration          time.Duration `json:"duration"`
}

// SessionConfig controls token lifetimes and concurrent sessions.
type SessionConfig struct {
	AccessTTL             time.Duration `json:"access_ttl"`
	RefreshTTL            time.Duration `json:"refresh_ttl"`
	AllowMultipleSessions bool          `json:"allow_multiple_sessions"`
	MaxActiveSessions     int           `json:"max_active_sessions"`
}

// TenantConfig groups every tenant-tunable policy.
type TenantConfig struct {
	EmailVerificationRequired bool           `json:"email_verification_required"`
	Password                  PasswordPolicy `json:"password"`
	Lockout                   LockoutConfig  `json:"lockout"`
	Session                   SessionConfig  `json:"session"`
}

// DefaultTenantConfig returns the configuration applied to newly registered tenants.
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		EmailVerificationRequired: true,
		Password: PasswordPolicy{
			MinLength:        8,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireDigit:     true,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Duration:          15 * time.Minute,
		},
		Session: SessionConfig{
			AccessTTL:             15 * time.Minute,
			RefreshTTL:            30 * 24 * time.Hour,
			AllowMultipleSessions: true,
			MaxActiveSessions:     5,
		},
	}
}

// Tenant is an isolated customer namespace (an "app") with its own users and credentials.
type Tenant struct {
	ID          uuid.UUID
	Name        string // unique across tenants
	Description string
	Active      bool
	Config      TenantConfig
	APIKey      string // unique, immutable after creation
	// APISecretHash is SHA-256 of the API secret; the secret itself is shown once and never stored.
	APISecretHash []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
