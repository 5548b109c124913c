package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// DeviceInfo is client-supplied metadata carried across refresh-token rotations.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
	OSVersion  string `json:"os_version"`
	AppVersion string `json:"app_version"`
}

// RefreshToken is a session record. Only the SHA-256 digest of the opaque token is persisted.
type RefreshToken struct {
	ID        uuid.UUID
	TokenHash []byte
	// Token is the plaintext value; populated only on a freshly minted record.
	Token         string
	UserID        uuid.UUID
	TenantID      uuid.UUID
	Device        DeviceInfo
	IP            string
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string
	CreatedAt     time.Time
	LastUsedAt    time.Time
}

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry
	ExpiresIn    time.Duration
}

// Claims are the identity claims embedded in an access token.
type Claims struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
	Email    string
}
