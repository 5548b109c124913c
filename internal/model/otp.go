package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// OTPPurpose binds a one-time code to the flow that consumes it.
type OTPPurpose string

const (
	PurposeEmailVerification OTPPurpose = "EMAIL_VERIFICATION"
	PurposePhoneVerification OTPPurpose = "PHONE_VERIFICATION"
	PurposePasswordReset     OTPPurpose = "PASSWORD_RESET"
	// PurposeLoginVerification and PurposeTwoFactor are reserved; no flow issues them yet.
	PurposeLoginVerification OTPPurpose = "LOGIN_VERIFICATION"
	PurposeTwoFactor         OTPPurpose = "TWO_FACTOR"
)

// OTP is a persisted one-time passcode.
type OTP struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	UserID      *uuid.UUID
	Email       string
	Code        string
	Purpose     OTPPurpose
	ExpiresAt   time.Time
	Used        bool
	UsedAt      *time.Time
	Attempts    int
	MaxAttempts int
	IP          string
	CreatedAt   time.Time
}

// ValidAt reports whether the code may still be redeemed at now.
func (o *OTP) ValidAt(now time.Time) bool {
	return !o.Used && o.Attempts < o.MaxAttempts && now.Before(o.ExpiresAt)
}
