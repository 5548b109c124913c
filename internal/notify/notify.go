// Package notify delivers OTP and welcome messages. Delivery is fire-and-forget:
// implementations report success as a bool and never fail the calling flow.
package notify

import (
	"context"

	"github.com/and161185/tenantauth/internal/model"
)

// Notifier hands messages off to a delivery channel.
type Notifier interface {
	// SendOTP delivers a one-time passcode for the given purpose.
	SendOTP(ctx context.Context, recipient, code string, purpose model.OTPPurpose) bool
	// SendWelcome greets a newly registered user.
	SendWelcome(ctx context.Context, recipient, displayName string) bool
}

// Message kinds carried by transport-level notifiers.
const (
	KindOTP     = "otp"
	KindWelcome = "welcome"
)

// Subject returns the human-readable subject line for an OTP purpose.
func Subject(purpose model.OTPPurpose) string {
	switch purpose {
	case model.PurposeEmailVerification:
		return "Verify your email"
	case model.PurposePasswordReset:
		return "Reset your password"
	case model.PurposePhoneVerification:
		return "Verify your phone number"
	case model.PurposeLoginVerification:
		return "Confirm your sign-in"
	case model.PurposeTwoFactor:
		return "Your verification code"
	default:
		return "Your code"
	}
}
