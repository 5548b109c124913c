package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/tenantauth/internal/model"
)

// Log writes notifications to the structured log instead of delivering them.
// Codes are redacted unless LogCodes is set, which is meant for local development only.
type Log struct {
	log      *zap.Logger
	logCodes bool
}

// NewLog constructs a log-backed notifier.
func NewLog(log *zap.Logger, logCodes bool) *Log {
	return &Log{log: log.Named("notify"), logCodes: logCodes}
}

// SendOTP logs the passcode hand-off.
func (n *Log) SendOTP(_ context.Context, recipient, code string, purpose model.OTPPurpose) bool {
	fields := []zap.Field{
		zap.String("recipient", recipient),
		zap.String("purpose", string(purpose)),
		zap.String("subject", Subject(purpose)),
	}
	if n.logCodes {
		fields = append(fields, zap.String("code", code))
	}
	n.log.Info("otp notification", fields...)
	return true
}

// SendWelcome logs the welcome hand-off.
func (n *Log) SendWelcome(_ context.Context, recipient, displayName string) bool {
	n.log.Info("welcome notification", zap.String("recipient", recipient), zap.String("display_name", displayName))
	return true
}
