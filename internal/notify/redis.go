package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/tenantauth/internal/model"
)

// DefaultStream is the Redis stream consumed by the delivery workers.
const DefaultStream = "tenantauth:notifications"

// Stream appends notifications to a Redis stream for asynchronous delivery.
type Stream struct {
	rdb     redis.Cmdable
	stream  string
	maxLen  int64
	timeout time.Duration
	log     *zap.Logger
}

// NewStream constructs a Redis stream notifier. maxLen caps the stream approximately; 0 disables trimming.
func NewStream(rdb redis.Cmdable, stream string, maxLen int64, log *zap.Logger) *Stream {
	if stream == "" {
		stream = DefaultStream
	}
	return &Stream{rdb: rdb, stream: stream, maxLen: maxLen, timeout: 2 * time.Second, log: log.Named("notify")}
}

// SendOTP enqueues an OTP message.
func (s *Stream) SendOTP(ctx context.Context, recipient, code string, purpose model.OTPPurpose) bool {
	return s.add(ctx, map[string]any{
		"kind":      KindOTP,
		"recipient": recipient,
		"code":      code,
		"purpose":   string(purpose),
		"subject":   Subject(purpose),
	})
}

// SendWelcome enqueues a welcome message.
func (s *Stream) SendWelcome(ctx context.Context, recipient, displayName string) bool {
	return s.add(ctx, map[string]any{
		"kind":         KindWelcome,
		"recipient":    recipient,
		"display_name": displayName,
	})
}

func (s *Stream) add(ctx context.Context, values map[string]any) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	args := &redis.XAddArgs{Stream: s.stream, Values: values}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		s.log.Warn("notification enqueue failed",
			zap.String("kind", values["kind"].(string)),
			zap.String("stream", s.stream),
			zap.Error(err))
		return false
	}
	return true
}
