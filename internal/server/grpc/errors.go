package grpcserver

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/tenantauth/internal/errs"
)

// Trailer keys attached to failed calls.
const (
	TrailerErrorCode  = "x-error-code"
	TrailerRetryAfter = "retry-after"
)

// codeOf maps a failure kind to its gRPC status code.
func codeOf(k errs.Kind) codes.Code {
	switch k {
	case errs.KindInvalidCredentials, errs.KindInvalidRefreshToken, errs.KindUnauthorized, errs.KindInvalidAPIKey:
		return codes.Unauthenticated
	case errs.KindAccountLocked, errs.KindAccountSuspended, errs.KindTenantInactive, errs.KindForbidden:
		return codes.PermissionDenied
	case errs.KindAccountNotVerified:
		return codes.FailedPrecondition
	case errs.KindTooManyOTPRequests, errs.KindRateLimited:
		return codes.ResourceExhausted
	case errs.KindInvalidOTP, errs.KindWeakPassword, errs.KindPasswordsMismatch, errs.KindInvalidEmail,
		errs.KindInvalidUsername, errs.KindInvalidPhone, errs.KindValidation, errs.KindInvalidCurrentPassword:
		return codes.InvalidArgument
	case errs.KindUserAlreadyExists:
		return codes.AlreadyExists
	case errs.KindTenantNotFound, errs.KindUserNotFound, errs.KindNotFound:
		return codes.NotFound
	case errs.KindInternal:
		return codes.Internal
	default:
		return codes.Internal
	}
}

// toStatus converts a service error to a gRPC status and sets the error trailers.
// Internal causes are logged and replaced by a generic message.
func toStatus(ctx context.Context, log *zap.Logger, method string, err error) error {
	if _, ok := status.FromError(err); ok && !isTyped(err) {
		return err
	}
	kind := errs.KindOf(err)
	if kind == errs.KindInternal {
		log.Error("request failed", zap.String("method", method), zap.Error(err))
	}

	md := metadata.Pairs(TrailerErrorCode, kind.Code())
	var e *errs.Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		md.Append(TrailerRetryAfter, retryAfterSeconds(e.RetryAfter))
	}
	_ = grpc.SetTrailer(ctx, md)

	return status.Error(codeOf(kind), errs.Message(err))
}

func isTyped(err error) bool {
	var e *errs.Error
	return errors.As(err, &e)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
