package otp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/repository/memory"
)

type fakeNotifier struct {
	mu    sync.Mutex
	codes []string
	fail  bool
}

func (f *fakeNotifier) SendOTP(_ context.Context, _, code string, _ model.OTPPurpose) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return !f.fail
}

func (f *fakeNotifier) SendWelcome(context.Context, string, string) bool { return true }

func (f *fakeNotifier) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[len(f.codes)-1]
}

func newEngine(t *testing.T, n *fakeNotifier) (*Engine, *time.Time) {
	t.Helper()
	st := memory.NewStore(nil)
	e := NewEngine(st.OTPs, n, nil, zaptest.NewLogger(t), Config{})
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

func req(tenantID uuid.UUID) Request {
	return Request{TenantID: tenantID, Email: "a@x.com", Purpose: model.PurposeEmailVerification}
}

func TestIssue_ShapeAndDelivery(t *testing.T) {
	n := &fakeNotifier{}
	e, now := newEngine(t, n)
	o, err := e.Issue(context.Background(), req(uuid.Must(uuid.NewV4())))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(o.Code) != 6 {
		t.Fatalf("code length = %d", len(o.Code))
	}
	for _, c := range o.Code {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit code %q", o.Code)
		}
	}
	if !o.ExpiresAt.Equal(now.Add(10*time.Minute)) || o.MaxAttempts != 3 {
		t.Fatalf("unexpected otp: %+v", o)
	}
	if n.last() != o.Code {
		t.Fatalf("notifier got %q, want %q", n.last(), o.Code)
	}
}

func TestIssue_DeliveryFailureKeepsCode(t *testing.T) {
	n := &fakeNotifier{fail: true}
	e, _ := newEngine(t, n)
	tenantID := uuid.Must(uuid.NewV4())
	o, err := e.Issue(context.Background(), req(tenantID))
	if err != nil {
		t.Fatalf("delivery failure must not fail issue: %v", err)
	}
	if _, err := e.Verify(context.Background(), tenantID, "a@x.com", o.Code, model.PurposeEmailVerification); err != nil {
		t.Fatalf("stored code must stay valid: %v", err)
	}
}

func TestIssue_ThrottlesSixthRequest(t *testing.T) {
	e, now := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		*now = now.Add(time.Second)
		if _, err := e.Issue(ctx, req(tenantID)); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	_, err := e.Issue(ctx, req(tenantID))
	if !errors.Is(err, errs.ErrTooManyOTPRequests) {
		t.Fatalf("6th issue: want TooManyOtpRequests, got %v", err)
	}

	other := req(tenantID)
	other.Purpose = model.PurposePasswordReset
	if _, err := e.Issue(ctx, other); err != nil {
		t.Fatalf("other purpose must not be throttled: %v", err)
	}
	if _, err := e.Issue(ctx, req(uuid.Must(uuid.NewV4()))); err != nil {
		t.Fatalf("other tenant must not be throttled: %v", err)
	}
}

func TestIssue_ThrottleSpansWholeWindow(t *testing.T) {
	e, now := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	start := *now
	for i := 1; i <= 5; i++ {
		if _, err := e.Issue(ctx, req(tenantID)); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	// every code has expired but the hour has not passed
	*now = start.Add(11 * time.Minute)
	_, err := e.Issue(ctx, req(tenantID))
	if !errors.Is(err, errs.ErrTooManyOTPRequests) {
		t.Fatalf("issue after codes expired: want TooManyOtpRequests, got %v", err)
	}

	// a sweep inside the window must not reset the count
	if _, err := e.SweepExpired(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	*now = start.Add(59 * time.Minute)
	if _, err := e.Issue(ctx, req(tenantID)); !errors.Is(err, errs.ErrTooManyOTPRequests) {
		t.Fatalf("issue after sweep: want TooManyOtpRequests, got %v", err)
	}

	*now = start.Add(time.Hour + time.Second)
	if _, err := e.Issue(ctx, req(tenantID)); err != nil {
		t.Fatalf("issue after window: %v", err)
	}
}

func TestVerify_SingleUse(t *testing.T) {
	e, _ := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	o, err := e.Issue(ctx, req(tenantID))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := e.Verify(ctx, tenantID, "a@x.com", o.Code, model.PurposeEmailVerification); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := e.Verify(ctx, tenantID, "a@x.com", o.Code, model.PurposeEmailVerification); !errors.Is(err, errs.ErrInvalidOTP) {
		t.Fatalf("second verify: want InvalidOtp, got %v", err)
	}
}

func TestVerify_ScopedByPurposeAndTenant(t *testing.T) {
	e, _ := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	o, _ := e.Issue(ctx, req(tenantID))

	if _, err := e.Verify(ctx, tenantID, "a@x.com", o.Code, model.PurposePasswordReset); !errors.Is(err, errs.ErrInvalidOTP) {
		t.Fatalf("wrong purpose: %v", err)
	}
	if _, err := e.Verify(ctx, uuid.Must(uuid.NewV4()), "a@x.com", o.Code, model.PurposeEmailVerification); !errors.Is(err, errs.ErrInvalidOTP) {
		t.Fatalf("wrong tenant: %v", err)
	}
}

func TestVerify_ExhaustionBurnsCorrectCode(t *testing.T) {
	e, _ := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	o, _ := e.Issue(ctx, req(tenantID))

	wrong := "000000"
	if o.Code == wrong {
		wrong = "111111"
	}
	for i := 0; i < 3; i++ {
		if _, err := e.Verify(ctx, tenantID, "a@x.com", wrong, model.PurposeEmailVerification); !errors.Is(err, errs.ErrInvalidOTP) {
			t.Fatalf("wrong code %d: %v", i, err)
		}
	}
	if _, err := e.Verify(ctx, tenantID, "a@x.com", o.Code, model.PurposeEmailVerification); !errors.Is(err, errs.ErrInvalidOTP) {
		t.Fatalf("4th submission with correct code must fail, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	e, now := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	o, _ := e.Issue(ctx, req(tenantID))
	*now = now.Add(10*time.Minute + time.Second)
	if _, err := e.Verify(ctx, tenantID, "a@x.com", o.Code, model.PurposeEmailVerification); !errors.Is(err, errs.ErrInvalidOTP) {
		t.Fatalf("expired code: %v", err)
	}
}

func TestVerify_ResendSupersedesOlderCode(t *testing.T) {
	n := &fakeNotifier{}
	e, now := newEngine(t, n)
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	first, _ := e.Issue(ctx, req(tenantID))
	*now = now.Add(time.Second)
	second, _ := e.Issue(ctx, req(tenantID))
	if first.Code == second.Code {
		t.Skip("codes collided")
	}
	if _, err := e.Verify(ctx, tenantID, "a@x.com", first.Code, model.PurposeEmailVerification); !errors.Is(err, errs.ErrInvalidOTP) {
		t.Fatalf("older code must not redeem: %v", err)
	}
	if _, err := e.Verify(ctx, tenantID, "a@x.com", second.Code, model.PurposeEmailVerification); err != nil {
		t.Fatalf("newest code: %v", err)
	}
}

func TestVerify_ConcurrentCorrectSubmissionsSingleWinner(t *testing.T) {
	e, _ := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	o, _ := e.Issue(ctx, req(tenantID))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Verify(ctx, tenantID, "a@x.com", o.Code, model.PurposeEmailVerification); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 {
		t.Fatalf("want exactly one success, got %d", ok.Load())
	}
}

func TestVerify_ConcurrentWrongSubmissionsCannotExceedAttempts(t *testing.T) {
	e, _ := newEngine(t, &fakeNotifier{})
	tenantID := uuid.Must(uuid.NewV4())
	ctx := context.Background()
	o, _ := e.Issue(ctx, req(tenantID))
	wrong := "000000"
	if o.Code == wrong {
		wrong = "111111"
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Verify(ctx, tenantID, "a@x.com", wrong, model.PurposeEmailVerification)
		}()
	}
	wg.Wait()
	if _, err := e.Verify(ctx, tenantID, "a@x.com", o.Code, model.PurposeEmailVerification); !errors.Is(err, errs.ErrInvalidOTP) {
		t.Fatalf("exhausted code redeemed after concurrent guessing: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	e, now := newEngine(t, &fakeNotifier{})
	ctx := context.Background()
	if _, err := e.Issue(ctx, req(uuid.Must(uuid.NewV4()))); err != nil {
		t.Fatalf("issue: %v", err)
	}
	*now = now.Add(time.Hour)
	n, err := e.SweepExpired(ctx)
	if err != nil || n != 0 {
		t.Fatalf("sweep inside window: n=%d err=%v", n, err)
	}
	*now = now.Add(11 * time.Minute)
	n, err = e.SweepExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
}
