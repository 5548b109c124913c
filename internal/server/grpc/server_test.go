package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/tenantauth/internal/convert"
	"github.com/and161185/tenantauth/internal/crypto"
	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/limiter"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/otp"
	"github.com/and161185/tenantauth/internal/repository/memory"
	"github.com/and161185/tenantauth/internal/service"
	"github.com/and161185/tenantauth/internal/session"
	"github.com/and161185/tenantauth/internal/sweeper"
	"github.com/and161185/tenantauth/internal/token"
)

const (
	bufSize   = 1 << 20
	masterKey = "master-key-for-tests"
	strongPW  = "Str0ngP@ss"
)

type nopNotifier struct{}

func (nopNotifier) SendOTP(context.Context, string, string, model.OTPPurpose) bool { return true }
func (nopNotifier) SendWelcome(context.Context, string, string) bool             { return true }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.NewStore(nil)
	hasher, err := crypto.NewHasher(crypto.AlgorithmBcrypt, 4)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	issuer, err := token.NewIssuer(token.Config{
		Issuer:   "tenantauth",
		Audience: "tenantauth-clients",
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	ledger := session.NewLedger(st.Tokens, nil, log)
	engine := otp.NewEngine(st.OTPs, nopNotifier{}, nil, log, otp.Config{})
	auth := service.NewAuthService(service.AuthDeps{
		Users:    st.Users,
		Hasher:   hasher,
		Issuer:   issuer,
		OTP:      engine,
		Sessions: ledger,
		Guard:    limiter.NewGuard(st.Users),
		Notifier: nopNotifier{},
		Log:      log,
	})
	return New(Deps{
		Auth:      auth,
		Tenants:   service.NewTenantService(st.Tenants, log),
		Users:     service.NewUserService(st.Users, ledger, log),
		Sweeper:   sweeper.New(engine, ledger, nil, log),
		MasterKey: masterKey,
		Log:       log,
	})
}

func startBufGRPC(t *testing.T, srv *Server) (*grpc.ClientConn, func()) {
	t.Helper()
	log := zaptest.NewLogger(t)
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)))
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	stop := func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() }
	return cc, stop
}

/************ helpers ************/

type client struct {
	t  *testing.T
	cc *grpc.ClientConn
}

// call invokes service/method with the given metadata pairs and returns the response and trailer.
func (c client) call(fullMethod string, in map[string]any, md ...string) (convert.Fields, metadata.MD, error) {
	c.t.Helper()
	if in == nil {
		in = map[string]any{}
	}
	req, err := structpb.NewStruct(in)
	if err != nil {
		c.t.Fatalf("request: %v", err)
	}
	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs(md...))
	out := new(structpb.Struct)
	var trailer metadata.MD
	err = c.cc.Invoke(ctx, fullMethod, req, out, grpc.Trailer(&trailer))
	return convert.Read(out), trailer, err
}

func (c client) must(fullMethod string, in map[string]any, md ...string) convert.Fields {
	c.t.Helper()
	out, _, err := c.call(fullMethod, in, md...)
	if err != nil {
		c.t.Fatalf("%s: %v", fullMethod, err)
	}
	return out
}

func authM(name string) string  { return "/" + AuthService + "/" + name }
func adminM(name string) string { return "/" + AdminService + "/" + name }

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if status.Code(err) != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}

// registerTenant creates a tenant without email verification and returns its key and secret.
func registerTenant(c client, name string, extra map[string]any) (string, string) {
	c.t.Helper()
	cfg := map[string]any{"emailVerificationRequired": false}
	for k, v := range extra {
		cfg[k] = v
	}
	out := c.must(adminM("RegisterTenant"), map[string]any{"name": name, "config": cfg}, MDMasterKey, masterKey)
	return out.Sub("tenant").Str("apiKey"), out.Str("apiSecret")
}

func signUpAndIn(c client, apiKey, email, username string) convert.Fields {
	c.t.Helper()
	c.must(authM("SignUp"), map[string]any{
		"email": email, "username": username, "password": strongPW, "confirmPassword": strongPW,
	}, MDAPIKey, apiKey)
	return c.must(authM("SignIn"), map[string]any{
		"emailOrUsername": username,
		"password":        strongPW,
		"deviceInfo":      map[string]any{"deviceName": "laptop"},
	}, MDAPIKey, apiKey)
}

func TestServer_E2E_BasicFlow(t *testing.T) {
	t.Parallel()

	cc, stop := startBufGRPC(t, newTestServer(t))
	defer stop()
	c := client{t: t, cc: cc}

	key, _ := registerTenant(c, "shop", nil)

	signIn := signUpAndIn(c, key, "alice@example.com", "alice")
	if signIn.Str("tokenType") != "Bearer" || signIn.Str("accessToken") == "" || signIn.Str("refreshToken") == "" {
		t.Fatalf("bad sign-in response")
	}
	if signIn.Sub("user").Str("email") != "alice@example.com" {
		t.Fatalf("user missing from sign-in response")
	}
	bearer := "Bearer " + signIn.Str("accessToken")

	prof := c.must(authM("GetProfile"), nil, MDAPIKey, key, MDAuth, bearer)
	if prof.Sub("user").Str("username") != "alice" {
		t.Fatalf("profile mismatch")
	}

	upd := c.must(authM("UpdateProfile"), map[string]any{"bio": "hi"}, MDAPIKey, key, MDAuth, bearer)
	if upd.Sub("user").Sub("profile").Str("bio") != "hi" {
		t.Fatalf("profile not updated")
	}

	refreshed := c.must(authM("Refresh"), map[string]any{"refreshToken": signIn.Str("refreshToken")}, MDAPIKey, key)
	if refreshed.Str("refreshToken") == signIn.Str("refreshToken") {
		t.Fatalf("refresh token not rotated")
	}
	_, _, err := c.call(authM("Refresh"), map[string]any{"refreshToken": signIn.Str("refreshToken")}, MDAPIKey, key)
	wantCode(t, err, codes.Unauthenticated)

	c.must(authM("Logout"), map[string]any{"refreshToken": refreshed.Str("refreshToken")}, MDAPIKey, key, MDAuth, bearer)
	_, _, err = c.call(authM("Refresh"), map[string]any{"refreshToken": refreshed.Str("refreshToken")}, MDAPIKey, key)
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_Sessions(t *testing.T) {
	t.Parallel()

	cc, stop := startBufGRPC(t, newTestServer(t))
	defer stop()
	c := client{t: t, cc: cc}
	key, _ := registerTenant(c, "shop", nil)

	first := signUpAndIn(c, key, "bob@example.com", "bob")
	second := c.must(authM("SignIn"), map[string]any{"emailOrUsername": "bob", "password": strongPW}, MDAPIKey, key)
	bearer := "Bearer " + second.Str("accessToken")

	sessions := c.must(authM("ListSessions"), nil, MDAPIKey, key, MDAuth, bearer).List("sessions")
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	oldest := sessions[0].Str("id")
	_, _, err := c.call(authM("RevokeSession"), map[string]any{"sessionId": oldest}, MDAPIKey, key, MDAuth, bearer)
	if err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	_, _, err = c.call(authM("RevokeSession"), map[string]any{"sessionId": oldest}, MDAPIKey, key, MDAuth, bearer)
	wantCode(t, err, codes.NotFound)
	_, _, err = c.call(authM("RevokeSession"), map[string]any{"sessionId": "nope"}, MDAPIKey, key, MDAuth, bearer)
	wantCode(t, err, codes.InvalidArgument)

	_, _, err = c.call(authM("Refresh"), map[string]any{"refreshToken": first.Str("refreshToken")}, MDAPIKey, key)
	wantCode(t, err, codes.Unauthenticated)

	all := c.must(authM("LogoutAll"), nil, MDAPIKey, key, MDAuth, bearer)
	if n, _, _ := all.Int("revoked"); n != 1 {
		t.Fatalf("revoked = %d, want 1", n)
	}
}

func TestServer_Access(t *testing.T) {
	t.Parallel()

	cc, stop := startBufGRPC(t, newTestServer(t))
	defer stop()
	c := client{t: t, cc: cc}

	_, _, err := c.call(adminM("RegisterTenant"), map[string]any{"name": "x"})
	wantCode(t, err, codes.PermissionDenied)
	_, _, err = c.call(adminM("RegisterTenant"), map[string]any{"name": "x"}, MDMasterKey, "wrong")
	wantCode(t, err, codes.PermissionDenied)

	keyA, secretA := registerTenant(c, "alpha", nil)
	keyB, _ := registerTenant(c, "beta", nil)

	_, _, err = c.call(authM("SignIn"), map[string]any{"emailOrUsername": "a", "password": "b"})
	wantCode(t, err, codes.Unauthenticated)
	_, _, err = c.call(authM("SignIn"), map[string]any{"emailOrUsername": "a", "password": "b"}, MDAPIKey, "ak_unknown")
	wantCode(t, err, codes.Unauthenticated)

	res := signUpAndIn(c, keyA, "carol@example.com", "carol")
	bearer := "Bearer " + res.Str("accessToken")

	_, _, err = c.call(authM("GetProfile"), nil, MDAPIKey, keyA)
	wantCode(t, err, codes.Unauthenticated)
	_, _, err = c.call(authM("GetProfile"), nil, MDAPIKey, keyB, MDAuth, bearer)
	wantCode(t, err, codes.Unauthenticated)
	_, _, err = c.call(authM("Refresh"), map[string]any{"refreshToken": res.Str("refreshToken")}, MDAPIKey, keyB)
	wantCode(t, err, codes.Unauthenticated)

	_, _, err = c.call(adminM("GetTenant"), nil, MDAPIKey, keyA)
	wantCode(t, err, codes.Unauthenticated)
	got := c.must(adminM("GetTenant"), nil, MDAPIKey, keyA, MDAPISecret, secretA)
	if got.Sub("tenant").Str("name") != "alpha" {
		t.Fatalf("wrong tenant")
	}

	rotated := c.must(adminM("RotateSecret"), nil, MDAPIKey, keyA, MDAPISecret, secretA)
	if rotated.Sub("tenant").Str("apiKey") != keyA || rotated.Str("apiSecret") == secretA {
		t.Fatalf("rotation changed key or kept secret")
	}
	_, _, err = c.call(adminM("GetTenant"), nil, MDAPIKey, keyA, MDAPISecret, secretA)
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_TenantAdmin(t *testing.T) {
	t.Parallel()

	cc, stop := startBufGRPC(t, newTestServer(t))
	defer stop()
	c := client{t: t, cc: cc}
	key, secret := registerTenant(c, "shop", nil)

	out := c.must(adminM("UpdateTenantConfig"), map[string]any{
		"config": map[string]any{"password": map[string]any{"minLength": 12}},
	}, MDAPIKey, key, MDAPISecret, secret)
	cfg := out.Sub("tenant").Sub("config")
	if n, _, _ := cfg.Sub("password").Int("minLength"); n != 12 {
		t.Fatalf("minLength = %d", n)
	}
	if v, _ := cfg.Bool("emailVerificationRequired"); v {
		t.Fatalf("partial update reset other fields")
	}

	_, _, err := c.call(adminM("UpdateTenantConfig"), map[string]any{
		"config": map[string]any{"session": map[string]any{"accessTtl": "10s"}},
	}, MDAPIKey, key, MDAPISecret, secret)
	wantCode(t, err, codes.InvalidArgument)

	_, _, err = c.call(authM("SignUp"), map[string]any{
		"email": "d@example.com", "username": "dave", "password": strongPW, "confirmPassword": strongPW,
	}, MDAPIKey, key)
	wantCode(t, err, codes.InvalidArgument)

	id := out.Sub("tenant").Str("id")
	c.must(adminM("SetTenantActive"), map[string]any{"tenantId": id, "active": false}, MDMasterKey, masterKey)
	_, _, err = c.call(authM("SignIn"), map[string]any{"emailOrUsername": "x", "password": "y"}, MDAPIKey, key)
	wantCode(t, err, codes.PermissionDenied)

	sw := c.must(adminM("Sweep"), nil, MDMasterKey, masterKey)
	if _, ok, _ := sw.Int("otps"); !ok {
		t.Fatalf("sweep result missing")
	}
}

func TestServer_SetUserStatus(t *testing.T) {
	t.Parallel()

	cc, stop := startBufGRPC(t, newTestServer(t))
	defer stop()
	c := client{t: t, cc: cc}
	key, secret := registerTenant(c, "shop", nil)
	res := signUpAndIn(c, key, "sue@example.com", "sue")
	userID := res.Sub("user").Str("id")
	admin := []string{MDAPIKey, key, MDAPISecret, secret}

	// the API key alone is not enough
	_, _, err := c.call(adminM("SetUserStatus"), map[string]any{"userId": userID, "status": "SUSPENDED"}, MDAPIKey, key)
	wantCode(t, err, codes.Unauthenticated)
	_, _, err = c.call(adminM("SetUserStatus"), map[string]any{"userId": userID, "status": "DELETED"}, admin...)
	wantCode(t, err, codes.InvalidArgument)

	out := c.must(adminM("SetUserStatus"), map[string]any{"userId": userID, "status": "SUSPENDED"}, admin...)
	if got := out.Sub("user").Str("status"); got != "SUSPENDED" {
		t.Fatalf("status = %q", got)
	}
	_, _, err = c.call(authM("SignIn"), map[string]any{"emailOrUsername": "sue", "password": strongPW}, MDAPIKey, key)
	wantCode(t, err, codes.PermissionDenied)
	_, _, err = c.call(authM("Refresh"), map[string]any{"refreshToken": res.Str("refreshToken")}, MDAPIKey, key)
	wantCode(t, err, codes.Unauthenticated)

	c.must(adminM("SetUserStatus"), map[string]any{"userId": userID, "status": "ACTIVE"}, admin...)
	c.must(authM("SignIn"), map[string]any{"emailOrUsername": "sue", "password": strongPW}, MDAPIKey, key)
}

func TestServer_LockoutTrailers(t *testing.T) {
	t.Parallel()

	cc, stop := startBufGRPC(t, newTestServer(t))
	defer stop()
	c := client{t: t, cc: cc}
	key, _ := registerTenant(c, "shop", map[string]any{
		"lockout": map[string]any{"maxFailedAttempts": 2, "duration": "10m"},
	})
	signUpAndIn(c, key, "erin@example.com", "erin")

	bad := map[string]any{"emailOrUsername": "erin", "password": "wrong"}
	for i := 0; i < 2; i++ {
		_, tr, err := c.call(authM("SignIn"), bad, MDAPIKey, key)
		if i == 0 {
			wantCode(t, err, codes.Unauthenticated)
			if got := tr.Get(TrailerErrorCode); len(got) != 1 || got[0] != errs.KindInvalidCredentials.Code() {
				t.Fatalf("error code trailer = %v", got)
			}
		}
	}

	_, tr, err := c.call(authM("SignIn"), map[string]any{"emailOrUsername": "erin", "password": strongPW}, MDAPIKey, key)
	wantCode(t, err, codes.PermissionDenied)
	if got := tr.Get(TrailerErrorCode); len(got) != 1 || got[0] != errs.KindAccountLocked.Code() {
		t.Fatalf("error code trailer = %v", got)
	}
	if got := tr.Get(TrailerRetryAfter); len(got) != 1 || got[0] == "0" {
		t.Fatalf("retry-after trailer = %v", got)
	}
}

func TestCodeOf_EveryKindMapped(t *testing.T) {
	t.Parallel()

	for k := errs.KindInternal; k <= errs.KindNotFound; k++ {
		c := codeOf(k)
		if c == codes.OK || c == codes.Unknown {
			t.Fatalf("kind %d maps to %s", k, c)
		}
		if k != errs.KindInternal && c == codes.Internal {
			t.Fatalf("kind %s falls through to Internal", k.Code())
		}
	}
}

func TestToStatus_HidesInternalCause(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	err := toStatus(context.Background(), log, "/m", errs.Internal(errors.New("db password leaked")))
	st, _ := status.FromError(err)
	if st.Code() != codes.Internal || st.Message() != "Internal server error" {
		t.Fatalf("got %v", err)
	}

	err = toStatus(context.Background(), log, "/m", errors.New("untyped"))
	if st, _ := status.FromError(err); st.Message() != "Internal server error" {
		t.Fatalf("untyped error leaked: %v", err)
	}

	passthrough := status.Error(codes.Canceled, "gone")
	if got := toStatus(context.Background(), log, "/m", passthrough); got != passthrough {
		t.Fatalf("status errors must pass through unchanged")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	cases := map[string]string{"1ms": "1", "1s": "1", "1500ms": "2", "15m0s": "900"}
	for in, want := range cases {
		d, _ := time.ParseDuration(in)
		if got := retryAfterSeconds(d); got != want {
			t.Fatalf("retryAfterSeconds(%s) = %s, want %s", in, got, want)
		}
	}
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}
