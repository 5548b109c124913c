package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/tenantauth/internal/convert"
	"github.com/and161185/tenantauth/internal/crypto"
	"github.com/and161185/tenantauth/internal/limiter"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/otp"
	"github.com/and161185/tenantauth/internal/repository/memory"
	grpcserver "github.com/and161185/tenantauth/internal/server/grpc"
	"github.com/and161185/tenantauth/internal/service"
	"github.com/and161185/tenantauth/internal/session"
	"github.com/and161185/tenantauth/internal/token"
)

const testMasterKey = "cli-master-key-0123"

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "tenantauth")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(sessionPath(), base) || !strings.HasSuffix(sessionPath(), "session.json") {
		t.Fatalf("sessionPath unexpected: %s", sessionPath())
	}
}

func Test_session_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	s, err := loadSession()
	if err != nil || s.APIKey != "" {
		t.Fatalf("missing file should load empty: %+v %v", s, err)
	}
	if _, err := s.accessToken(); err == nil {
		t.Fatalf("expected error without token")
	}

	want := sessionFile{APIKey: "ak_1", AccessToken: "tok", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Minute)}
	if err := saveSession(want); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	fi, err := os.Stat(sessionPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("session file perms: %v %v", fi, err)
	}
	got, err := loadSession()
	if err != nil || got.APIKey != "ak_1" || got.RefreshToken != "rt" {
		t.Fatalf("loadSession: %+v %v", got, err)
	}
	if tok, err := got.accessToken(); err != nil || tok != "tok" {
		t.Fatalf("accessToken: %q %v", tok, err)
	}

	want.ExpiresAt = time.Now().Add(-time.Minute)
	if err := saveSession(want); err != nil {
		t.Fatalf("saveSession expired: %v", err)
	}
	got, _ = loadSession()
	if _, err := got.accessToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_mdCreds_Metadata(t *testing.T) {
	t.Parallel()

	c := mdCreds{md: map[string]string{"x-api-key": "K", "authorization": "Bearer T"}, secure: true}
	md, err := c.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" || md["x-api-key"] != "K" {
		t.Fatalf("metadata mismatch: %v", md)
	}
	if !c.RequireTransportSecurity() {
		t.Fatalf("secure creds must require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}

	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}

func Test_parseJSONObject(t *testing.T) {
	t.Parallel()

	m, err := parseJSONObject(`{"password":{"minLength":12},"emailVerificationRequired":false}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, ok := m["emailVerificationRequired"].(bool); !ok || v {
		t.Fatalf("bool lost: %v", m)
	}
	if _, err := parseJSONObject(`[1,2]`); err == nil {
		t.Fatalf("want error for non-object")
	}
}

/************ end to end ************/

type nopNotifier struct{}

func (nopNotifier) SendOTP(context.Context, string, string, model.OTPPurpose) bool { return true }
func (nopNotifier) SendWelcome(context.Context, string, string) bool             { return true }

// startServer runs an in-memory server and returns the dial option that reaches it.
func startServer(t *testing.T) grpc.DialOption {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.NewStore(nil)
	hasher, err := crypto.NewHasher(crypto.AlgorithmBcrypt, 4)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	issuer, err := token.NewIssuer(token.Config{
		Issuer: "tenantauth", Audience: "tenantauth-clients",
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	ledger := session.NewLedger(st.Tokens, nil, log)
	auth := service.NewAuthService(service.AuthDeps{
		Users:    st.Users,
		Hasher:   hasher,
		Issuer:   issuer,
		OTP:      otp.NewEngine(st.OTPs, nopNotifier{}, nil, log, otp.Config{}),
		Sessions: ledger,
		Guard:    limiter.NewGuard(st.Users),
		Notifier: nopNotifier{},
		Log:      log,
	})
	srv := grpcserver.New(grpcserver.Deps{
		Auth:      auth,
		Tenants:   service.NewTenantService(st.Tenants, log),
		Users:     service.NewUserService(st.Users, ledger, log),
		MasterKey: testMasterKey,
		Log:       log,
	})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() { gs.Stop(); _ = lis.Close() })
	return grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() })
}

func runCLI(t *testing.T, dial grpc.DialOption, args ...string) (convert.Fields, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"-addr", "bufnet", "-plaintext"}, args...)
	code := run(context.Background(), full, &stdout, &stderr, []grpc.DialOption{dial})
	var out structpb.Struct
	if code == 0 && stdout.Len() > 0 {
		if err := protojson.Unmarshal(stdout.Bytes(), &out); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
		}
	}
	return convert.Read(&out), stderr.String(), code
}

func TestCLI_EndToEnd(t *testing.T) {
	_ = withTmpConfig(t)
	dial := startServer(t)

	reg, errOut, code := runCLI(t, dial, "-master-key", testMasterKey,
		"tenant-register", "-name", "shop", "-config", `{"emailVerificationRequired":false}`)
	if code != 0 {
		t.Fatalf("tenant-register: %d %s", code, errOut)
	}
	key, secret := reg.Sub("tenant").Str("apiKey"), reg.Str("apiSecret")
	if key == "" || secret == "" {
		t.Fatalf("credentials missing")
	}

	if _, errOut, code := runCLI(t, dial, "-api-key", key,
		"signup", "-email", "zoe@example.com", "-u", "zoe", "-p", "Str0ngP@ss"); code != 0 {
		t.Fatalf("signup: %s", errOut)
	}
	signin, errOut, code := runCLI(t, dial, "-api-key", key, "signin", "-login", "zoe", "-p", "Str0ngP@ss")
	if code != 0 {
		t.Fatalf("signin: %s", errOut)
	}
	userID := signin.Sub("user").Str("id")
	saved, err := loadSession()
	if err != nil || saved.APIKey != key || saved.RefreshToken == "" {
		t.Fatalf("session not saved: %+v %v", saved, err)
	}

	// the API key now comes from the saved session
	prof, errOut, code := runCLI(t, dial, "profile")
	if code != 0 || prof.Sub("user").Str("username") != "zoe" {
		t.Fatalf("profile: %d %s", code, errOut)
	}
	upd, errOut, code := runCLI(t, dial, "profile-set", "-bio", "hello")
	if code != 0 || upd.Sub("user").Sub("profile").Str("bio") != "hello" {
		t.Fatalf("profile-set: %d %s", code, errOut)
	}

	if _, errOut, code := runCLI(t, dial, "refresh"); code != 0 {
		t.Fatalf("refresh: %s", errOut)
	}
	rotated, _ := loadSession()
	if rotated.RefreshToken == saved.RefreshToken {
		t.Fatalf("refresh did not rotate the saved session")
	}

	sess, _, code := runCLI(t, dial, "sessions")
	if code != 0 || len(sess.List("sessions")) != 1 {
		t.Fatalf("sessions: %d", code)
	}

	if got, errOut, code := runCLI(t, dial, "-api-key", key, "-api-secret", secret, "tenant-get"); code != 0 ||
		got.Sub("tenant").Str("name") != "shop" {
		t.Fatalf("tenant-get: %s", errOut)
	}

	if _, errOut, code := runCLI(t, dial, "logout"); code != 0 {
		t.Fatalf("logout: %s", errOut)
	}
	_, errOut, code = runCLI(t, dial, "profile")
	if code != 1 || !strings.Contains(errOut, "access token") {
		t.Fatalf("profile after logout: %d %q", code, errOut)
	}

	st, errOut, code := runCLI(t, dial, "-api-key", key, "-api-secret", secret,
		"user-status", "-id", userID, "-status", "SUSPENDED")
	if code != 0 || st.Sub("user").Str("status") != "SUSPENDED" {
		t.Fatalf("user-status: %d %s", code, errOut)
	}
	_, errOut, code = runCLI(t, dial, "-api-key", key, "signin", "-login", "zoe", "-p", "Str0ngP@ss")
	if code != 1 || !strings.Contains(errOut, "PermissionDenied") {
		t.Fatalf("signin while suspended: %d %q", code, errOut)
	}
}

func TestCLI_Errors(t *testing.T) {
	_ = withTmpConfig(t)
	dial := startServer(t)

	if _, _, code := runCLI(t, dial); code != 2 {
		t.Fatalf("no command: code=%d", code)
	}
	if _, _, code := runCLI(t, dial, "bogus"); code != 2 {
		t.Fatalf("unknown command: code=%d", code)
	}
	_, errOut, code := runCLI(t, dial, "-master-key", "wrong", "tenant-register", "-name", "x")
	if code != 1 || !strings.Contains(errOut, "PermissionDenied") {
		t.Fatalf("bad master key: %d %q", code, errOut)
	}
	_, errOut, code = runCLI(t, dial, "signin", "-login", "a", "-p", "b")
	if code != 1 || !strings.Contains(errOut, "no API key") {
		t.Fatalf("missing api key: %d %q", code, errOut)
	}
	_, errOut, code = runCLI(t, dial, "-api-key", "ak_nope", "signin", "-login", "a", "-p", "b")
	if code != 1 || !strings.Contains(errOut, "Unauthenticated") {
		t.Fatalf("unknown api key: %d %q", code, errOut)
	}
}
