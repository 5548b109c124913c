// Command authctl is a CLI client for the tenantauth service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/tenantauth/internal/server/grpc"
	"github.com/and161185/tenantauth/internal/telemetry"
)

// ---- session store ----

type sessionFile struct {
	APIKey       string    `json:"api_key"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "tenantauth")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tenantauth")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(s sessionFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// loadSession returns the saved session. A missing file yields an empty session.
func loadSession() (sessionFile, error) {
	var s sessionFile
	b, err := os.ReadFile(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	return s, nil
}

// accessToken returns the saved access token while it is still valid.
func (s sessionFile) accessToken() (string, error) {
	if s.AccessToken == "" || time.Now().After(s.ExpiresAt) {
		return "", errors.New("no valid access token (signin or refresh required)")
	}
	return s.AccessToken, nil
}

// ---- grpc dial ----

// mdCreds attaches fixed metadata (API key, secret, master key, bearer token) to every call.
type mdCreds struct {
	md     map[string]string
	secure bool
}

func (c mdCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return c.md, nil
}
func (c mdCreds) RequireTransportSecurity() bool { return c.secure }

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // explicit dev flag
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// app carries global flags shared by every command.
type app struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
	apiKey    string
	apiSecret string
	masterKey string
	out       io.Writer
	// dialOpts are appended to every dial; tests inject an in-memory dialer here.
	dialOpts []grpc.DialOption
}

func (a *app) dial(ctx context.Context, md map[string]string) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if a.plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(a.caPath, a.insecure)
		if err != nil {
			return nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds), telemetry.DialOption()}
	if len(md) > 0 {
		opts = append(opts, grpc.WithPerRPCCredentials(mdCreds{md: md, secure: !a.plaintext}))
	}
	opts = append(opts, a.dialOpts...)
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	return grpc.DialContext(ctx, a.addr, opts...)
}

// call invokes service/method ("Auth/SignIn") with a JSON-shaped payload.
func (a *app) call(ctx context.Context, method string, in map[string]any, md map[string]string) (*structpb.Struct, error) {
	if in == nil {
		in = map[string]any{}
	}
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	cc, err := a.dial(ctx, md)
	if err != nil {
		return nil, err
	}
	defer cc.Close()
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/tenantauth.v1."+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// tenantMD returns the API key metadata, falling back to the saved session.
func (a *app) tenantMD() (map[string]string, error) {
	key := a.apiKey
	if key == "" {
		s, err := loadSession()
		if err != nil {
			return nil, err
		}
		key = s.APIKey
	}
	if key == "" {
		return nil, errors.New("no API key (-api-key or TENANTAUTH_API_KEY)")
	}
	return map[string]string{grpcserver.MDAPIKey: key}, nil
}

func (a *app) userMD() (map[string]string, error) {
	md, err := a.tenantMD()
	if err != nil {
		return nil, err
	}
	s, err := loadSession()
	if err != nil {
		return nil, err
	}
	tok, err := s.accessToken()
	if err != nil {
		return nil, err
	}
	md[grpcserver.MDAuth] = "Bearer " + tok
	return md, nil
}

func (a *app) adminMD() (map[string]string, error) {
	md, err := a.tenantMD()
	if err != nil {
		return nil, err
	}
	if a.apiSecret == "" {
		return nil, errors.New("no API secret (-api-secret or TENANTAUTH_API_SECRET)")
	}
	md[grpcserver.MDAPISecret] = a.apiSecret
	return md, nil
}

func (a *app) masterMD() (map[string]string, error) {
	if a.masterKey == "" {
		return nil, errors.New("no master key (-master-key or TENANTAUTH_MASTER_KEY)")
	}
	return map[string]string{grpcserver.MDMasterKey: a.masterKey}, nil
}

// ---- utils ----

var printOpts = protojson.MarshalOptions{Multiline: true, Indent: "  "}

func (a *app) print(s *structpb.Struct) error {
	b, err := printOpts.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `authctl CLI
Usage:
  authctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] [-api-key K] <cmd> [args]

Tenant admin (master key):
  tenant-register  -name <name> [-desc <text>] [-config <json>]
  tenant-active    -id <uuid> -active=<bool>
  sweep
Tenant admin (API key + secret):
  tenant-get
  tenant-config    -set <json>
  tenant-rotate
  user-status      -id <uuid> -status ACTIVE|SUSPENDED
Users (API key):
  signup           -email <e> -u <username> -p <password> [-first <n>] [-last <n>] [-phone <p>]
  signin           -login <email|username> -p <password> [-device <name>]   (saves session)
  refresh                                                                   (rotates saved session)
  verify-email     -email <e> -code <otp>
  resend           -email <e>
  forgot           -email <e>
  reset            -email <e> -code <otp> -p <new password>
Users (signed in):
  passwd           -old <password> -new <password>
  logout
  logout-all
  delete-account   -p <password>
  profile
  profile-set      [-first] [-last] [-display] [-phone] [-avatar] [-bio]
  sessions
  revoke-session   -id <uuid>
  version
`)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses global flags and dispatches the subcommand.
func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, nil))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, dialOpts []grpc.DialOption) int {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	a := &app{out: stdout, dialOpts: dialOpts}
	fs.StringVar(&a.addr, "addr", envOr("TENANTAUTH_ADDR", "localhost:8443"), "server addr")
	fs.StringVar(&a.caPath, "cacert", "", "CA cert (PEM)")
	fs.BoolVar(&a.insecure, "insecure", false, "skip cert verify (dev)")
	fs.BoolVar(&a.plaintext, "plaintext", false, "no TLS (dev server)")
	fs.StringVar(&a.apiKey, "api-key", os.Getenv("TENANTAUTH_API_KEY"), "tenant API key")
	fs.StringVar(&a.apiSecret, "api-secret", os.Getenv("TENANTAUTH_API_SECRET"), "tenant API secret")
	fs.StringVar(&a.masterKey, "master-key", os.Getenv("TENANTAUTH_MASTER_KEY"), "admin master key")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return 2
	}
	name := fs.Arg(0)
	if name == "version" {
		fmt.Fprintf(stdout, "authctl %s (%s)\n", version, buildDate)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		usage(stderr)
		return 2
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cmd(ctx, a, fs.Args()[1:]); err != nil {
		report(stderr, err)
		return 1
	}
	return 0
}

func report(w io.Writer, err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(w, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		return
	}
	fmt.Fprintln(w, strings.TrimSpace(err.Error()))
}
