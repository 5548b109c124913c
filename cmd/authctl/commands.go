package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/tenantauth/internal/convert"
	grpcserver "github.com/and161185/tenantauth/internal/server/grpc"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"tenant-register": cmdTenantRegister,
	"tenant-active":   cmdTenantActive,
	"sweep":           cmdSweep,
	"tenant-get":      cmdTenantGet,
	"tenant-config":   cmdTenantConfig,
	"tenant-rotate":   cmdTenantRotate,
	"user-status":     cmdUserStatus,
	"signup":          cmdSignUp,
	"signin":          cmdSignIn,
	"refresh":         cmdRefresh,
	"verify-email":    cmdVerifyEmail,
	"resend":          cmdResend,
	"forgot":          cmdForgot,
	"reset":           cmdReset,
	"passwd":          cmdPasswd,
	"logout":          cmdLogout,
	"logout-all":      cmdLogoutAll,
	"delete-account":  cmdDeleteAccount,
	"profile":         cmdProfile,
	"profile-set":     cmdProfileSet,
	"sessions":        cmdSessions,
	"revoke-session":  cmdRevokeSession,
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func need(ok bool, msg string) error {
	if !ok {
		return errors.New(msg)
	}
	return nil
}

// parseJSONObject parses a JSON object given on the command line.
func parseJSONObject(s string) (map[string]any, error) {
	var st structpb.Struct
	if err := protojson.Unmarshal([]byte(s), &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

// storeTokens saves a sign-in or refresh response as the current session.
func storeTokens(apiKey string, out *structpb.Struct) error {
	f := convert.Read(out)
	exp, err := time.Parse(time.RFC3339, f.Str("expiresAt"))
	if err != nil {
		secs, _, _ := f.Int("expiresIn")
		exp = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return saveSession(sessionFile{
		APIKey:       apiKey,
		AccessToken:  f.Str("accessToken"),
		RefreshToken: f.Str("refreshToken"),
		ExpiresAt:    exp,
	})
}

// ---- tenant admin ----

func cmdTenantRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlags("tenant-register")
	name := fs.String("name", "", "tenant name")
	desc := fs.String("desc", "", "description")
	cfg := fs.String("config", "", "tenant config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*name != "", "need -name"); err != nil {
		return err
	}
	in := map[string]any{"name": *name, "description": *desc}
	if *cfg != "" {
		m, err := parseJSONObject(*cfg)
		if err != nil {
			return err
		}
		in["config"] = m
	}
	md, err := a.masterMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Admin/RegisterTenant", in, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdTenantActive(ctx context.Context, a *app, args []string) error {
	fs := newFlags("tenant-active")
	id := fs.String("id", "", "tenant id")
	active := fs.Bool("active", true, "active state")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*id != "", "need -id"); err != nil {
		return err
	}
	md, err := a.masterMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Admin/SetTenantActive", map[string]any{"tenantId": *id, "active": *active}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdSweep(ctx context.Context, a *app, _ []string) error {
	md, err := a.masterMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Admin/Sweep", nil, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdTenantGet(ctx context.Context, a *app, _ []string) error {
	md, err := a.adminMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Admin/GetTenant", nil, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdTenantConfig(ctx context.Context, a *app, args []string) error {
	fs := newFlags("tenant-config")
	set := fs.String("set", "", "partial config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*set != "", "need -set"); err != nil {
		return err
	}
	cfg, err := parseJSONObject(*set)
	if err != nil {
		return err
	}
	md, err := a.adminMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Admin/UpdateTenantConfig", map[string]any{"config": cfg}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdTenantRotate(ctx context.Context, a *app, _ []string) error {
	md, err := a.adminMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Admin/RotateSecret", nil, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdUserStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlags("user-status")
	id := fs.String("id", "", "user id")
	status := fs.String("status", "", "ACTIVE or SUSPENDED")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*id != "" && *status != "", "need -id -status"); err != nil {
		return err
	}
	md, err := a.adminMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Admin/SetUserStatus", map[string]any{"userId": *id, "status": *status}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

// ---- public user flows ----

func cmdSignUp(ctx context.Context, a *app, args []string) error {
	fs := newFlags("signup")
	email := fs.String("email", "", "email")
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	phone := fs.String("phone", "", "phone")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*email != "" && *user != "" && *pass != "", "need -email -u -p"); err != nil {
		return err
	}
	md, err := a.tenantMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/SignUp", map[string]any{
		"email":           *email,
		"username":        *user,
		"password":        *pass,
		"confirmPassword": *pass,
		"firstName":       *first,
		"lastName":        *last,
		"phone":           *phone,
	}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdSignIn(ctx context.Context, a *app, args []string) error {
	fs := newFlags("signin")
	login := fs.String("login", "", "email or username")
	pass := fs.String("p", "", "password")
	device := fs.String("device", "authctl", "device name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*login != "" && *pass != "", "need -login -p"); err != nil {
		return err
	}
	md, err := a.tenantMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/SignIn", map[string]any{
		"emailOrUsername": *login,
		"password":        *pass,
		"deviceInfo":      map[string]any{"deviceName": *device, "platform": "cli", "appVersion": version},
	}, md)
	if err != nil {
		return err
	}
	if err := storeTokens(md[grpcserver.MDAPIKey], out); err != nil {
		return err
	}
	return a.print(out)
}

func cmdRefresh(ctx context.Context, a *app, _ []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	if err := need(s.RefreshToken != "", "no saved session (signin first)"); err != nil {
		return err
	}
	md, err := a.tenantMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/Refresh", map[string]any{"refreshToken": s.RefreshToken}, md)
	if err != nil {
		return err
	}
	if err := storeTokens(md[grpcserver.MDAPIKey], out); err != nil {
		return err
	}
	return a.print(out)
}

// emailOnly runs a flow that takes a single -email flag.
func emailOnly(name, method string) command {
	return func(ctx context.Context, a *app, args []string) error {
		fs := newFlags(name)
		email := fs.String("email", "", "email")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := need(*email != "", "need -email"); err != nil {
			return err
		}
		md, err := a.tenantMD()
		if err != nil {
			return err
		}
		out, err := a.call(ctx, method, map[string]any{"email": *email}, md)
		if err != nil {
			return err
		}
		return a.print(out)
	}
}

var (
	cmdResend = emailOnly("resend", "Auth/ResendVerification")
	cmdForgot = emailOnly("forgot", "Auth/ForgotPassword")
)

func cmdVerifyEmail(ctx context.Context, a *app, args []string) error {
	fs := newFlags("verify-email")
	email := fs.String("email", "", "email")
	code := fs.String("code", "", "verification code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*email != "" && *code != "", "need -email -code"); err != nil {
		return err
	}
	md, err := a.tenantMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/VerifyEmail", map[string]any{"email": *email, "code": *code}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdReset(ctx context.Context, a *app, args []string) error {
	fs := newFlags("reset")
	email := fs.String("email", "", "email")
	code := fs.String("code", "", "reset code")
	pass := fs.String("p", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*email != "" && *code != "" && *pass != "", "need -email -code -p"); err != nil {
		return err
	}
	md, err := a.tenantMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/ResetPassword", map[string]any{
		"email": *email, "code": *code, "newPassword": *pass, "confirmPassword": *pass,
	}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

// ---- signed-in flows ----

func cmdPasswd(ctx context.Context, a *app, args []string) error {
	fs := newFlags("passwd")
	oldPW := fs.String("old", "", "current password")
	newPW := fs.String("new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*oldPW != "" && *newPW != "", "need -old -new"); err != nil {
		return err
	}
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/ChangePassword", map[string]any{
		"currentPassword": *oldPW, "newPassword": *newPW, "confirmPassword": *newPW,
	}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/Logout", map[string]any{"refreshToken": s.RefreshToken}, md)
	if err != nil {
		return err
	}
	if err := saveSession(sessionFile{APIKey: s.APIKey}); err != nil {
		return err
	}
	return a.print(out)
}

func cmdLogoutAll(ctx context.Context, a *app, _ []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/LogoutAll", nil, md)
	if err != nil {
		return err
	}
	if err := saveSession(sessionFile{APIKey: s.APIKey}); err != nil {
		return err
	}
	return a.print(out)
}

func cmdDeleteAccount(ctx context.Context, a *app, args []string) error {
	fs := newFlags("delete-account")
	pass := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*pass != "", "need -p"); err != nil {
		return err
	}
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/DeleteAccount", map[string]any{"password": *pass}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdProfile(ctx context.Context, a *app, _ []string) error {
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/GetProfile", nil, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdProfileSet(ctx context.Context, a *app, args []string) error {
	fs := newFlags("profile-set")
	fields := map[string]*string{
		"firstName":   fs.String("first", "", "first name"),
		"lastName":    fs.String("last", "", "last name"),
		"displayName": fs.String("display", "", "display name"),
		"phone":       fs.String("phone", "", "phone"),
		"avatar":      fs.String("avatar", "", "avatar URL"),
		"bio":         fs.String("bio", "", "bio"),
	}
	flagOf := map[string]string{
		"first": "firstName", "last": "lastName", "display": "displayName",
		"phone": "phone", "avatar": "avatar", "bio": "bio",
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	// only flags given explicitly are sent, so "-bio=" clears the bio
	in := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		key := flagOf[f.Name]
		in[key] = *fields[key]
	})
	if err := need(len(in) > 0, "nothing to update"); err != nil {
		return err
	}
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/UpdateProfile", in, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdSessions(ctx context.Context, a *app, _ []string) error {
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/ListSessions", nil, md)
	if err != nil {
		return err
	}
	return a.print(out)
}

func cmdRevokeSession(ctx context.Context, a *app, args []string) error {
	fs := newFlags("revoke-session")
	id := fs.String("id", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(*id != "", "need -id"); err != nil {
		return err
	}
	md, err := a.userMD()
	if err != nil {
		return err
	}
	out, err := a.call(ctx, "Auth/RevokeSession", map[string]any{"sessionId": *id}, md)
	if err != nil {
		return err
	}
	return a.print(out)
}
