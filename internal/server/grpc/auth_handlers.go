package grpcserver

import (
	"context"

	"github.com/and161185/tenantauth/internal/convert"
)

func message(msg string) map[string]any { return map[string]any{"message": msg} }

// --- public (API key only) ---

func (s *Server) signUp(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	u, err := s.auth.SignUp(ctx, tenant, convert.SignUpInput(in, remoteIP(ctx)))
	if err != nil {
		return nil, err
	}
	msg := "Account created successfully"
	if tenant.Config.EmailVerificationRequired {
		msg = "Account created successfully. Please verify your email."
	}
	return map[string]any{"user": convert.User(u), "message": msg}, nil
}

func (s *Server) signIn(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	res, err := s.auth.SignIn(ctx, tenant, convert.SignInInput(in, remoteIP(ctx)))
	if err != nil {
		return nil, err
	}
	return convert.AuthResult(res), nil
}

func (s *Server) refresh(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	res, err := s.auth.Refresh(ctx, tenant, in.Str("refreshToken"), remoteIP(ctx))
	if err != nil {
		return nil, err
	}
	return convert.AuthResult(res), nil
}

func (s *Server) verifyEmail(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	u, err := s.auth.VerifyEmail(ctx, tenant, in.Str("email"), in.Str("code"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": convert.User(u), "message": "Email verified successfully"}, nil
}

func (s *Server) resendVerification(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	if err := s.auth.ResendVerification(ctx, tenant, in.Str("email"), remoteIP(ctx)); err != nil {
		return nil, err
	}
	return message("Verification code sent"), nil
}

func (s *Server) forgotPassword(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	if err := s.auth.ForgotPassword(ctx, tenant, in.Str("email"), remoteIP(ctx)); err != nil {
		return nil, err
	}
	return message("If the email exists, a password reset code has been sent"), nil
}

func (s *Server) resetPassword(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	if err := s.auth.ResetPassword(ctx, tenant, convert.ResetPasswordInput(in)); err != nil {
		return nil, err
	}
	return message("Password reset successfully"), nil
}

// --- authenticated (API key and bearer token) ---

func (s *Server) changePassword(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, userID := caller(ctx)
	if err := s.auth.ChangePassword(ctx, tenant, userID, convert.ChangePasswordInput(in)); err != nil {
		return nil, err
	}
	return message("Password changed successfully"), nil
}

func (s *Server) logout(ctx context.Context, in convert.Fields) (map[string]any, error) {
	_, userID := caller(ctx)
	if err := s.auth.Logout(ctx, userID, in.Str("refreshToken")); err != nil {
		return nil, err
	}
	return message("Logged out successfully"), nil
}

func (s *Server) logoutAll(ctx context.Context, _ convert.Fields) (map[string]any, error) {
	_, userID := caller(ctx)
	n, err := s.auth.LogoutAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": "Logged out from all devices", "revoked": n}, nil
}

func (s *Server) deleteAccount(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, userID := caller(ctx)
	if err := s.auth.DeleteAccount(ctx, tenant, userID, in.Str("password")); err != nil {
		return nil, err
	}
	return message("Account deleted successfully"), nil
}

func (s *Server) getProfile(ctx context.Context, _ convert.Fields) (map[string]any, error) {
	tenant, userID := caller(ctx)
	u, err := s.users.GetProfile(ctx, tenant.ID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": convert.User(u)}, nil
}

func (s *Server) updateProfile(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, userID := caller(ctx)
	u, err := s.users.UpdateProfile(ctx, tenant.ID, userID, convert.ProfileUpdate(in))
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": convert.User(u)}, nil
}

func (s *Server) listSessions(ctx context.Context, _ convert.Fields) (map[string]any, error) {
	tenant, userID := caller(ctx)
	list, err := s.users.ListSessions(ctx, tenant.ID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessions": convert.Sessions(list)}, nil
}

func (s *Server) revokeSession(ctx context.Context, in convert.Fields) (map[string]any, error) {
	_, userID := caller(ctx)
	id, err := in.UUID("sessionId")
	if err != nil {
		return nil, err
	}
	if err := s.users.RevokeSession(ctx, userID, id); err != nil {
		return nil, err
	}
	return message("Session revoked"), nil
}
