// Package grpcserver exposes the tenantauth gRPC API handlers.
package grpcserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/tenantauth/internal/convert"
	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/service"
	"github.com/and161185/tenantauth/internal/sweeper"
)

// Service names.
const (
	AuthService  = "tenantauth.v1.Auth"
	AdminService = "tenantauth.v1.Admin"
)

// Metadata keys read from incoming calls.
const (
	MDAPIKey    = "x-api-key"
	MDAPISecret = "x-api-secret"
	MDMasterKey = "x-master-key"
	MDAuth      = "authorization"
)

// access is the credential a method requires.
type access int

const (
	accessTenant      access = iota // x-api-key
	accessUser                      // x-api-key and a bearer access token
	accessMaster                    // x-master-key
	accessTenantAdmin               // x-api-key and x-api-secret
)

type handlerFunc func(s *Server, ctx context.Context, in convert.Fields) (map[string]any, error)

type method struct {
	name   string
	access access
	call   handlerFunc
}

// Deps groups the services the server dispatches to.
type Deps struct {
	Auth      service.AuthService
	Tenants   *service.TenantService
	Users     *service.UserService
	Sweeper   *sweeper.Sweeper
	MasterKey string
	Log       *zap.Logger
}

// Server wires services into gRPC handlers.
type Server struct {
	auth      service.AuthService
	tenants   *service.TenantService
	users     *service.UserService
	sweeper   *sweeper.Sweeper
	masterKey []byte
	log       *zap.Logger
}

// New constructs a gRPC server with injected services.
func New(d Deps) *Server {
	return &Server{
		auth:      d.Auth,
		tenants:   d.Tenants,
		users:     d.Users,
		sweeper:   d.Sweeper,
		masterKey: []byte(d.MasterKey),
		log:       d.Log.Named("grpc"),
	}
}

// Register adds the Auth and Admin services to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(serviceDesc(AuthService, authMethods), s)
	gs.RegisterService(serviceDesc(AdminService, adminMethods), s)
}

var authMethods = []method{
	{"SignUp", accessTenant, (*Server).signUp},
	{"SignIn", accessTenant, (*Server).signIn},
	{"Refresh", accessTenant, (*Server).refresh},
	{"VerifyEmail", accessTenant, (*Server).verifyEmail},
	{"ResendVerification", accessTenant, (*Server).resendVerification},
	{"ForgotPassword", accessTenant, (*Server).forgotPassword},
	{"ResetPassword", accessTenant, (*Server).resetPassword},
	{"ChangePassword", accessUser, (*Server).changePassword},
	{"Logout", accessUser, (*Server).logout},
	{"LogoutAll", accessUser, (*Server).logoutAll},
	{"DeleteAccount", accessUser, (*Server).deleteAccount},
	{"GetProfile", accessUser, (*Server).getProfile},
	{"UpdateProfile", accessUser, (*Server).updateProfile},
	{"ListSessions", accessUser, (*Server).listSessions},
	{"RevokeSession", accessUser, (*Server).revokeSession},
}

var adminMethods = []method{
	{"RegisterTenant", accessMaster, (*Server).registerTenant},
	{"SetTenantActive", accessMaster, (*Server).setTenantActive},
	{"Sweep", accessMaster, (*Server).sweep},
	{"GetTenant", accessTenantAdmin, (*Server).getTenant},
	{"UpdateTenantConfig", accessTenantAdmin, (*Server).updateTenantConfig},
	{"RotateSecret", accessTenantAdmin, (*Server).rotateSecret},
	{"SetUserStatus", accessTenantAdmin, (*Server).setUserStatus},
}

// serviceDesc describes a service whose methods all take and return structpb.Struct.
func serviceDesc(name string, methods []method) *grpc.ServiceDesc {
	sd := &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*any)(nil),
		Metadata:    "tenantauth/v1/" + strings.ToLower(name[strings.LastIndex(name, ".")+1:]) + ".proto",
	}
	for _, m := range methods {
		sd.Methods = append(sd.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler("/"+name+"/"+m.name, m),
		})
	}
	return sd
}

type unaryFunc = func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(fullMethod string, m method) unaryFunc {
	return func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		h := func(ctx context.Context, req any) (any, error) {
			return s.invoke(ctx, fullMethod, m, req.(*structpb.Struct))
		}
		if ic == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return ic(ctx, in, info, h)
	}
}

func (s *Server) invoke(ctx context.Context, fullMethod string, m method, in *structpb.Struct) (*structpb.Struct, error) {
	ctx, err := s.authorize(ctx, m.access)
	if err != nil {
		return nil, toStatus(ctx, s.log, fullMethod, err)
	}
	out, err := m.call(s, ctx, convert.Read(in))
	if err != nil {
		return nil, toStatus(ctx, s.log, fullMethod, err)
	}
	resp, err := convert.Struct(out)
	if err != nil {
		return nil, toStatus(ctx, s.log, fullMethod, err)
	}
	return resp, nil
}

// authorize checks the credentials the method requires and stores what it resolved in ctx.
func (s *Server) authorize(ctx context.Context, a access) (context.Context, error) {
	if a == accessMaster {
		key := mdValue(ctx, MDMasterKey)
		if len(s.masterKey) == 0 || subtle.ConstantTimeCompare([]byte(key), s.masterKey) != 1 {
			return ctx, errs.ErrForbidden
		}
		return ctx, nil
	}

	tenant, err := s.tenants.ResolveAPIKey(ctx, mdValue(ctx, MDAPIKey))
	if err != nil {
		return ctx, err
	}
	ctx = WithTenant(ctx, tenant)

	switch a {
	case accessTenantAdmin:
		if err := s.tenants.AuthenticateSecret(tenant, mdValue(ctx, MDAPISecret)); err != nil {
			return ctx, err
		}
	case accessUser:
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return ctx, errs.ErrUnauthorized
		}
		claims, err := s.auth.Authenticate(ctx, tenant, tok)
		if err != nil {
			return ctx, err
		}
		ctx = WithClaims(ctx, claims)
	}
	return ctx, nil
}

func mdValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get(MDAuth) {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// caller returns the tenant and user authorize stored in ctx.
func caller(ctx context.Context) (*model.Tenant, uuid.UUID) {
	t, _ := TenantFromCtx(ctx)
	id, _ := UserIDFromCtx(ctx)
	return t, id
}
