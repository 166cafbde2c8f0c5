package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/taskflow-auth/internal/domain"
	"github.com/spec-kit/taskflow-auth/internal/repository"
	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

// Rejection reasons returned by Authenticate. Handle collapses all of them into
// one unauthorized response.
var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongTokenType = errors.New("access token required")
	ErrUnknownSubject = errors.New("token subject not found")
)

const (
	principalKey = "auth_principal"

	unauthorizedMessage = "authentication required"
)

// publicPaths are served without a token. Entries ending in '*' match by prefix.
var publicPaths = []string{
	"/auth/identify",
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/v3/api-docs*",
	"/swagger-ui*",
	"/health/*",
}

// UserLookup resolves a token subject to an account.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

type principalCtxKey struct{}

// Principal is the identity established for a single request.
type Principal struct {
	Username    string
	Authorities map[string]struct{}
}

// HasAuthority reports whether the principal carries the role.
func (p *Principal) HasAuthority(role string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Authorities[role]
	return ok
}

func newPrincipal(username string, roles []string) *Principal {
	authorities := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		authorities[role] = struct{}{}
	}
	return &Principal{Username: username, Authorities: authorities}
}

// WithPrincipal returns a copy of ctx carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the authenticated caller from a request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok && p != nil
}

// PrincipalFromFiber retrieves the authenticated caller from fiber locals.
func PrincipalFromFiber(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// Authenticator turns an Authorization header into a principal.
type Authenticator struct {
	tokens *TokenService
	users  UserLookup
	logger *zap.Logger
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(tokens *TokenService, users UserLookup, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{tokens: tokens, users: users, logger: logger}
}

// Authenticate validates the header and resolves its subject. Every failure
// returns a nil principal.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	raw, ok := ExtractBearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}

	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if a.tokens.IsTokenExpired(claims) {
		return nil, ErrTokenExpired
	}
	if !a.tokens.IsAccessToken(claims) {
		return nil, ErrWrongTokenType
	}

	username := a.tokens.Subject(claims)
	if strings.TrimSpace(username) == "" {
		return nil, ErrInvalidToken
	}

	user, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			a.logger.Error("subject lookup failed", zap.String("username", username), zap.Error(err))
		}
		return nil, ErrUnknownSubject
	}
	if user == nil || user.Deleted {
		return nil, ErrUnknownSubject
	}

	return newPrincipal(user.Username, a.tokens.Roles(claims)), nil
}

// AuthGate is the fiber middleware guarding every non-public route.
type AuthGate struct {
	authenticator *Authenticator
	logger        *zap.Logger
	onReject      func(reason error)
}

// NewAuthGate constructs middleware. onReject is optional and observes the
// specific rejection reason the client never sees.
func NewAuthGate(authenticator *Authenticator, logger *zap.Logger, onReject func(reason error)) *AuthGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthGate{authenticator: authenticator, logger: logger, onReject: onReject}
}

// Handle enforces authentication for protected routes.
func (g *AuthGate) Handle(c *fiber.Ctx) error {
	if IsPublicPath(c.Path()) {
		return c.Next()
	}

	principal, err := g.authenticator.Authenticate(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	if err != nil {
		g.logger.Debug("request rejected",
			zap.String("path", c.Path()),
			zap.String("reason", err.Error()),
		)
		if g.onReject != nil {
			g.onReject(err)
		}
		return apperrors.NewUnauthorized(unauthorizedMessage)
	}

	c.SetUserContext(WithPrincipal(c.UserContext(), principal))
	c.Locals(principalKey, principal)
	return c.Next()
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	for _, pattern := range publicPaths {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}
