package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/taskflow-auth/internal/domain"
)

// BearerPrefix is the only Authorization scheme accepted. Matching is case-sensitive.
const BearerPrefix = "Bearer "

const minKeyBytes = 32

var (
	ErrInvalidSecret    = errors.New("signing key must be at least 32 bytes")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformedToken   = errors.New("token malformed")
)

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Key        []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Claims describes the JWT payload.
type Claims struct {
	Type  domain.TokenType `json:"type,omitempty"`
	Roles []string         `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 session tokens. It holds no mutable
// state after construction and is safe for concurrent use.
type TokenService struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewTokenService builds a new service.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Key) < minKeyBytes {
		return nil, ErrInvalidSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	key := make([]byte, len(cfg.Key))
	copy(key, cfg.Key)

	return &TokenService{
		key:        key,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		// Expiry is decided by IsTokenExpired against the service clock, not by the parser.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// CreateAccessToken signs a short-lived access token.
func (s *TokenService) CreateAccessToken(username string, roles []string) (string, error) {
	return s.sign(username, roles, domain.TokenTypeAccess, s.accessTTL)
}

// CreateRefreshToken signs a long-lived refresh token.
func (s *TokenService) CreateRefreshToken(username string, roles []string) (string, error) {
	return s.sign(username, roles, domain.TokenTypeRefresh, s.refreshTTL)
}

func (s *TokenService) sign(username string, roles []string, typ domain.TokenType, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Type:  typ,
		Roles: append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", typ, err)
	}
	return signed, nil
}

// Parse verifies the signature and returns the claims. Unverified claims are never returned.
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, ErrMalformedToken
	}

	parsed, err := s.parser.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// IsTokenExpired reports whether the claims are past their expiration.
// Claims without an expiration are treated as expired.
func (s *TokenService) IsTokenExpired(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Time.Before(s.now())
}

func (s *TokenService) IsAccessToken(claims *Claims) bool {
	return claims != nil && claims.Type == domain.TokenTypeAccess
}

func (s *TokenService) IsRefreshToken(claims *Claims) bool {
	return claims != nil && claims.Type == domain.TokenTypeRefresh
}

// Roles returns the role claim, or an empty list when absent.
func (s *TokenService) Roles(claims *Claims) []string {
	if claims == nil || len(claims.Roles) == 0 {
		return []string{}
	}
	return append([]string(nil), claims.Roles...)
}

// Subject returns the username the token was issued to.
func (s *TokenService) Subject(claims *Claims) string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// RefreshTTL returns the refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// ExtractBearerToken returns the token carried by an Authorization header value.
func ExtractBearerToken(header string) (string, bool) {
	if strings.TrimSpace(header) == "" || !strings.HasPrefix(header, BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(BearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
