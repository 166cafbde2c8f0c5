package domain

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access-token"
	TokenTypeRefresh TokenType = "refresh-token"
)

// RoleUser is granted to every account that completes a login.
const RoleUser = "USER"

// RefreshTokenCookie names the cookie carrying the refresh token.
const RefreshTokenCookie = "refresh-token"
