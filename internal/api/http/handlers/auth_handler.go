package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/taskflow-auth/internal/api/dto"
	"github.com/spec-kit/taskflow-auth/internal/domain"
	"github.com/spec-kit/taskflow-auth/internal/service"
	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

// AuthHandler exposes the unauthenticated /auth endpoints.
type AuthHandler struct {
	auth         *service.AuthService
	cookieSecure bool
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{auth: authService, cookieSecure: cookieSecure}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if errs := req.Validate(); len(errs) > 0 {
		return apperrors.NewValidationError("invalid registration payload", errs)
	}

	if _, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}); err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(dto.MessageResponse{Message: "User created successfully."})
}

// Identify handles POST /auth/identify.
func (h *AuthHandler) Identify(c *fiber.Ctx) error {
	var req dto.IdentifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if errs := req.Validate(); len(errs) > 0 {
		return apperrors.NewValidationError("invalid identifier", errs)
	}

	f, err := h.auth.Identify(c.UserContext(), req.Identifier)
	if err != nil {
		return err
	}
	return c.JSON(dto.IdentifyResponse{FlowID: f.ID})
}

// Login handles POST /auth/login. The refresh token travels only in an
// http-only cookie.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if errs := req.Validate(); len(errs) > 0 {
		return apperrors.NewValidationError("invalid login payload", errs)
	}

	result, err := h.auth.Login(c.UserContext(), req.FlowID, req.Password)
	if err != nil {
		return err
	}

	c.Cookie(h.refreshCookie(result.RefreshToken, result.RefreshTTL))
	return c.JSON(dto.TokenResponse{AccessToken: result.AccessToken})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	access, err := h.auth.Refresh(c.UserContext(), c.Cookies(domain.RefreshTokenCookie))
	if err != nil {
		return err
	}
	return c.JSON(dto.TokenResponse{AccessToken: access})
}

func (h *AuthHandler) refreshCookie(token string, ttl time.Duration) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     domain.RefreshTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
	}
}
