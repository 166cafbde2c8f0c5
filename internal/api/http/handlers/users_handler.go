package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/taskflow-auth/internal/api/dto"
	"github.com/spec-kit/taskflow-auth/internal/auth"
	"github.com/spec-kit/taskflow-auth/internal/service"
	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

// UsersHandler exposes endpoints for the authenticated caller.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// Me handles GET /user/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c.UserContext())
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	user, err := h.auth.Me(c.UserContext(), principal.Username)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewUserProfileResponse(user))
}

// UpdatePassword handles POST /user/updatePassword.
func (h *UsersHandler) UpdatePassword(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c.UserContext())
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if errs := req.Validate(); len(errs) > 0 {
		return apperrors.NewValidationError("invalid password change payload", errs)
	}

	if err := h.auth.ChangePassword(c.UserContext(), principal.Username, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(dto.MessageResponse{Message: "Password updated successfully."})
}
