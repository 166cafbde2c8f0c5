package dto

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// IdentifyRequest starts a login flow.
type IdentifyRequest struct {
	Identifier string `json:"identifier"`
}

// IdentifyResponse returns the flow id the client must present to /auth/login.
type IdentifyResponse struct {
	FlowID string `json:"flowId"`
}

// LoginRequest completes a login flow.
type LoginRequest struct {
	FlowID   string `json:"flowId"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly minted access token.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// ChangePasswordRequest payload for POST /user/updatePassword.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ValidationErrors maps a field name to what is wrong with it.
type ValidationErrors map[string]any

func (v ValidationErrors) lengthBetween(field, value string, min, max int) {
	value = strings.TrimSpace(value)
	if value == "" {
		v[field] = "required"
		return
	}
	if n := utf8.RuneCountInString(value); n < min || n > max {
		v[field] = fmt.Sprintf("must be between %d and %d characters", min, max)
	}
}

func (v ValidationErrors) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

// Validate reports field problems; an empty result means the request is well-formed.
func (r IdentifyRequest) Validate() ValidationErrors {
	errs := ValidationErrors{}
	errs.required("identifier", r.Identifier)
	return errs
}

func (r LoginRequest) Validate() ValidationErrors {
	errs := ValidationErrors{}
	errs.required("flowId", r.FlowID)
	errs.required("password", r.Password)
	return errs
}

func (r RegisterRequest) Validate() ValidationErrors {
	errs := ValidationErrors{}
	errs.lengthBetween("username", r.Username, 4, 50)
	errs.lengthBetween("password", r.Password, 8, 100)
	errs.lengthBetween("firstname", r.FirstName, 1, 32)
	errs.lengthBetween("lastname", r.LastName, 1, 32)

	email := strings.TrimSpace(r.Email)
	switch {
	case email == "":
		errs["email"] = "required"
	case !isEmail(email):
		errs["email"] = "must be a valid e-mail address"
	}
	return errs
}

func (r ChangePasswordRequest) Validate() ValidationErrors {
	errs := ValidationErrors{}
	errs.lengthBetween("oldPassword", r.OldPassword, 8, 100)
	errs.lengthBetween("newPassword", r.NewPassword, 8, 100)
	return errs
}

func isEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value && strings.Contains(value, "@")
}
