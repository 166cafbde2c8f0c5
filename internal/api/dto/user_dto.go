package dto

import "github.com/spec-kit/taskflow-auth/internal/domain"

// UserProfileResponse describes the authenticated account.
type UserProfileResponse struct {
	ID                  string `json:"id"`
	Username            string `json:"username"`
	Email               string `json:"email"`
	FirstName           string `json:"firstname"`
	LastName            string `json:"lastname"`
	MiddleName          string `json:"middlename"`
	Active              bool   `json:"active"`
	Locked              bool   `json:"locked"`
	Deleted             bool   `json:"deleted"`
	FailedLoginAttempts int    `json:"failedLoginAttempts"`
}

// NewUserProfileResponse maps a domain user without its password hash.
func NewUserProfileResponse(user *domain.User) UserProfileResponse {
	return UserProfileResponse{
		ID:                  user.ID,
		Username:            user.Username,
		Email:               user.Email,
		FirstName:           user.FirstName,
		LastName:            user.LastName,
		MiddleName:          user.MiddleName,
		Active:              user.Active,
		Locked:              user.Locked,
		Deleted:             user.Deleted,
		FailedLoginAttempts: user.FailedLoginAttempts,
	}
}
