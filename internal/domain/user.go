package domain

import "time"

// User is the account record the authentication flows resolve against.
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	MiddleName          string
	Active              bool
	Locked              bool
	Deleted             bool
	FailedLoginAttempts int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
