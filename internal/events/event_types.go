package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered  EventType = "user_registered"
	EventFlowCreated     EventType = "flow_created"
	EventLoginSucceeded  EventType = "login_succeeded"
	EventLoginFailed     EventType = "login_failed"
	EventFlowLocked      EventType = "flow_locked"
	EventTokenRefreshed  EventType = "token_refreshed"
	EventPasswordChanged EventType = "password_changed"
)

// Event represents an authentication event emitted by services. Payloads never
// carry passwords or tokens.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Username  string      `json:"username"`
	FlowID    string      `json:"flow_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// LoginFailedPayload describes a rejected password.
type LoginFailedPayload struct {
	Attempts int `json:"attempts"`
	Limit    int `json:"limit"`
}

// FlowLockedPayload describes a flow that ran out of attempts.
type FlowLockedPayload struct {
	Attempts int `json:"attempts"`
}

// UserRegisteredPayload describes a new account.
type UserRegisteredPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
