package queue

import "time"

// Event types published to the auth.events queue. They are audit signals,
// not control flow: the session manager never waits on them.
const (
	EventLogin           = "login"
	EventLogoutAll       = "logout_all"
	EventPasswordChanged = "password_changed"
	EventReuseDetected   = "refresh_reuse_detected"
	EventDeactivated     = "user_deactivated"
)

// AuthEvent is the message body for the auth.events queue.
type AuthEvent struct {
	Type          string    `json:"type"`
	UserID        uint64    `json:"user_id"`
	DeviceContext string    `json:"device_context,omitempty"`
	At            time.Time `json:"at"`
}
