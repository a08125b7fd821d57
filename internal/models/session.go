package models

import "time"

// Session is the device's current authenticated session with the authority.
// Offline sessions carry no token: they exist so a purely-offline user has an
// identity before sync promotes it to a real one.
type Session struct {
	Token     string    `json:"token,omitempty"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Offline   bool      `json:"offline"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
