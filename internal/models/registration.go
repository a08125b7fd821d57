package models

import "time"

// Registration is one of the user's registrations as the authority reports
// it, for display. The offline write path never reads these; queued
// registrations live as PendingMutation envelopes until they sync.
type Registration struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	EventTitle string    `json:"eventTitle,omitempty"`
	Attended   bool      `json:"attended"`
	CreatedAt  time.Time `json:"createdAt"`
}
