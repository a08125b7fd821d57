package models

import "time"

// Event is a catalog entry fetched from the authority. The catalog is
// read-only on this side; events always carry server identifiers.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Capacity    int       `json:"capacity,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
}
