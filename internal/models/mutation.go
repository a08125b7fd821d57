package models

import (
	"encoding/json"
	"time"
)

// Kind partitions queued mutations by entity type. Local identifiers are
// unique within a partition, not across partitions.
type Kind string

const (
	KindAccount      Kind = "account"
	KindRegistration Kind = "registration"
	KindAttendance   Kind = "attendance"
)

// Kinds lists every partition in upload order: accounts first, then
// registrations, then attendances, matching the authority's processing order.
var Kinds = []Kind{KindAccount, KindRegistration, KindAttendance}

// PendingMutation is one queued write. CapturedAt is the business time of the
// original user action and must survive all the way to the authority
// unchanged. Synchronized stays false until the authority durably accepted
// the mutation; synchronized envelopes are retained, never re-uploaded.
type PendingMutation struct {
	LocalID      string          `json:"localId"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	CapturedAt   time.Time       `json:"capturedAt"`
	Synchronized bool            `json:"synchronized"`
}

// AccountPayload is an account created while offline. The password is held in
// clear until upload: local storage stays on the owning device and the
// authority is the one that hashes it.
type AccountPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// RegistrationPayload queues an event registration. EventID is always a real
// server identifier because the event catalog is read-only and pre-fetched.
// OwnerLocalID is set when the registration belongs to an account that was
// also created offline in the same session.
type RegistrationPayload struct {
	EventID      string `json:"eventId"`
	OwnerLocalID string `json:"ownerLocalId,omitempty"`
}

// AttendancePayload queues a check-in against a registration, identified by
// either a local or a server identifier.
type AttendancePayload struct {
	RegistrationLocalID string `json:"registrationLocalId"`
}

func (m *PendingMutation) DecodePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
