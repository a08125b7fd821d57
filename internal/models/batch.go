package models

import "time"

// SyncBatch is the single outbound upload. Array order is insertion order per
// partition; the authority processes accounts before registrations before
// attendances within one request so freshly minted identifiers can be
// referenced across arrays.
type SyncBatch struct {
	Accounts      []AccountSync      `json:"accounts,omitempty"`
	Registrations []RegistrationSync `json:"registrations,omitempty"`
	Attendances   []AttendanceSync   `json:"attendances,omitempty"`
}

// AccountSync carries one offline-created account. ID is nil when the local
// identifier does not match the server shape; the authority mints the real one
// and maps it to LocalRef for the rest of the batch.
type AccountSync struct {
	ID             *string   `json:"id"`
	LocalRef       string    `json:"localRef"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Password       string    `json:"password"`
	Phone          string    `json:"phone,omitempty"`
	CreatedOffline bool      `json:"createdOffline"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// RegistrationSync carries one offline registration. Exactly one of OwnerID
// and OwnerLocalRef is set: OwnerID when the owner already has a server
// identifier, OwnerLocalRef when the owner account travels in the same batch.
type RegistrationSync struct {
	ID             *string   `json:"id"`
	LocalRef       string    `json:"localRef"`
	EventID        string    `json:"eventId"`
	OwnerID        *string   `json:"ownerId,omitempty"`
	OwnerLocalRef  string    `json:"ownerLocalRef,omitempty"`
	CreatedOffline bool      `json:"createdOffline"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// AttendanceSync carries one offline check-in, referencing its registration
// the same way RegistrationSync references its owner.
type AttendanceSync struct {
	ID                   *string   `json:"id"`
	LocalRef             string    `json:"localRef"`
	RegistrationID       *string   `json:"registrationId,omitempty"`
	RegistrationLocalRef string    `json:"registrationLocalRef,omitempty"`
	CreatedOffline       bool      `json:"createdOffline"`
	CapturedAt           time.Time `json:"capturedAt"`
}

// Empty reports whether the batch carries nothing worth uploading.
func (b *SyncBatch) Empty() bool {
	return len(b.Accounts) == 0 && len(b.Registrations) == 0 && len(b.Attendances) == 0
}

// SyncResponse is the authority's per-kind accounting for one upload.
type SyncResponse struct {
	AccountsProcessed      int    `json:"accountsProcessed"`
	RegistrationsProcessed int    `json:"registrationsProcessed"`
	AttendancesProcessed   int    `json:"attendancesProcessed"`
	Errors                 int    `json:"errors"`
	Message                string `json:"message"`
}

// SyncReport is what one engine pass returns to callers. Skipped counts
// items left pending because they failed local validation and may resolve on
// a later pass; Stranded counts items whose referenced parent already
// synchronized without leaving an identifier mapping, which no retry can fix.
// Both are reported, never silently dropped.
type SyncReport struct {
	AccountsProcessed      int       `json:"accountsProcessed"`
	RegistrationsProcessed int       `json:"registrationsProcessed"`
	AttendancesProcessed   int       `json:"attendancesProcessed"`
	Skipped                int       `json:"skipped"`
	Stranded               int       `json:"stranded"`
	AuthorityErrors        int       `json:"authorityErrors"`
	Message                string    `json:"message"`
	FinishedAt             time.Time `json:"finishedAt"`
}

// Zero reports whether the pass touched nothing at all.
func (r *SyncReport) Zero() bool {
	return r.AccountsProcessed == 0 && r.RegistrationsProcessed == 0 &&
		r.AttendancesProcessed == 0 && r.Skipped == 0 && r.Stranded == 0 &&
		r.AuthorityErrors == 0
}
