package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/offlinehq/eventsync/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrPersistence marks a local durable write that did not succeed. It must
	// reach the enqueue caller: there is no other record of the user's action.
	ErrPersistence = errors.New("persistence failure")

	// ErrCacheMiss covers both "never cached" and "expired".
	ErrCacheMiss = errors.New("cache miss")
)

// MutationRepository is the local mutation store. Listing is always in
// insertion order per partition and returns a consistent snapshot; envelopes
// enqueued after a listing are simply picked up by the next pass.
type MutationRepository interface {
	// Enqueue persists a new envelope with synchronized=false and returns the
	// freshly minted local identifier.
	Enqueue(ctx context.Context, kind models.Kind, payload any, capturedAt time.Time) (string, error)
	ListPending(ctx context.Context, kind models.Kind) ([]models.PendingMutation, error)
	ListAll(ctx context.Context, kind models.Kind) ([]models.PendingMutation, error)
	// MarkSynchronized is idempotent; marking an already-synchronized or
	// unknown envelope is a no-op.
	MarkSynchronized(ctx context.Context, kind models.Kind, localID string) error
	// Remove permanently deletes an envelope. Only for confirmed,
	// no-longer-needed cleanup.
	Remove(ctx context.Context, kind models.Kind, localID string) error
	CountPending(ctx context.Context) (int, error)
	// FindAccountByEmail looks up a queued offline account for local login.
	FindAccountByEmail(ctx context.Context, email string) (*models.PendingMutation, error)
}

// CacheRepository is the TTL-bounded read-through cache of last-known-good
// authority responses. It serves reads while offline and is never consulted
// on the upload path.
type CacheRepository interface {
	Get(ctx context.Context, kind string, key string) (json.RawMessage, error)
	Put(ctx context.Context, kind string, key string, value any) error
}

// SessionRepository stores the device's single current session.
type SessionRepository interface {
	Save(ctx context.Context, session *models.Session) error
	Current(ctx context.Context) (*models.Session, error)
	Clear(ctx context.Context) error
}
