package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/offlinehq/eventsync/internal/models"
)

type memoryCacheEntry struct {
	data      json.RawMessage
	expiresAt time.Time
}

// MemoryCacheRepository mirrors the Redis cache with wall-clock expiry checked
// on read. Expired entries are treated as misses, not errors.
type MemoryCacheRepository struct {
	mu         sync.RWMutex
	entries    map[string]memoryCacheEntry
	ttls       map[string]time.Duration
	defaultTTL time.Duration
	now        func() time.Time
}

func NewMemoryCacheRepository(ttls map[string]time.Duration, defaultTTL time.Duration) *MemoryCacheRepository {
	return &MemoryCacheRepository{
		entries:    make(map[string]memoryCacheEntry),
		ttls:       ttls,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for expiry tests.
func (r *MemoryCacheRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryCacheRepository) Get(_ context.Context, kind string, key string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[fmt.Sprintf(cacheKeyFormat, kind, key)]
	if !ok || r.now().After(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	return entry.data, nil
}

func (r *MemoryCacheRepository) Put(_ context.Context, kind string, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ttl := r.defaultTTL
	if t, ok := r.ttls[kind]; ok {
		ttl = t
	}
	r.entries[fmt.Sprintf(cacheKeyFormat, kind, key)] = memoryCacheEntry{
		data:      data,
		expiresAt: r.now().Add(ttl),
	}
	return nil
}

// MemorySessionRepository holds the current session in memory.
type MemorySessionRepository struct {
	mu      sync.RWMutex
	session *models.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{}
}

func (r *MemorySessionRepository) Save(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.session = &copied
	return nil
}

func (r *MemorySessionRepository) Current(_ context.Context) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return nil, ErrNotFound
	}
	if !r.session.ExpiresAt.IsZero() && time.Now().After(r.session.ExpiresAt) {
		return nil, ErrNotFound
	}
	copied := *r.session
	return &copied, nil
}

func (r *MemorySessionRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = nil
	return nil
}
