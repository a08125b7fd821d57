package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/offlinehq/eventsync/internal/models"
)

// MemoryMutationRepository is a mutex-guarded, insertion-ordered in-memory
// queue. It backs tests and the agent's ephemeral mode; the Postgres
// repository is the durable implementation.
type MemoryMutationRepository struct {
	mu    sync.RWMutex
	items map[models.Kind][]models.PendingMutation

	// failNext forces the next enqueue to fail, for exercising the
	// persistence-failure path in tests.
	failNext bool
}

func NewMemoryMutationRepository() *MemoryMutationRepository {
	return &MemoryMutationRepository{
		items: make(map[models.Kind][]models.PendingMutation),
	}
}

// FailNextEnqueue makes the next Enqueue return ErrPersistence.
func (r *MemoryMutationRepository) FailNextEnqueue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = true
}

func (r *MemoryMutationRepository) Enqueue(_ context.Context, kind models.Kind, payload any, capturedAt time.Time) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext {
		r.failNext = false
		return "", fmt.Errorf("%w: failed to enqueue %s mutation", ErrPersistence, kind)
	}

	localID := models.NewLocalID()
	r.items[kind] = append(r.items[kind], models.PendingMutation{
		LocalID:    localID,
		Kind:       kind,
		Payload:    data,
		CapturedAt: capturedAt,
	})
	return localID, nil
}

func (r *MemoryMutationRepository) ListPending(_ context.Context, kind models.Kind) ([]models.PendingMutation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.PendingMutation
	for _, m := range r.items[kind] {
		if !m.Synchronized {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *MemoryMutationRepository) ListAll(_ context.Context, kind models.Kind) ([]models.PendingMutation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.PendingMutation, len(r.items[kind]))
	copy(result, r.items[kind])
	return result, nil
}

func (r *MemoryMutationRepository) MarkSynchronized(_ context.Context, kind models.Kind, localID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items[kind] {
		if r.items[kind][i].LocalID == localID {
			r.items[kind][i].Synchronized = true
			return nil
		}
	}
	return nil
}

func (r *MemoryMutationRepository) Remove(_ context.Context, kind models.Kind, localID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.items[kind] {
		if m.LocalID == localID {
			r.items[kind] = append(r.items[kind][:i], r.items[kind][i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryMutationRepository) CountPending(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, partition := range r.items {
		for _, m := range partition {
			if !m.Synchronized {
				count++
			}
		}
	}
	return count, nil
}

func (r *MemoryMutationRepository) FindAccountByEmail(_ context.Context, email string) (*models.PendingMutation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.items[models.KindAccount] {
		var payload models.AccountPayload
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			continue
		}
		if payload.Email == email {
			found := m
			return &found, nil
		}
	}
	return nil, ErrNotFound
}
