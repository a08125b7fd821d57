package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offlinehq/eventsync/internal/models"
)

// PostgresMutationRepository keeps the mutation queue in a single table
// partitioned by kind. A bigserial column preserves insertion order, which the
// sync engine relies on for dependency resolution.
type PostgresMutationRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresMutationRepository(pool *pgxpool.Pool) *PostgresMutationRepository {
	return &PostgresMutationRepository{pool: pool}
}

const mutationSchema = `
CREATE TABLE IF NOT EXISTS pending_mutations (
    seq          BIGSERIAL PRIMARY KEY,
    kind         TEXT NOT NULL,
    local_id     TEXT NOT NULL,
    payload      JSONB NOT NULL,
    captured_at  TIMESTAMPTZ NOT NULL,
    synchronized BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (kind, local_id)
);
CREATE INDEX IF NOT EXISTS pending_mutations_pending_idx
    ON pending_mutations (kind, seq) WHERE NOT synchronized;
`

// EnsureSchema creates the queue table if it does not exist yet. The agent
// owns its local database, so there is no separate migration step.
func (r *PostgresMutationRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, mutationSchema); err != nil {
		return fmt.Errorf("failed to ensure mutation schema: %w", err)
	}
	return nil
}

func (r *PostgresMutationRepository) Enqueue(ctx context.Context, kind models.Kind, payload any, capturedAt time.Time) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	localID := models.NewLocalID()
	query := `INSERT INTO pending_mutations (kind, local_id, payload, captured_at, synchronized)
              VALUES ($1, $2, $3, $4, FALSE)`

	if _, err := r.pool.Exec(ctx, query, kind, localID, data, capturedAt); err != nil {
		return "", fmt.Errorf("%w: failed to enqueue %s mutation: %v", ErrPersistence, kind, err)
	}
	return localID, nil
}

func (r *PostgresMutationRepository) ListPending(ctx context.Context, kind models.Kind) ([]models.PendingMutation, error) {
	query := `SELECT local_id, kind, payload, captured_at, synchronized
              FROM pending_mutations
              WHERE kind = $1 AND NOT synchronized
              ORDER BY seq`
	return r.list(ctx, query, kind)
}

func (r *PostgresMutationRepository) ListAll(ctx context.Context, kind models.Kind) ([]models.PendingMutation, error) {
	query := `SELECT local_id, kind, payload, captured_at, synchronized
              FROM pending_mutations
              WHERE kind = $1
              ORDER BY seq`
	return r.list(ctx, query, kind)
}

func (r *PostgresMutationRepository) list(ctx context.Context, query string, kind models.Kind) ([]models.PendingMutation, error) {
	rows, err := r.pool.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s mutations: %w", kind, err)
	}
	defer rows.Close()

	var result []models.PendingMutation
	for rows.Next() {
		var m models.PendingMutation
		if err := rows.Scan(&m.LocalID, &m.Kind, &m.Payload, &m.CapturedAt, &m.Synchronized); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s mutations: %w", kind, err)
	}
	return result, nil
}

func (r *PostgresMutationRepository) MarkSynchronized(ctx context.Context, kind models.Kind, localID string) error {
	query := `UPDATE pending_mutations SET synchronized = TRUE WHERE kind = $1 AND local_id = $2`
	if _, err := r.pool.Exec(ctx, query, kind, localID); err != nil {
		return fmt.Errorf("failed to mark %s %s synchronized: %w", kind, localID, err)
	}
	return nil
}

func (r *PostgresMutationRepository) Remove(ctx context.Context, kind models.Kind, localID string) error {
	query := `DELETE FROM pending_mutations WHERE kind = $1 AND local_id = $2`
	result, err := r.pool.Exec(ctx, query, kind, localID)
	if err != nil {
		return fmt.Errorf("failed to remove %s %s: %w", kind, localID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresMutationRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM pending_mutations WHERE NOT synchronized`
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return count, nil
}

func (r *PostgresMutationRepository) FindAccountByEmail(ctx context.Context, email string) (*models.PendingMutation, error) {
	query := `SELECT local_id, kind, payload, captured_at, synchronized
              FROM pending_mutations
              WHERE kind = $1 AND payload->>'email' = $2
              ORDER BY seq LIMIT 1`

	row := r.pool.QueryRow(ctx, query, models.KindAccount, email)

	var m models.PendingMutation
	err := row.Scan(&m.LocalID, &m.Kind, &m.Payload, &m.CapturedAt, &m.Synchronized)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return &m, nil
}
