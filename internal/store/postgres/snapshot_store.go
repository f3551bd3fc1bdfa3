package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// SaveSnapshot inserts a market snapshot. Probabilities are stored as JSONB.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	probs, err := json.Marshal(snap.Probabilities)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot probabilities: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO market_snapshots (id, poll_id, probabilities, total_volume, taken_at)
		VALUES ($1, $2, $3, $4, $5)`,
		snap.ID, snap.PollID, probs, snap.TotalVolume, snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", snap.PollID, err)
	}
	return nil
}

// FindHistoricalSnapshots returns up to limit of the most recent snapshots of
// a poll, oldest first.
func (s *SnapshotStore) FindHistoricalSnapshots(ctx context.Context, pollID string, limit int) ([]domain.MarketSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, poll_id, probabilities, total_volume, taken_at FROM (
			SELECT id, poll_id, probabilities, total_volume, taken_at
			FROM market_snapshots
			WHERE poll_id = $1
			ORDER BY taken_at DESC
			LIMIT $2
		) recent
		ORDER BY taken_at`, pollID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: find snapshots %s: %w", pollID, err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		var snap domain.MarketSnapshot
		var probs []byte
		if err := rows.Scan(&snap.ID, &snap.PollID, &probs, &snap.TotalVolume, &snap.TakenAt); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		if err := json.Unmarshal(probs, &snap.Probabilities); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal snapshot probabilities: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find snapshots rows: %w", err)
	}
	return out, nil
}
