package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PredictionStore implements the prediction half of domain.PredictionStore
// using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a new PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionCols = `id, user_id, poll_id, option_id, confidence, points, reasoning,
	payout, is_resolved, created_at, resolved_at`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	err := row.Scan(
		&p.ID, &p.UserID, &p.PollID, &p.OptionID, &p.Confidence, &p.Points, &p.Reasoning,
		&p.Payout, &p.IsResolved, &p.CreatedAt, &p.ResolvedAt,
	)
	return p, err
}

func queryPredictions(ctx context.Context, q querier, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPrediction inserts p, or replaces the unresolved prediction the same
// user already holds on the poll. The conflict row keeps its ID. The row is
// selected from the poll under FOR SHARE, so it waits on a resolution holding
// the poll row and then sees the poll closed.
func (s *PredictionStore) UpsertPrediction(ctx context.Context, p domain.Prediction) (domain.Prediction, error) {
	const query = `
		INSERT INTO predictions (id, user_id, poll_id, option_id, confidence, points, reasoning, created_at)
		SELECT @id::text, @user_id::text, polls.id, @option_id::text,
		       @confidence::double precision, @points::bigint, @reasoning::text, @created_at::timestamptz
		FROM polls
		WHERE polls.id = @poll_id AND polls.is_active AND polls.resolved_at IS NULL
		FOR SHARE
		ON CONFLICT (user_id, poll_id) DO UPDATE SET
			option_id  = EXCLUDED.option_id,
			confidence = EXCLUDED.confidence,
			points     = EXCLUDED.points,
			reasoning  = EXCLUDED.reasoning,
			created_at = EXCLUDED.created_at
		WHERE predictions.is_resolved = FALSE
		RETURNING ` + predictionCols

	stored, err := scanPrediction(s.pool.QueryRow(ctx, query, pgx.NamedArgs{
		"id":         p.ID,
		"user_id":    p.UserID,
		"poll_id":    p.PollID,
		"option_id":  p.OptionID,
		"confidence": p.Confidence,
		"points":     p.Points,
		"reasoning":  p.Reasoning,
		"created_at": p.CreatedAt,
	}))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.upsertRejection(ctx, p)
		}
		return domain.Prediction{}, fmt.Errorf("postgres: upsert prediction %s/%s: %w", p.UserID, p.PollID, err)
	}
	return stored, nil
}

// upsertRejection explains why UpsertPrediction wrote nothing: the user's
// prediction is already settled, the poll does not exist, or it is closed.
func (s *PredictionStore) upsertRejection(ctx context.Context, p domain.Prediction) error {
	var pollExists, settled bool
	err := s.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM polls WHERE id = $1),
			EXISTS (SELECT 1 FROM predictions WHERE user_id = $2 AND poll_id = $1 AND is_resolved)`,
		p.PollID, p.UserID,
	).Scan(&pollExists, &settled)
	switch {
	case err != nil:
		return err
	case settled:
		return domain.ErrAlreadyResolved
	case !pollExists:
		return domain.ErrNotFound
	default:
		return domain.ErrPollInactive
	}
}

// OpenStake sums the user's unresolved stakes on every poll except
// excludePollID.
func (s *PredictionStore) OpenStake(ctx context.Context, userID, excludePollID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(points), 0)::bigint FROM predictions
		WHERE user_id = $1 AND poll_id <> $2 AND NOT is_resolved`,
		userID, excludePollID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: open stake %s: %w", userID, err)
	}
	return total, nil
}

// FindPredictions returns every prediction of a poll.
func (s *PredictionStore) FindPredictions(ctx context.Context, pollID string) ([]domain.Prediction, error) {
	preds, err := queryPredictions(ctx, s.pool,
		`SELECT `+predictionCols+` FROM predictions WHERE poll_id = $1 ORDER BY created_at, id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("postgres: find predictions %s: %w", pollID, err)
	}
	return preds, nil
}

// FindUnresolvedPredictions returns the unresolved predictions of a poll.
func (s *PredictionStore) FindUnresolvedPredictions(ctx context.Context, pollID string) ([]domain.Prediction, error) {
	return findUnresolved(ctx, s.pool, pollID, "")
}

func findUnresolved(ctx context.Context, q querier, pollID, suffix string) ([]domain.Prediction, error) {
	preds, err := queryPredictions(ctx, q, `
		SELECT `+predictionCols+` FROM predictions
		WHERE poll_id = $1 AND is_resolved = FALSE
		ORDER BY created_at, id`+suffix, pollID)
	if err != nil {
		return nil, fmt.Errorf("postgres: find unresolved predictions %s: %w", pollID, err)
	}
	return preds, nil
}

// FindPredictionsSince returns the unresolved predictions of a poll created at
// or after since.
func (s *PredictionStore) FindPredictionsSince(ctx context.Context, pollID string, since time.Time) ([]domain.Prediction, error) {
	preds, err := queryPredictions(ctx, s.pool, `
		SELECT `+predictionCols+` FROM predictions
		WHERE poll_id = $1 AND is_resolved = FALSE AND created_at >= $2
		ORDER BY created_at, id`, pollID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: find predictions since %s: %w", pollID, err)
	}
	return preds, nil
}

// FindResolvedPredictions returns resolved predictions across all polls,
// optionally limited to those created at or after since.
func (s *PredictionStore) FindResolvedPredictions(ctx context.Context, since *time.Time) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE is_resolved = TRUE`
	args := []any{}
	if since != nil {
		query += ` AND created_at >= $1`
		args = append(args, *since)
	}
	query += ` ORDER BY created_at, id`

	preds, err := queryPredictions(ctx, s.pool, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find resolved predictions: %w", err)
	}
	return preds, nil
}

// WithResolution runs fn inside a single transaction and commits only when fn
// succeeds.
func (s *PredictionStore) WithResolution(ctx context.Context, fn func(tx domain.ResolutionTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin resolution: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&resolutionTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit resolution: %w", err)
	}
	return nil
}

// resolutionTx implements domain.ResolutionTx on an open transaction.
type resolutionTx struct {
	tx pgx.Tx
}

// MarkPollResolved is the compare-and-set that makes resolution one-shot.
func (r *resolutionTx) MarkPollResolved(ctx context.Context, pollID, winningOptionID, source string, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE polls SET
			resolved_at       = $2,
			resolution_result = $3,
			resolution_source = $4,
			is_active         = FALSE
		WHERE id = $1 AND resolved_at IS NULL`,
		pollID, at, winningOptionID, source,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve poll %s: %w", pollID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM polls WHERE id = $1)`, pollID).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: resolve poll %s: %w", pollID, err)
		}
		if !exists {
			return fmt.Errorf("postgres: resolve poll %s: %w", pollID, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: resolve poll %s: %w", pollID, domain.ErrAlreadyResolved)
	}
	return nil
}

// FindUnresolvedPredictions locks the rows it returns until commit.
func (r *resolutionTx) FindUnresolvedPredictions(ctx context.Context, pollID string) ([]domain.Prediction, error) {
	return findUnresolved(ctx, r.tx, pollID, " FOR UPDATE")
}

func (r *resolutionTx) BatchUpdatePredictions(ctx context.Context, updates []domain.PredictionResolution) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		UPDATE predictions SET
			payout      = $2,
			is_resolved = TRUE,
			resolved_at = $3
		WHERE id = $1 AND is_resolved = FALSE`
	for _, u := range updates {
		batch.Queue(query, u.PredictionID, u.Payout, u.ResolvedAt)
	}

	br := r.tx.SendBatch(ctx, batch)
	defer br.Close()

	for i, u := range updates {
		tag, err := br.Exec()
		if err != nil {
			return fmt.Errorf("postgres: resolve prediction batch item %d: %w", i, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: resolve prediction %s: %w", u.PredictionID, domain.ErrAlreadyResolved)
		}
	}
	return nil
}

// AdjustUserReputation applies a relative change; it never overwrites.
func (r *resolutionTx) AdjustUserReputation(ctx context.Context, userID string, delta int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE users SET reputation = reputation + $2 WHERE id = $1`, userID, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust reputation %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: adjust reputation %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}
