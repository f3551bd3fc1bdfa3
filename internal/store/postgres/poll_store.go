package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// PollStore implements domain.PollReader using PostgreSQL. Polls, options and
// users are owned by the surrounding application; the engine only reads them.
type PollStore struct {
	pool *pgxpool.Pool
}

// NewPollStore creates a new PollStore backed by the given connection pool.
func NewPollStore(pool *pgxpool.Pool) *PollStore {
	return &PollStore{pool: pool}
}

const pollCols = `id, question, is_active, expires_at, resolved_at,
	COALESCE(resolution_result, ''), COALESCE(resolution_source, ''), created_at`

func scanPoll(row pgx.Row) (domain.Poll, error) {
	var p domain.Poll
	err := row.Scan(
		&p.ID, &p.Question, &p.IsActive, &p.ExpiresAt, &p.ResolvedAt,
		&p.ResolutionResult, &p.ResolutionSource, &p.CreatedAt,
	)
	return p, err
}

// FindPoll returns a poll together with its options ordered by position.
func (s *PollStore) FindPoll(ctx context.Context, id string) (domain.Poll, error) {
	p, err := scanPoll(s.pool.QueryRow(ctx, `SELECT `+pollCols+` FROM polls WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Poll{}, domain.ErrNotFound
		}
		return domain.Poll{}, fmt.Errorf("postgres: get poll %s: %w", id, err)
	}

	options, err := s.options(ctx, []string{id})
	if err != nil {
		return domain.Poll{}, err
	}
	p.Options = options[id]
	return p, nil
}

// ListActivePolls returns every active poll that has not been resolved.
func (s *PollStore) ListActivePolls(ctx context.Context) ([]domain.Poll, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pollCols+` FROM polls
		WHERE is_active AND resolved_at IS NULL
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active polls: %w", err)
	}
	defer rows.Close()

	var polls []domain.Poll
	var ids []string
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan poll: %w", err)
		}
		polls = append(polls, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active polls rows: %w", err)
	}
	if len(polls) == 0 {
		return nil, nil
	}

	options, err := s.options(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range polls {
		polls[i].Options = options[polls[i].ID]
	}
	return polls, nil
}

func (s *PollStore) options(ctx context.Context, pollIDs []string) (map[string][]domain.Option, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, poll_id, text, position FROM poll_options
		WHERE poll_id = ANY($1)
		ORDER BY poll_id, position, id`, pollIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list poll options: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Option, len(pollIDs))
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.Position); err != nil {
			return nil, fmt.Errorf("postgres: scan poll option: %w", err)
		}
		out[o.PollID] = append(out[o.PollID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list poll options rows: %w", err)
	}
	return out, nil
}

// FindUser returns the user with the given ID.
func (s *PollStore) FindUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, reputation, points FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Reputation, &u.Points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// FindReputations returns the reputation of each known user in userIDs.
func (s *PollStore) FindReputations(ctx context.Context, userIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, reputation FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: find reputations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var rep int64
		if err := rows.Scan(&id, &rep); err != nil {
			return nil, fmt.Errorf("postgres: scan reputation: %w", err)
		}
		out[id] = rep
	}
	return out, rows.Err()
}
