// Package sqlite implements domain.Store on an embedded SQLite database
// (pure Go, no cgo). It suits single-node deployments and SQL-level tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// Timestamps are stored as unix nanoseconds so range filters compare numerically.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    username   TEXT    NOT NULL DEFAULT '',
    reputation INTEGER NOT NULL DEFAULT 0,
    points     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS polls (
    id                TEXT PRIMARY KEY,
    question          TEXT    NOT NULL DEFAULT '',
    is_active         INTEGER NOT NULL DEFAULT 1,
    expires_at        INTEGER,
    resolved_at       INTEGER,
    resolution_result TEXT    NOT NULL DEFAULT '',
    resolution_source TEXT    NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS poll_options (
    id       TEXT PRIMARY KEY,
    poll_id  TEXT    NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    text     TEXT    NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS predictions (
    id          TEXT PRIMARY KEY,
    user_id     TEXT    NOT NULL,
    poll_id     TEXT    NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    option_id   TEXT    NOT NULL,
    confidence  REAL    NOT NULL,
    points      INTEGER NOT NULL,
    reasoning   TEXT    NOT NULL DEFAULT '',
    payout      INTEGER,
    is_resolved INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    resolved_at INTEGER,
    UNIQUE (user_id, poll_id)
);

CREATE TABLE IF NOT EXISTS market_snapshots (
    id            TEXT PRIMARY KEY,
    poll_id       TEXT    NOT NULL,
    probabilities TEXT    NOT NULL,
    total_volume  INTEGER NOT NULL DEFAULT 0,
    taken_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    poll_id    TEXT,
    detail     TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_options_poll      ON poll_options(poll_id, position);
CREATE INDEX IF NOT EXISTS idx_predictions_poll  ON predictions(poll_id, is_resolved, created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_res   ON predictions(is_resolved, created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_poll    ON market_snapshots(poll_id, taken_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_created     ON audit_log(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_poll        ON audit_log(poll_id, created_at DESC);
`

var _ domain.Store = (*Store)(nil)

// Store implements domain.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// --- seeding ---

// AddPoll inserts or replaces a poll and its options.
func (s *Store) AddPoll(ctx context.Context, p domain.Poll) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin add poll: %w", err)
	}
	defer tx.Rollback()

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO polls (id, question, is_active, expires_at, resolved_at, resolution_result, resolution_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question          = excluded.question,
			is_active         = excluded.is_active,
			expires_at        = excluded.expires_at,
			resolved_at       = excluded.resolved_at,
			resolution_result = excluded.resolution_result,
			resolution_source = excluded.resolution_source`,
		p.ID, p.Question, p.IsActive, nullableNanos(p.ExpiresAt), nullableNanos(p.ResolvedAt),
		p.ResolutionResult, p.ResolutionSource, toNanos(createdAt),
	); err != nil {
		return fmt.Errorf("sqlite: add poll %s: %w", p.ID, err)
	}
	for _, o := range p.Options {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO poll_options (id, poll_id, text, position) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET text = excluded.text, position = excluded.position`,
			o.ID, p.ID, o.Text, o.Position,
		); err != nil {
			return fmt.Errorf("sqlite: add option %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

// AddUser inserts or replaces a user.
func (s *Store) AddUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, reputation, points) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username   = excluded.username,
			reputation = excluded.reputation,
			points     = excluded.points`,
		u.ID, u.Username, u.Reputation, u.Points,
	)
	if err != nil {
		return fmt.Errorf("sqlite: add user %s: %w", u.ID, err)
	}
	return nil
}

// --- polls and users ---

const pollCols = `id, question, is_active, expires_at, resolved_at, resolution_result, resolution_source, created_at`

func scanPoll(row scanner) (domain.Poll, error) {
	var p domain.Poll
	var expiresAt, resolvedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Question, &p.IsActive, &expiresAt, &resolvedAt,
		&p.ResolutionResult, &p.ResolutionSource, &createdAt); err != nil {
		return domain.Poll{}, err
	}
	p.ExpiresAt = timePtr(expiresAt)
	p.ResolvedAt = timePtr(resolvedAt)
	p.CreatedAt = fromNanos(createdAt)
	return p, nil
}

// FindPoll returns a poll with its options ordered by position.
func (s *Store) FindPoll(ctx context.Context, id string) (domain.Poll, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx, `SELECT `+pollCols+` FROM polls WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Poll{}, domain.ErrNotFound
		}
		return domain.Poll{}, fmt.Errorf("sqlite: get poll %s: %w", id, err)
	}
	if p.Options, err = s.options(ctx, id); err != nil {
		return domain.Poll{}, err
	}
	return p, nil
}

// ListActivePolls returns active, unresolved polls.
func (s *Store) ListActivePolls(ctx context.Context) ([]domain.Poll, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pollCols+` FROM polls
		WHERE is_active = 1 AND resolved_at IS NULL
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active polls: %w", err)
	}
	var polls []domain.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan poll: %w", err)
		}
		polls = append(polls, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active polls rows: %w", err)
	}

	// Options are read after the poll cursor is closed: the pool has one connection.
	for i := range polls {
		if polls[i].Options, err = s.options(ctx, polls[i].ID); err != nil {
			return nil, err
		}
	}
	return polls, nil
}

func (s *Store) options(ctx context.Context, pollID string) ([]domain.Option, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, poll_id, text, position FROM poll_options WHERE poll_id = ? ORDER BY position, id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list options %s: %w", pollID, err)
	}
	defer rows.Close()

	var out []domain.Option
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.Position); err != nil {
			return nil, fmt.Errorf("sqlite: scan option: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FindUser returns the user with the given ID.
func (s *Store) FindUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, reputation, points FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Reputation, &u.Points)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("sqlite: get user %s: %w", id, err)
	}
	return u, nil
}

// FindReputations returns the reputation of each known user in userIDs.
func (s *Store) FindReputations(ctx context.Context, userIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reputation FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find reputations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var rep int64
		if err := rows.Scan(&id, &rep); err != nil {
			return nil, fmt.Errorf("sqlite: scan reputation: %w", err)
		}
		out[id] = rep
	}
	return out, rows.Err()
}

// --- predictions ---

const predictionCols = `id, user_id, poll_id, option_id, confidence, points, reasoning,
	payout, is_resolved, created_at, resolved_at`

func scanPrediction(row scanner) (domain.Prediction, error) {
	var p domain.Prediction
	var payout, resolvedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&p.ID, &p.UserID, &p.PollID, &p.OptionID, &p.Confidence, &p.Points, &p.Reasoning,
		&payout, &p.IsResolved, &createdAt, &resolvedAt); err != nil {
		return domain.Prediction{}, err
	}
	if payout.Valid {
		v := payout.Int64
		p.Payout = &v
	}
	p.CreatedAt = fromNanos(createdAt)
	p.ResolvedAt = timePtr(resolvedAt)
	return p, nil
}

func queryPredictions(ctx context.Context, q querier, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

// UpsertPrediction inserts p or replaces the unresolved prediction the user
// already holds on the poll, keeping its ID. The poll check and the write are
// one statement, so a resolution committed in between cannot be missed.
func (s *Store) UpsertPrediction(ctx context.Context, p domain.Prediction) (domain.Prediction, error) {
	stored, err := scanPrediction(s.db.QueryRowContext(ctx, `
		INSERT INTO predictions (id, user_id, poll_id, option_id, confidence, points, reasoning, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM polls WHERE id = ? AND is_active = 1 AND resolved_at IS NULL)
		ON CONFLICT(user_id, poll_id) DO UPDATE SET
			option_id  = excluded.option_id,
			confidence = excluded.confidence,
			points     = excluded.points,
			reasoning  = excluded.reasoning,
			created_at = excluded.created_at
		WHERE predictions.is_resolved = 0
		RETURNING `+predictionCols,
		p.ID, p.UserID, p.PollID, p.OptionID, p.Confidence, p.Points, p.Reasoning, toNanos(p.CreatedAt),
		p.PollID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = s.upsertRejection(ctx, p)
		}
		return domain.Prediction{}, fmt.Errorf("sqlite: upsert prediction %s/%s: %w", p.UserID, p.PollID, err)
	}
	return stored, nil
}

// upsertRejection explains why UpsertPrediction wrote nothing.
func (s *Store) upsertRejection(ctx context.Context, p domain.Prediction) error {
	var pollExists, settled bool
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM polls WHERE id = ?),
			EXISTS (SELECT 1 FROM predictions WHERE user_id = ? AND poll_id = ? AND is_resolved = 1)`,
		p.PollID, p.UserID, p.PollID,
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
func (s *Store) OpenStake(ctx context.Context, userID, excludePollID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM predictions
		WHERE user_id = ? AND poll_id <> ? AND is_resolved = 0`,
		userID, excludePollID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite: open stake %s: %w", userID, err)
	}
	return total, nil
}

// FindPredictions returns every prediction of a poll.
func (s *Store) FindPredictions(ctx context.Context, pollID string) ([]domain.Prediction, error) {
	preds, err := queryPredictions(ctx, s.db,
		`SELECT `+predictionCols+` FROM predictions WHERE poll_id = ? ORDER BY created_at, id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find predictions %s: %w", pollID, err)
	}
	return preds, nil
}

// FindUnresolvedPredictions returns the unresolved predictions of a poll.
func (s *Store) FindUnresolvedPredictions(ctx context.Context, pollID string) ([]domain.Prediction, error) {
	return findUnresolved(ctx, s.db, pollID)
}

func findUnresolved(ctx context.Context, q querier, pollID string) ([]domain.Prediction, error) {
	preds, err := queryPredictions(ctx, q, `
		SELECT `+predictionCols+` FROM predictions
		WHERE poll_id = ? AND is_resolved = 0
		ORDER BY created_at, id`, pollID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find unresolved predictions %s: %w", pollID, err)
	}
	return preds, nil
}

// FindPredictionsSince returns unresolved predictions of a poll created at or
// after since.
func (s *Store) FindPredictionsSince(ctx context.Context, pollID string, since time.Time) ([]domain.Prediction, error) {
	preds, err := queryPredictions(ctx, s.db, `
		SELECT `+predictionCols+` FROM predictions
		WHERE poll_id = ? AND is_resolved = 0 AND created_at >= ?
		ORDER BY created_at, id`, pollID, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: find predictions since %s: %w", pollID, err)
	}
	return preds, nil
}

// FindResolvedPredictions returns resolved predictions across all polls.
func (s *Store) FindResolvedPredictions(ctx context.Context, since *time.Time) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE is_resolved = 1`
	var args []any
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, toNanos(*since))
	}
	query += ` ORDER BY created_at, id`

	preds, err := queryPredictions(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find resolved predictions: %w", err)
	}
	return preds, nil
}

// --- resolution ---

// WithResolution runs fn in a transaction and commits only when fn succeeds.
func (s *Store) WithResolution(ctx context.Context, fn func(tx domain.ResolutionTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin resolution: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&resolutionTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit resolution: %w", err)
	}
	return nil
}

type resolutionTx struct {
	tx *sql.Tx
}

func (r *resolutionTx) MarkPollResolved(ctx context.Context, pollID, winningOptionID, source string, at time.Time) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE polls SET
			resolved_at       = ?,
			resolution_result = ?,
			resolution_source = ?,
			is_active         = 0
		WHERE id = ? AND resolved_at IS NULL`,
		toNanos(at), winningOptionID, source, pollID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: resolve poll %s: %w", pollID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: resolve poll %s: %w", pollID, err)
	}
	if n == 0 {
		var exists bool
		if err := r.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM polls WHERE id = ?)`, pollID).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: resolve poll %s: %w", pollID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("sqlite: resolve poll %s: %w", pollID, domain.ErrAlreadyResolved)
	}
	return nil
}

func (r *resolutionTx) FindUnresolvedPredictions(ctx context.Context, pollID string) ([]domain.Prediction, error) {
	return findUnresolved(ctx, r.tx, pollID)
}

func (r *resolutionTx) BatchUpdatePredictions(ctx context.Context, updates []domain.PredictionResolution) error {
	if len(updates) == 0 {
		return nil
	}
	stmt, err := r.tx.PrepareContext(ctx, `
		UPDATE predictions SET payout = ?, is_resolved = 1, resolved_at = ?
		WHERE id = ? AND is_resolved = 0`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare resolve predictions: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.Payout, toNanos(u.ResolvedAt), u.PredictionID)
		if err != nil {
			return fmt.Errorf("sqlite: resolve prediction %s: %w", u.PredictionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlite: resolve prediction %s: %w", u.PredictionID, domain.ErrAlreadyResolved)
		}
	}
	return nil
}

func (r *resolutionTx) AdjustUserReputation(ctx context.Context, userID string, delta int64) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE users SET reputation = reputation + ? WHERE id = ?`, delta, userID)
	if err != nil {
		return fmt.Errorf("sqlite: adjust reputation %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: adjust reputation %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// --- snapshots ---

// SaveSnapshot inserts a market snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	probs, err := json.Marshal(snap.Probabilities)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot probabilities: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO market_snapshots (id, poll_id, probabilities, total_volume, taken_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.PollID, string(probs), snap.TotalVolume, toNanos(snap.TakenAt),
	); err != nil {
		return fmt.Errorf("sqlite: save snapshot %s: %w", snap.PollID, err)
	}
	return nil
}

// FindHistoricalSnapshots returns up to limit of the most recent snapshots of
// a poll, oldest first.
func (s *Store) FindHistoricalSnapshots(ctx context.Context, pollID string, limit int) ([]domain.MarketSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, poll_id, probabilities, total_volume, taken_at FROM (
			SELECT id, poll_id, probabilities, total_volume, taken_at
			FROM market_snapshots WHERE poll_id = ?
			ORDER BY taken_at DESC LIMIT ?
		) ORDER BY taken_at`, pollID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find snapshots %s: %w", pollID, err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		var snap domain.MarketSnapshot
		var probs string
		var takenAt int64
		if err := rows.Scan(&snap.ID, &snap.PollID, &probs, &snap.TotalVolume, &takenAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(probs), &snap.Probabilities); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal snapshot probabilities: %w", err)
		}
		snap.TakenAt = fromNanos(takenAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// --- audit ---

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, poll_id, detail, created_at) VALUES (?, ?, ?, ?)`,
		event, nullableString(domain.AuditPollID(detail)), string(detailJSON), toNanos(time.Now()),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, toNanos(*opts.Since))
	}
	if opts.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, toNanos(*opts.Until))
	}
	if opts.Event != "" {
		query += ` AND event = ?`
		args = append(args, opts.Event)
	}
	if opts.PollID != "" {
		query += ` AND poll_id = ?`
		args = append(args, opts.PollID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Event, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = fromNanos(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
