// Package memory implements domain.Store in process memory. It backs tests
// and the "memory" store driver; state does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

var _ domain.Store = (*Store)(nil)

type userPollKey struct {
	userID string
	pollID string
}

// Store is a mutex-guarded in-memory implementation of domain.Store.
type Store struct {
	mu          sync.RWMutex
	polls       map[string]domain.Poll
	users       map[string]domain.User
	predictions map[string]domain.Prediction
	byUserPoll  map[userPollKey]string
	snapshots   map[string][]domain.MarketSnapshot
	audit       []domain.AuditEntry
	nextAuditID int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		polls:       make(map[string]domain.Poll),
		users:       make(map[string]domain.User),
		predictions: make(map[string]domain.Prediction),
		byUserPoll:  make(map[userPollKey]string),
		snapshots:   make(map[string][]domain.MarketSnapshot),
	}
}

// AddPoll inserts or replaces a poll. Poll CRUD lives outside the engine, so
// this is the seeding path for tests and local runs.
func (s *Store) AddPoll(p domain.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[p.ID] = clonePoll(p)
}

// AddUser inserts or replaces a user.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// FindPoll returns the poll with the given ID.
func (s *Store) FindPoll(_ context.Context, id string) (domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return domain.Poll{}, fmt.Errorf("memory: poll %s: %w", id, domain.ErrNotFound)
	}
	return clonePoll(p), nil
}

// ListActivePolls returns active, unresolved polls ordered by creation time.
func (s *Store) ListActivePolls(_ context.Context) ([]domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Poll
	for _, p := range s.polls {
		if p.IsActive && !p.IsResolved() {
			out = append(out, clonePoll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindUser returns the user with the given ID.
func (s *Store) FindUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

// FindReputations returns the reputation of every known user in userIDs.
// Unknown users are omitted.
func (s *Store) FindReputations(_ context.Context, userIDs []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			out[id] = u.Reputation
		}
	}
	return out, nil
}

// UpsertPrediction inserts p or replaces the existing prediction of the same
// user on the same poll. A replaced prediction keeps its ID. The poll must be
// active and unresolved at the moment of the write.
func (s *Store) UpsertPrediction(_ context.Context, p domain.Prediction) (domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userPollKey{userID: p.UserID, pollID: p.PollID}
	existingID, replacing := s.byUserPoll[key]
	if replacing && s.predictions[existingID].IsResolved {
		return domain.Prediction{}, fmt.Errorf("memory: upsert prediction %s: %w", existingID, domain.ErrAlreadyResolved)
	}
	poll, ok := s.polls[p.PollID]
	if !ok {
		return domain.Prediction{}, fmt.Errorf("memory: upsert prediction on poll %s: %w", p.PollID, domain.ErrNotFound)
	}
	if !poll.IsActive || poll.IsResolved() {
		return domain.Prediction{}, fmt.Errorf("memory: upsert prediction on poll %s: %w", p.PollID, domain.ErrPollInactive)
	}
	if replacing {
		p.ID = existingID
	}
	p.Payout = nil
	p.IsResolved = false
	p.ResolvedAt = nil

	s.predictions[p.ID] = p
	s.byUserPoll[key] = p.ID
	return p, nil
}

// OpenStake sums the user's unresolved stakes on every poll except
// excludePollID.
func (s *Store) OpenStake(_ context.Context, userID, excludePollID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, p := range s.predictions {
		if p.UserID == userID && p.PollID != excludePollID && !p.IsResolved {
			total += p.Points
		}
	}
	return total, nil
}

// FindPredictions returns every prediction of a poll ordered by creation time.
func (s *Store) FindPredictions(_ context.Context, pollID string) ([]domain.Prediction, error) {
	return s.filterPredictions(func(p domain.Prediction) bool {
		return p.PollID == pollID
	}), nil
}

// FindUnresolvedPredictions returns the unresolved predictions of a poll.
func (s *Store) FindUnresolvedPredictions(_ context.Context, pollID string) ([]domain.Prediction, error) {
	return s.filterPredictions(func(p domain.Prediction) bool {
		return p.PollID == pollID && !p.IsResolved
	}), nil
}

// FindPredictionsSince returns the unresolved predictions of a poll created at
// or after since.
func (s *Store) FindPredictionsSince(_ context.Context, pollID string, since time.Time) ([]domain.Prediction, error) {
	return s.filterPredictions(func(p domain.Prediction) bool {
		return p.PollID == pollID && !p.IsResolved && !p.CreatedAt.Before(since)
	}), nil
}

// FindResolvedPredictions returns resolved predictions across all polls.
func (s *Store) FindResolvedPredictions(_ context.Context, since *time.Time) ([]domain.Prediction, error) {
	return s.filterPredictions(func(p domain.Prediction) bool {
		return p.IsResolved && (since == nil || !p.CreatedAt.Before(*since))
	}), nil
}

func (s *Store) filterPredictions(keep func(domain.Prediction) bool) []domain.Prediction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Prediction
	for _, p := range s.predictions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortPredictions(out)
	return out
}

// WithResolution runs fn with the store write-locked. If fn fails every
// change it made is rolled back.
func (s *Store) WithResolution(ctx context.Context, fn func(tx domain.ResolutionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.checkpoint()
	if err := fn(&resolutionTx{s: s}); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

type checkpoint struct {
	polls       map[string]domain.Poll
	users       map[string]domain.User
	predictions map[string]domain.Prediction
}

// checkpoint copies the state a resolution can modify. Caller holds mu.
func (s *Store) checkpoint() checkpoint {
	c := checkpoint{
		polls:       make(map[string]domain.Poll, len(s.polls)),
		users:       make(map[string]domain.User, len(s.users)),
		predictions: make(map[string]domain.Prediction, len(s.predictions)),
	}
	for k, v := range s.polls {
		c.polls[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.predictions {
		c.predictions[k] = v
	}
	return c
}

func (s *Store) restore(c checkpoint) {
	s.polls = c.polls
	s.users = c.users
	s.predictions = c.predictions
}

// resolutionTx operates on the store while WithResolution holds the lock.
type resolutionTx struct {
	s *Store
}

func (tx *resolutionTx) MarkPollResolved(_ context.Context, pollID, winningOptionID, source string, at time.Time) error {
	p, ok := tx.s.polls[pollID]
	if !ok {
		return fmt.Errorf("memory: poll %s: %w", pollID, domain.ErrNotFound)
	}
	if p.ResolvedAt != nil {
		return fmt.Errorf("memory: resolve poll %s: %w", pollID, domain.ErrAlreadyResolved)
	}
	resolvedAt := at
	p.ResolvedAt = &resolvedAt
	p.ResolutionResult = winningOptionID
	p.ResolutionSource = source
	p.IsActive = false
	tx.s.polls[pollID] = p
	return nil
}

func (tx *resolutionTx) FindUnresolvedPredictions(_ context.Context, pollID string) ([]domain.Prediction, error) {
	var out []domain.Prediction
	for _, p := range tx.s.predictions {
		if p.PollID == pollID && !p.IsResolved {
			out = append(out, p)
		}
	}
	sortPredictions(out)
	return out, nil
}

func (tx *resolutionTx) BatchUpdatePredictions(_ context.Context, updates []domain.PredictionResolution) error {
	for _, u := range updates {
		p, ok := tx.s.predictions[u.PredictionID]
		if !ok {
			return fmt.Errorf("memory: prediction %s: %w", u.PredictionID, domain.ErrNotFound)
		}
		payout := u.Payout
		resolvedAt := u.ResolvedAt
		p.Payout = &payout
		p.IsResolved = true
		p.ResolvedAt = &resolvedAt
		tx.s.predictions[u.PredictionID] = p
	}
	return nil
}

func (tx *resolutionTx) AdjustUserReputation(_ context.Context, userID string, delta int64) error {
	u, ok := tx.s.users[userID]
	if !ok {
		return fmt.Errorf("memory: user %s: %w", userID, domain.ErrNotFound)
	}
	u.Reputation += delta
	tx.s.users[userID] = u
	return nil
}

// SaveSnapshot appends a market snapshot.
func (s *Store) SaveSnapshot(_ context.Context, snap domain.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	probs := make(map[string]float64, len(snap.Probabilities))
	for k, v := range snap.Probabilities {
		probs[k] = v
	}
	snap.Probabilities = probs
	s.snapshots[snap.PollID] = append(s.snapshots[snap.PollID], snap)
	return nil
}

// FindHistoricalSnapshots returns up to limit of the most recent snapshots of
// a poll, oldest first.
func (s *Store) FindHistoricalSnapshots(_ context.Context, pollID string, limit int) ([]domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.MarketSnapshot, len(s.snapshots[pollID]))
	copy(all, s.snapshots[pollID])
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TakenAt.Before(all[j].TakenAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        s.nextAuditID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		if opts.Event != "" && e.Event != opts.Event {
			continue
		}
		if opts.PollID != "" && domain.AuditPollID(e.Detail) != opts.PollID {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func clonePoll(p domain.Poll) domain.Poll {
	options := make([]domain.Option, len(p.Options))
	copy(options, p.Options)
	p.Options = options
	return p
}

func sortPredictions(ps []domain.Prediction) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
