package postgres

import "github.com/alanyoungcy/pollmarket/internal/domain"

var _ domain.Store = (*Store)(nil)

// Store bundles the PostgreSQL stores into a single domain.Store.
type Store struct {
	*PollStore
	*PredictionStore
	*SnapshotStore
	*AuditStore

	client *Client
}

// NewStore builds every store on the client's pool.
func NewStore(client *Client) *Store {
	pool := client.Pool()
	return &Store{
		PollStore:       NewPollStore(pool),
		PredictionStore: NewPredictionStore(pool),
		SnapshotStore:   NewSnapshotStore(pool),
		AuditStore:      NewAuditStore(pool),
		client:          client,
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
