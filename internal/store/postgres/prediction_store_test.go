package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// testDSNEnv points the database tests at a disposable PostgreSQL instance.
const testDSNEnv = "POLLMARKET_TEST_POSTGRES_DSN"

type fixture struct {
	store  *Store
	suffix string
}

func openStore(t *testing.T) *fixture {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ctx := context.Background()

	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))

	return &fixture{store: NewStore(client), suffix: uuid.NewString()[:8]}
}

func (f *fixture) id(name string) string {
	return name + "-" + f.suffix
}

func (f *fixture) addUser(t *testing.T, name string) string {
	t.Helper()
	id := f.id(name)
	_, err := f.store.client.Pool().Exec(context.Background(),
		`INSERT INTO users (id, username, points) VALUES ($1, $2, 1000)`, id, name)
	require.NoError(t, err)
	return id
}

// addPoll creates a poll with a single option and returns both IDs.
func (f *fixture) addPoll(t *testing.T, name string, active bool) (string, string) {
	t.Helper()
	ctx := context.Background()
	pollID, optionID := f.id(name), f.id(name+"-yes")
	pool := f.store.client.Pool()
	_, err := pool.Exec(ctx, `INSERT INTO polls (id, question, is_active) VALUES ($1, $2, $3)`, pollID, name, active)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO poll_options (id, poll_id, text) VALUES ($1, $2, 'Yes')`, optionID, pollID)
	require.NoError(t, err)
	return pollID, optionID
}

func prediction(id, userID, pollID, optionID string, points int64) domain.Prediction {
	return domain.Prediction{
		ID: id, UserID: userID, PollID: pollID, OptionID: optionID,
		Confidence: 0.5, Points: points, CreatedAt: time.Now().UTC(),
	}
}

func TestPredictionStore_UpsertRequiresOpenPoll(t *testing.T) {
	f := openStore(t)
	ctx := context.Background()
	u1, u2 := f.addUser(t, "u1"), f.addUser(t, "u2")
	pollID, optionID := f.addPoll(t, "open", true)
	closedID, closedOption := f.addPoll(t, "closed", false)

	first, err := f.store.UpsertPrediction(ctx, prediction(f.id("p1"), u1, pollID, optionID, 100))
	require.NoError(t, err)
	second, err := f.store.UpsertPrediction(ctx, prediction(f.id("p2"), u1, pollID, optionID, 60))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(60), second.Points)

	_, err = f.store.UpsertPrediction(ctx, prediction(f.id("p3"), u1, closedID, closedOption, 10))
	assert.ErrorIs(t, err, domain.ErrPollInactive)
	_, err = f.store.UpsertPrediction(ctx, prediction(f.id("p4"), u1, f.id("missing"), optionID, 10))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.store.WithResolution(ctx, func(tx domain.ResolutionTx) error {
		if err := tx.MarkPollResolved(ctx, pollID, optionID, "admin", time.Now()); err != nil {
			return err
		}
		return tx.BatchUpdatePredictions(ctx, []domain.PredictionResolution{
			{PredictionID: first.ID, UserID: u1, Payout: 60, ResolvedAt: time.Now()},
		})
	}))

	_, err = f.store.UpsertPrediction(ctx, prediction(f.id("p5"), u1, pollID, optionID, 10))
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	_, err = f.store.UpsertPrediction(ctx, prediction(f.id("p6"), u2, pollID, optionID, 10))
	assert.ErrorIs(t, err, domain.ErrPollInactive)

	unresolved, err := f.store.FindUnresolvedPredictions(ctx, pollID)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestPredictionStore_UpsertWaitsForResolution(t *testing.T) {
	f := openStore(t)
	ctx := context.Background()
	u1 := f.addUser(t, "u1")
	pollID, optionID := f.addPoll(t, "racing", true)

	done := make(chan error, 1)
	require.NoError(t, f.store.WithResolution(ctx, func(tx domain.ResolutionTx) error {
		if err := tx.MarkPollResolved(ctx, pollID, optionID, "admin", time.Now()); err != nil {
			return err
		}
		go func() {
			_, err := f.store.UpsertPrediction(ctx, prediction(f.id("p1"), u1, pollID, optionID, 100))
			done <- err
		}()
		// Give the write time to block on the poll row before committing.
		time.Sleep(200 * time.Millisecond)
		return nil
	}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrPollInactive)
	case <-time.After(5 * time.Second):
		t.Fatal("upsert did not finish after resolution committed")
	}

	preds, err := f.store.FindPredictions(ctx, pollID)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestPredictionStore_OpenStake(t *testing.T) {
	f := openStore(t)
	ctx := context.Background()
	u1 := f.addUser(t, "u1")
	poll1, opt1 := f.addPoll(t, "one", true)
	poll2, opt2 := f.addPoll(t, "two", true)

	_, err := f.store.UpsertPrediction(ctx, prediction(f.id("p1"), u1, poll1, opt1, 100))
	require.NoError(t, err)
	_, err = f.store.UpsertPrediction(ctx, prediction(f.id("p2"), u1, poll2, opt2, 250))
	require.NoError(t, err)

	open, err := f.store.OpenStake(ctx, u1, poll1)
	require.NoError(t, err)
	assert.Equal(t, int64(250), open)

	open, err = f.store.OpenStake(ctx, u1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(350), open)
}

func TestResolutionTx_MarkPollResolvedMissing(t *testing.T) {
	f := openStore(t)
	ctx := context.Background()
	missing := f.id("missing")

	err := f.store.WithResolution(ctx, func(tx domain.ResolutionTx) error {
		return tx.MarkPollResolved(ctx, missing, "A", "admin", time.Now())
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "postgres: resolve poll "+missing)
}
