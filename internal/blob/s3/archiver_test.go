package s3blob_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/pollmarket/internal/blob/s3"
	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/store/memory"
)

// memBlob is an in-memory BlobWriter and BlobReader.
type memBlob struct {
	mu   sync.Mutex
	objs map[string][]byte
	puts int
}

func newMemBlob() *memBlob { return &memBlob{objs: map[string][]byte{}} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[path] = b
	m.puts++
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[path]
	return ok, nil
}

func sampleSettlement() domain.Settlement {
	return domain.Settlement{
		PollID:          "poll-1",
		WinningOptionID: "A",
		Source:          "admin",
		TotalPool:       150,
		WinningPool:     100,
		PaidOut:         155,
		HouseRetained:   -5,
		Winners:         1,
		Losers:          1,
		ResolvedAt:      time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		Payouts: []domain.Payout{
			{PredictionID: "p1", UserID: "userX", OptionID: "A", Points: 100, Confidence: 0.9, BasePayout: 142, Payout: 155, Won: true, ReputationChange: 10},
			{PredictionID: "p2", UserID: "userY", OptionID: "B", Points: 50, Confidence: 0.4},
		},
	}
}

func TestSettlementPath(t *testing.T) {
	assert.Equal(t, "settlements/2025/03/poll-1.jsonl",
		s3blob.SettlementPath("poll-1", time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)))
}

func TestSettlementArchiver_RoundTrip(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	audit := memory.New()
	a := s3blob.NewSettlementArchiver(blob, blob, audit)

	s := sampleSettlement()
	path, err := a.ArchiveSettlement(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "settlements/2025/03/poll-1.jsonl", path)

	lines := strings.Split(strings.TrimSpace(string(blob.objs[path])), "\n")
	assert.Len(t, lines, 3)
	assert.NotContains(t, lines[0], `"payouts"`)

	got, err := a.LoadSettlement(ctx, "poll-1", s.ResolvedAt)
	require.NoError(t, err)
	assert.Equal(t, s.PaidOut, got.PaidOut)
	assert.Equal(t, s.HouseRetained, got.HouseRetained)
	assert.True(t, s.ResolvedAt.Equal(got.ResolvedAt))
	assert.Equal(t, s.Payouts, got.Payouts)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.settlement", entries[0].Event)
}

func TestSettlementArchiver_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	a := s3blob.NewSettlementArchiver(blob, blob, memory.New())

	_, err := a.ArchiveSettlement(ctx, sampleSettlement())
	require.NoError(t, err)
	_, err = a.ArchiveSettlement(ctx, sampleSettlement())
	require.NoError(t, err)
	assert.Equal(t, 1, blob.puts)
}

func TestSettlementArchiver_LoadMissing(t *testing.T) {
	blob := newMemBlob()
	a := s3blob.NewSettlementArchiver(blob, blob, memory.New())
	_, err := a.LoadSettlement(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
