package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dental-quote/internal/catalog"
	"github.com/noah-isme/dental-quote/internal/promo"
)

type memorySnapshots struct {
	mu    sync.Mutex
	data  map[string]Snapshot
	saves int
	// loadErrs are returned by the next Load calls, one per call.
	loadErrs []error
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{data: make(map[string]Snapshot)}
}

func (m *memorySnapshots) Load(ctx context.Context, id string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	if len(m.loadErrs) > 0 {
		err := m.loadErrs[0]
		m.loadErrs = m.loadErrs[1:]
		return Snapshot{}, false, err
	}
	snap, ok := m.data[id]
	return snap, ok, nil
}

func (m *memorySnapshots) Save(_ context.Context, id string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = snap
	m.saves++
	return nil
}

func newTestSessions(t *testing.T, store SnapshotStore) *Sessions {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	table, err := promo.DefaultTable()
	require.NoError(t, err)
	return NewSessions(SessionsConfig{Catalog: cat, Resolver: table, Store: store, Logger: zerolog.Nop()})
}

func TestSessionsPersistAndRestore(t *testing.T) {
	store := newMemorySnapshots()
	sessions := newTestSessions(t, store)
	ctx := context.Background()

	id, agg := sessions.Create(ctx)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	_, err = agg.AddLine(crownID, 1)
	require.NoError(t, err)
	want, err := agg.ApplyCode(ctx, "SMILE50")
	require.NoError(t, err)
	require.Equal(t, 2, store.saves)

	same, err := sessions.Get(ctx, id)
	require.NoError(t, err)
	require.Same(t, agg, same)

	restarted := newTestSessions(t, store)
	restored, err := restarted.Get(ctx, id)
	require.NoError(t, err)
	got := restored.View()
	require.Equal(t, want.Lines, got.Lines)
	require.Equal(t, want.Rule, got.Rule)
	require.Equal(t, want.Totals, got.Totals)

	_, err = restored.AddLine(veneerID, 1)
	require.NoError(t, err)
	require.Len(t, store.data[id].Lines, 2)
}

func TestSessionsUnknownIDStartsEmpty(t *testing.T) {
	sessions := newTestSessions(t, newMemorySnapshots())

	agg, err := sessions.Get(context.Background(), uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, agg.View().Lines)
}

func TestSessionsCorruptSnapshotStartsEmpty(t *testing.T) {
	store := newMemorySnapshots()
	id := uuid.NewString()
	store.data[id] = Snapshot{Version: 42}
	sessions := newTestSessions(t, store)

	agg, err := sessions.Get(context.Background(), id)
	require.NoError(t, err)
	v := agg.View()
	require.Empty(t, v.Lines)
	require.True(t, v.Rule.IsNone())
}

func TestSessionsRejectMalformedID(t *testing.T) {
	sessions := newTestSessions(t, nil)

	_, err := sessions.Get(context.Background(), "../../etc")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionsSweep(t *testing.T) {
	sessions := newTestSessions(t, newMemorySnapshots())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return now }

	sessions.Create(context.Background())
	now = now.Add(10 * time.Minute)
	sessions.Create(context.Background())
	require.Equal(t, 2, sessions.Len())

	require.Equal(t, 1, sessions.Sweep(5*time.Minute))
	require.Equal(t, 1, sessions.Len())
}

func seededSession(t *testing.T, store *memorySnapshots) (string, View) {
	t.Helper()
	ctx := context.Background()
	id, agg := newTestSessions(t, store).Create(ctx)
	_, err := agg.AddLine(crownID, 2)
	require.NoError(t, err)
	want, err := agg.ApplyCode(ctx, "SMILE50")
	require.NoError(t, err)
	return id, want
}

func TestSessionsStoreFailureIsRetried(t *testing.T) {
	store := newMemorySnapshots()
	id, want := seededSession(t, store)
	store.loadErrs = []error{fmt.Errorf("redis: i/o timeout: %w", ErrSnapshotUnavailable)}

	sessions := newTestSessions(t, store)
	_, err := sessions.Get(context.Background(), id)
	require.ErrorIs(t, err, ErrSnapshotUnavailable)

	agg, err := sessions.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, want.Lines, agg.View().Lines)
	require.Equal(t, want.Totals, agg.View().Totals)

	_, err = agg.AddLine(veneerID, 1)
	require.NoError(t, err)
	stored := store.data[id]
	require.Len(t, stored.Lines, 2)
	require.Equal(t, "SMILE50", stored.Rule.Code)
}

func TestSessionsRestoreIgnoresCallerCancellation(t *testing.T) {
	store := newMemorySnapshots()
	id, want := seededSession(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg, err := newTestSessions(t, store).Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, want.Lines, agg.View().Lines)
	require.Equal(t, want.Rule, agg.View().Rule)
}

func TestSessionsUnexpectedStoreErrorIsUnavailable(t *testing.T) {
	store := newMemorySnapshots()
	store.loadErrs = []error{errors.New("connection refused")}

	_, err := newTestSessions(t, store).Get(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrSnapshotUnavailable)
}

func TestCanonicalID(t *testing.T) {
	id := uuid.NewString()
	got, err := CanonicalID(" " + strings.ToUpper(id) + " ")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = CanonicalID("nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
