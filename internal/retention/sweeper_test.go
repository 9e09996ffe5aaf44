package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/chatmemory/internal/memory"
)

type sweepLog struct {
	mu      sync.Mutex
	deleted []int64
	errs    []error
}

func (l *sweepLog) ObserveSweep(deleted int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, deleted)
	l.errs = append(l.errs, err)
}

func (l *sweepLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.deleted)
}

func TestSweepOnceRemovesOnlyExpiredTurns(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	_, err := store.UpsertUser(ctx, memory.Profile{ExternalID: 42}, now)
	require.NoError(t, err)
	for _, tc := range []struct {
		content string
		age     time.Duration
	}{{"two hours", 2 * time.Hour}, {"five minutes", 5 * time.Minute}} {
		_, err := store.AppendTurn(ctx, memory.NewTurn{
			ExternalID: 42,
			Role:       memory.RoleUser,
			Content:    tc.content,
			CreatedAt:  now.Add(-tc.age),
		})
		require.NoError(t, err)
	}

	rec := &sweepLog{}
	s := New(store, Config{TTL: time.Hour, Now: func() time.Time { return now }}, zerolog.Nop(), rec)
	deleted, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []int64{1}, rec.deleted)

	left, err := store.RecentTurns(ctx, 42, 20)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "five minutes", left[0].Content)
}

type flakyStore struct {
	memory.Store
	mu    sync.Mutex
	calls int
}

func (f *flakyStore) InTx(ctx context.Context, fn func(q memory.Queries) error) error {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		return errors.New("database is locked")
	}
	return f.Store.InTx(ctx, fn)
}

func TestRunSurvivesFailedSweep(t *testing.T) {
	store := &flakyStore{Store: memory.NewInMemoryStore()}
	rec := &sweepLog{}
	s := New(store, Config{TTL: time.Hour, Interval: 5 * time.Millisecond}, zerolog.Nop(), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)
	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Error(t, rec.errs[0])
	assert.NoError(t, rec.errs[1])
}

// gatedStore holds the first transaction open until release is closed.
type gatedStore struct {
	memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func (g *gatedStore) InTx(ctx context.Context, fn func(q memory.Queries) error) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
		g.ctxErr = ctx.Err()
	}
	return g.Store.InTx(ctx, fn)
}

func TestRunFinishesInFlightSweepAfterCancel(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inner := memory.NewInMemoryStore()
	ctx := context.Background()
	_, err := inner.UpsertUser(ctx, memory.Profile{ExternalID: 7}, now)
	require.NoError(t, err)
	_, err = inner.AppendTurn(ctx, memory.NewTurn{
		ExternalID: 7,
		Role:       memory.RoleUser,
		Content:    "stale",
		CreatedAt:  now.Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	store := &gatedStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}
	rec := &sweepLog{}
	s := New(store, Config{TTL: time.Hour, Interval: 5 * time.Millisecond, Now: func() time.Time { return now }}, zerolog.Nop(), rec)

	runCtx, cancel := context.WithCancel(context.Background())
	done := s.Start(runCtx)

	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("sweep never started")
	}
	assert.Equal(t, StateSweeping, s.State())
	cancel()

	select {
	case <-done:
		t.Fatal("loop exited while a sweep was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(store.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after the in-flight sweep")
	}

	assert.NoError(t, store.ctxErr, "in-flight sweep must not see the cancellation")
	assert.Equal(t, StateIdle, s.State())
	rec.mu.Lock()
	require.NotEmpty(t, rec.deleted)
	assert.EqualValues(t, 1, rec.deleted[0])
	assert.NoError(t, rec.errs[0])
	rec.mu.Unlock()

	left, err := inner.RecentTurns(ctx, 7, 20)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(memory.NewInMemoryStore(), Config{}, zerolog.Nop(), nil)
	assert.Equal(t, DefaultTTL, s.ttl)
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Equal(t, "idle", s.State().String())
}
