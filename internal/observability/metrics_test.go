package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/chatmemory/internal/memory"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageCompletion, 500*time.Millisecond)
	w.Observe(StageCompletion, 9*time.Second)
	w.Observe(StageCompletion, 700*time.Millisecond)
	w.Observe(StageContextBuild, -time.Second)

	snap := w.Snapshot()
	assert.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 1)
	s := snap.Stages[0]
	assert.Equal(t, "completion", s.Stage)
	assert.Equal(t, 3, s.Samples)
	assert.EqualValues(t, 700, s.LastMS)
	assert.EqualValues(t, 700, s.P50MS)
	assert.EqualValues(t, 9000, s.P95MS)
	assert.EqualValues(t, 9000, s.MaxMS)
	assert.EqualValues(t, 8000, s.BudgetMS)
	assert.Equal(t, 1, s.OverBudget)
}

func TestLatencyWindowKeepsNewestSamples(t *testing.T) {
	w := newLatencyWindow(2)
	for _, d := range []time.Duration{10 * time.Second, 2 * time.Millisecond, 3 * time.Millisecond} {
		w.Observe(StageSweep, d)
	}
	snap := w.Snapshot()
	require.Len(t, snap.Stages, 1)
	s := snap.Stages[0]
	assert.Equal(t, 2, s.Samples)
	assert.EqualValues(t, 3, s.MaxMS, "oldest sample is evicted")
	assert.Equal(t, 1, s.OverBudget, "over-budget count outlives eviction")
}

func TestLatencyWindowOrdersStages(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe(StageSweep, time.Millisecond)
	w.Observe(StageContextBuild, time.Millisecond)
	w.Observe(Stage(200), time.Millisecond)

	var names []string
	for _, s := range w.Snapshot().Stages {
		names = append(names, s.Stage)
	}
	assert.Equal(t, []string{"context_build", "sweep"}, names)
	assert.Equal(t, "unknown", Stage(200).String())
	assert.Zero(t, Stage(200).Budget())
}

func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.ObserveTurn(memory.RoleUser)
	m.ObserveTurn(memory.RoleUser)
	m.ObserveSweep(3, nil)
	m.ObserveSweep(0, errors.New("locked"))
	m.ObserveCompletion("ok", 1200*time.Millisecond)
	m.ObserveContextClear(4)

	assert.EqualValues(t, 2, testutil.ToFloat64(m.TurnsAppended.WithLabelValues("user")))
	assert.EqualValues(t, 3, testutil.ToFloat64(m.SweptTurns))
	assert.EqualValues(t, 1, testutil.ToFloat64(m.Sweeps.WithLabelValues("error")))
	assert.EqualValues(t, 1, testutil.ToFloat64(m.Completions.WithLabelValues("ok")))
	assert.EqualValues(t, 1, testutil.ToFloat64(m.ContextClears))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn(memory.RoleAssistant)
	m.ObserveSweep(1, nil)
	m.ObserveCompletion("ok", time.Second)
	m.ObserveStage(StageChatTurn, time.Second)
	m.ObserveChatEvent("reply")
	m.ObserveWSMessage("inbound", "user_message")
	assert.Empty(t, m.SnapshotLatency().Stages)
}
