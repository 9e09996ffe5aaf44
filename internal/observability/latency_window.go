package observability

import (
	"slices"
	"sync"
	"time"
)

// Stage is one timed step of serving a chat turn or sweeping history.
type Stage uint8

const (
	StageContextBuild Stage = iota
	StageCompletion
	StageChatTurn
	StageSweep

	stageCount
)

// stageSpecs holds the name and p95 budget of every stage, indexed by Stage.
var stageSpecs = [stageCount]struct {
	name   string
	budget time.Duration
}{
	StageContextBuild: {"context_build", 50 * time.Millisecond},
	StageCompletion:   {"completion", 8 * time.Second},
	StageChatTurn:     {"chat_turn_total", 9 * time.Second},
	StageSweep:        {"sweep", 5 * time.Second},
}

func (s Stage) String() string {
	if s >= stageCount {
		return "unknown"
	}
	return stageSpecs[s].name
}

// Budget is the p95 latency the stage is expected to stay under.
func (s Stage) Budget() time.Duration {
	if s >= stageCount {
		return 0
	}
	return stageSpecs[s].budget
}

type StageStats struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_p95_ms"`
	OverBudget int     `json:"over_budget"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// latencyWindow remembers the most recent durations of each stage. Stages
// with no samples are left out of snapshots.
type latencyWindow struct {
	mu    sync.Mutex
	size  int
	rings [stageCount]durationRing
}

type durationRing struct {
	samples []time.Duration
	head    int
	last    time.Duration
	// over counts every sample above budget since start, not just those kept.
	over int
}

func (r *durationRing) add(d time.Duration, size int) {
	if len(r.samples) < size {
		r.samples = append(r.samples, d)
	} else {
		r.samples[r.head] = d
		r.head = (r.head + 1) % size
	}
	r.last = d
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{size: size}
}

func (w *latencyWindow) Observe(stage Stage, d time.Duration) {
	if stage >= stageCount || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring := &w.rings[stage]
	ring.add(d, w.size)
	if d > stage.Budget() {
		ring.over++
	}
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      []StageStats{},
	}
	for i := range w.rings {
		ring := &w.rings[i]
		if len(ring.samples) == 0 {
			continue
		}
		sorted := slices.Clone(ring.samples)
		slices.Sort(sorted)
		stage := Stage(i)
		out.Stages = append(out.Stages, StageStats{
			Stage:      stage.String(),
			Samples:    len(sorted),
			LastMS:     millis(ring.last),
			P50MS:      millis(nearestRank(sorted, 50)),
			P95MS:      millis(nearestRank(sorted, 95)),
			MaxMS:      millis(sorted[len(sorted)-1]),
			BudgetMS:   millis(stage.Budget()),
			OverBudget: ring.over,
		})
	}
	return out
}

// nearestRank returns the smallest sample with at least pct percent of the
// samples at or below it. sorted must be non-empty and ascending.
func nearestRank(sorted []time.Duration, pct int) time.Duration {
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
