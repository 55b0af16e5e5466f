package fleet

import (
	"time"

	"github.com/ShayCichocki/armada/pkg/models"
)

// metricsAggregator accumulates the counters FleetMetrics is derived from.
// Owned by the coordinator goroutine.
type metricsAggregator struct {
	window time.Duration
	// completions holds integration times inside the throughput window.
	completions   []time.Time
	tokens        int64
	resolved      int
	escalated     int
	durationTotal time.Duration
	durationCount int
}

func newMetricsAggregator(window time.Duration) *metricsAggregator {
	if window <= 0 {
		window = time.Hour
	}
	return &metricsAggregator{window: window}
}

func (m *metricsAggregator) recordCompletion(at time.Time, d time.Duration) {
	m.completions = append(m.completions, at)
	if d > 0 {
		m.durationTotal += d
		m.durationCount++
	}
}

func (m *metricsAggregator) recordTokens(n int64) {
	m.tokens += n
}

func (m *metricsAggregator) recordConflict(r models.Resolution) {
	if r == models.ResolutionEscalated {
		m.escalated++
	} else {
		m.resolved++
	}
}

// snapshot derives FleetMetrics. completed and failed come from the backlog so
// they stay correct for resumed fleets.
func (m *metricsAggregator) snapshot(now time.Time, activeAgents, completed, failed int) models.FleetMetrics {
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.completions) && m.completions[i].Before(cutoff) {
		i++
	}
	m.completions = m.completions[i:]

	var avg int64
	if m.durationCount > 0 {
		avg = (m.durationTotal / time.Duration(m.durationCount)).Milliseconds()
	}
	return models.FleetMetrics{
		ActiveAgents:           activeAgents,
		Throughput:             float64(len(m.completions)) / m.window.Hours(),
		CompletedStories:       completed,
		FailedStories:          failed,
		TotalTokensUsed:        m.tokens,
		ConflictsResolved:      m.resolved,
		ConflictsEscalated:     m.escalated,
		AverageStoryDurationMs: avg,
	}
}
