package fleet

import (
	"sort"

	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/pkg/models"
)

// flush publishes the snapshot kinds that changed during the last step and
// swaps in a fresh read view.
func (c *Coordinator) flush() {
	if c.dirtyProgress {
		c.bus.Publish(c.progress())
		c.bus.Publish(&events.Metrics{FleetMetrics: c.fleetMetrics()})
	}
	if c.dirtyDomains {
		c.bus.Publish(&events.Domains{Domains: c.table.Snapshot()})
	}
	if c.dirtySquads {
		c.bus.Publish(&events.Squads{Squads: c.squads.Snapshot()})
		c.bus.Publish(&events.Agents{Agents: c.squads.Agents()})
	}
	changed := c.dirtyProgress || c.dirtyDomains || c.dirtySquads
	c.dirtyProgress, c.dirtyDomains, c.dirtySquads = false, false, false

	snap := c.buildSnapshot()
	c.view.Store(&snap)
	if changed && c.recorder != nil {
		c.recorder.RecordFleet(c.project, snap.Metrics)
	}
}

func (c *Coordinator) progress() *events.Progress {
	counts := c.backlog.Counts()
	total := c.backlog.Len()
	p := &events.Progress{
		State:       string(c.state),
		Paused:      c.paused,
		Draining:    c.draining,
		ActivePhase: c.table.ActivePhase(),
		Total:       total,
		Pending:     counts[models.StoryStatusPending],
		Ready:       counts[models.StoryStatusReady],
		InProgress:  counts[models.StoryStatusInProgress],
		Testing:     counts[models.StoryStatusTesting],
		Merging:     counts[models.StoryStatusMerging],
		Done:        counts[models.StoryStatusDone],
		Failed:      counts[models.StoryStatusFailed],
	}
	if total > 0 {
		p.Percent = float64(p.Done) / float64(total) * 100
	}
	return p
}

func (c *Coordinator) fleetMetrics() models.FleetMetrics {
	counts := c.backlog.Counts()
	active, _ := c.squads.ActiveAgents()
	return c.metrics.snapshot(c.now(), active, counts[models.StoryStatusDone], counts[models.StoryStatusFailed])
}

func (c *Coordinator) buildSnapshot() Snapshot {
	seen := make(map[string]bool)
	var conflicts []string
	for _, st := range c.backlog.Snapshot() {
		if st.ConflictID != "" && !seen[st.ConflictID] {
			seen[st.ConflictID] = true
			conflicts = append(conflicts, st.ConflictID)
		}
	}
	sort.Strings(conflicts)

	return Snapshot{
		Project:   c.project,
		State:     c.state,
		Paused:    c.paused,
		Draining:  c.draining,
		Progress:  *c.progress(),
		Metrics:   c.fleetMetrics(),
		Domains:   c.table.Snapshot(),
		Squads:    c.squads.Snapshot(),
		Agents:    c.squads.Agents(),
		Failed:    c.failedStories(),
		Conflicts: conflicts,
		Seq:       c.bus.Seq(),
	}
}
