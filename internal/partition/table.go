package partition

import (
	"sync"

	"github.com/ShayCichocki/armada/pkg/models"
)

// Table tracks the live status of every domain cluster of a fleet.
type Table struct {
	mu sync.RWMutex
	// clusters are kept in phase order.
	clusters []*models.DomainCluster
	byID     map[string]*models.DomainCluster
}

// NewTable creates a table from the output of Partition.
func NewTable(clusters []*models.DomainCluster) *Table {
	t := &Table{byID: make(map[string]*models.DomainCluster, len(clusters))}
	for _, c := range clusters {
		cp := c.Clone()
		t.clusters = append(t.clusters, cp)
		t.byID[cp.ID] = cp
	}
	return t
}

// Unlocked reports whether a domain's phase is open: every cluster in a strictly
// earlier phase is completed, blocked or error. Unknown domains are locked.
func (t *Table) Unlocked(domain string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[domain]
	if !ok {
		return false
	}
	return t.unlockedLocked(c)
}

func (t *Table) unlockedLocked(c *models.DomainCluster) bool {
	order := c.Phase.Order()
	for _, other := range t.clusters {
		if other.Phase.Order() >= order {
			break
		}
		if !other.Status.Settled() {
			return false
		}
	}
	return true
}

// Refresh recomputes every cluster from the backlog.
//
// exhausted holds failed stories out of retry budget; stuck holds those plus every
// story that transitively depends on one. activeAgents is the number of working
// members per domain. Returns true if any cluster changed.
func (t *Table) Refresh(stories []*models.Story, exhausted, stuck map[string]bool, activeAgents map[string]int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	byID := make(map[string]*models.Story, len(stories))
	for _, st := range stories {
		byID[st.ID] = st
	}

	changed := false
	// Clusters are in phase order, so earlier phases settle before later ones are checked.
	for _, c := range t.clusters {
		done, ownExhausted, progressing := 0, false, false
		for _, id := range c.StoryIDs {
			st, ok := byID[id]
			if !ok {
				continue
			}
			switch {
			case st.Status == models.StoryStatusDone:
				done++
			case exhausted[id]:
				ownExhausted = true
			case !stuck[id]:
				progressing = true
			}
		}

		next := *c
		next.CompletedStories = done
		next.ActiveAgents = activeAgents[c.ID]
		if c.TotalStories > 0 {
			next.Progress = float64(done) / float64(c.TotalStories)
		}

		switch {
		case done == c.TotalStories:
			next.Status = models.ClusterStatusCompleted
		case !t.unlockedLocked(c):
			next.Status = models.ClusterStatusPending
		case ownExhausted:
			next.Status = models.ClusterStatusBlocked
		case !progressing:
			// Everything left waits on an exhausted story in another domain.
			next.Status = models.ClusterStatusError
		default:
			next.Status = models.ClusterStatusActive
		}

		if next.Status != c.Status || next.CompletedStories != c.CompletedStories ||
			next.ActiveAgents != c.ActiveAgents {
			changed = true
		}
		next.StoryIDs = c.StoryIDs
		*c = next
	}
	return changed
}

// Status returns a cluster's current status.
func (t *Table) Status(domain string) (models.ClusterStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[domain]
	if !ok {
		return "", false
	}
	return c.Status, true
}

// ActivePhase returns the earliest phase with an unsettled cluster, or "" when
// every cluster is settled.
func (t *Table) ActivePhase() models.Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.clusters {
		if !c.Status.Settled() {
			return c.Phase
		}
	}
	return ""
}

// Degraded reports whether any cluster is blocked or in error.
func (t *Table) Degraded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.clusters {
		if c.Status == models.ClusterStatusBlocked || c.Status == models.ClusterStatusError {
			return true
		}
	}
	return false
}

// FailedPhase returns the first phase in which every cluster ended blocked or in error.
func (t *Table) FailedPhase() (models.Phase, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	failed := make(map[models.Phase]bool)
	for _, c := range t.clusters {
		bad := c.Status == models.ClusterStatusBlocked || c.Status == models.ClusterStatusError
		if prev, seen := failed[c.Phase]; !seen {
			failed[c.Phase] = bad
		} else {
			failed[c.Phase] = prev && bad
		}
	}
	for _, p := range models.Phases {
		if failed[p] {
			return p, true
		}
	}
	return "", false
}

// Snapshot returns copies of every cluster in phase order.
func (t *Table) Snapshot() []*models.DomainCluster {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.DomainCluster, len(t.clusters))
	for i, c := range t.clusters {
		out[i] = c.Clone()
	}
	return out
}
