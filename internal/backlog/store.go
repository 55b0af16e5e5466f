// Package backlog holds a project's stories, their dependency edges, and status.
package backlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/armada/pkg/models"
)

// Store is the backlog of a single project.
// Mutations are expected to come from one writer (the fleet coordinator);
// the lock only makes copy-on-read snapshots safe from other goroutines.
type Store struct {
	mu sync.RWMutex
	// stories maps story ID to the story itself.
	stories map[string]*models.Story
	// order preserves insertion order for deterministic scheduling.
	order []string
	// dependents maps story ID to IDs of stories that depend on it.
	dependents map[string][]string
	now        func() time.Time
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates an empty backlog.
func New() *Store {
	return &Store{
		stories:    make(map[string]*models.Story),
		dependents: make(map[string][]string),
		now:        time.Now,
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *Store) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// SetClock replaces the time source used for timestamps and backoff checks.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AddStories copies stories into the backlog.
// Done and failed stories keep their status (resume); anything else starts pending
// because no squad owns it yet.
func (s *Store) AddStories(stories []*models.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(stories))
	for _, st := range stories {
		if st.ID == "" {
			return fmt.Errorf("story with title %q has no id", st.Title)
		}
		if _, exists := s.stories[st.ID]; exists || seen[st.ID] {
			return &DuplicateStoryError{ID: st.ID}
		}
		if st.Status != "" && !st.Status.Valid() {
			return fmt.Errorf("story %s has unknown status %q", st.ID, st.Status)
		}
		seen[st.ID] = true
	}

	for _, st := range stories {
		c := st.Clone()
		switch c.Status {
		case models.StoryStatusDone, models.StoryStatusFailed:
		default:
			c.Status = models.StoryStatusPending
			c.AssignedSquadID = ""
			c.StartedAt = nil
		}
		s.stories[c.ID] = c
		s.order = append(s.order, c.ID)
		for _, dep := range c.Dependencies {
			s.dependents[dep] = append(s.dependents[dep], c.ID)
		}
		s.debugLog("[backlog] added story id=%s domain=%s phase=%s deps=%v", c.ID, c.Domain, c.Phase, c.Dependencies)
	}
	return nil
}

// Get returns a copy of a story.
func (s *Store) Get(id string) (*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stories[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return st.Clone(), nil
}

// Len returns the number of stories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// GetReady returns ready, unassigned stories with no open conflict, in backlog order.
// An empty domain matches every domain.
func (s *Store) GetReady(domain string) []*models.Story {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*models.Story
	for _, id := range s.order {
		st := s.stories[id]
		if st.Status != models.StoryStatusReady || st.AssignedSquadID != "" || st.ConflictID != "" {
			continue
		}
		if domain != "" && st.Domain != domain {
			continue
		}
		ready = append(ready, st.Clone())
	}
	return ready
}

// MarkStatus moves a story to a new status.
// errMsg is recorded as LastError on failure.
func (s *Store) MarkStatus(id string, status models.StoryStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stories[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if !st.Status.CanTransition(status) {
		return &InvalidTransitionError{ID: id, From: st.Status, To: status}
	}
	if status == models.StoryStatusReady && st.Status == models.StoryStatusPending {
		if dep, ok := s.unmetDependencyLocked(st); !ok {
			return &InvalidTransitionError{ID: id, From: st.Status, To: status, Reason: "dependency " + dep + " is not done"}
		}
	}

	now := s.now()
	prev := st.Status
	st.Status = status

	switch status {
	case models.StoryStatusInProgress:
		st.StartedAt = &now
		st.RetryAt = nil
	case models.StoryStatusReady:
		st.AssignedSquadID = ""
		st.StartedAt = nil
	case models.StoryStatusFailed:
		st.LastError = errMsg
		st.AssignedSquadID = ""
	case models.StoryStatusPending:
		// Only reachable from failed: this is the retry transition.
		st.Attempts++
	case models.StoryStatusDone:
		st.CompletedAt = &now
		st.RetryAt = nil
	}

	s.debugLog("[backlog] story %s: %s -> %s (attempts=%d)", id, prev, status, st.Attempts)
	return nil
}

// unmetDependencyLocked returns the first dependency that is not done.
// Caller must hold s.mu.
func (s *Store) unmetDependencyLocked(st *models.Story) (string, bool) {
	for _, dep := range st.Dependencies {
		d, ok := s.stories[dep]
		if !ok || d.Status != models.StoryStatusDone {
			return dep, false
		}
	}
	return "", true
}

// Promote moves every pending story whose dependencies are done and whose
// backoff has elapsed to ready. Returns the promoted IDs.
func (s *Store) Promote() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var promoted []string
	for _, id := range s.order {
		st := s.stories[id]
		if st.Status != models.StoryStatusPending {
			continue
		}
		if st.RetryAt != nil && now.Before(*st.RetryAt) {
			continue
		}
		if _, ok := s.unmetDependencyLocked(st); !ok {
			continue
		}
		st.Status = models.StoryStatusReady
		st.RetryAt = nil
		promoted = append(promoted, id)
	}
	if len(promoted) > 0 {
		s.debugLog("[backlog] promoted %d stories to ready: %v", len(promoted), promoted)
	}
	return promoted
}

// Assign records the squad that owns a story.
func (s *Store) Assign(id, squadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stories[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	st.AssignedSquadID = squadID
	return nil
}

// SetRetryAt delays promotion of a pending story until t.
func (s *Store) SetRetryAt(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stories[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	st.RetryAt = &t
	return nil
}

// TagConflict marks a story as waiting on an escalated conflict.
func (s *Store) TagConflict(id, conflictID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stories[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	st.ConflictID = conflictID
	return nil
}

// ClearConflict removes a conflict tag from every story carrying it.
// Returns the IDs of the released stories.
func (s *Store) ClearConflict(conflictID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared []string
	for _, id := range s.order {
		if st := s.stories[id]; st.ConflictID == conflictID {
			st.ConflictID = ""
			cleared = append(cleared, id)
		}
	}
	return cleared
}

// Failed returns every failed story.
func (s *Store) Failed() []*models.Story {
	return s.filter(func(st *models.Story) bool {
		return st.Status == models.StoryStatusFailed
	})
}

// RetryableFailed returns failed stories that still have retry budget.
func (s *Store) RetryableFailed(maxAttempts int) []*models.Story {
	return s.filter(func(st *models.Story) bool {
		return st.Status == models.StoryStatusFailed && !st.Exhausted(maxAttempts)
	})
}

// ExhaustedFailed returns failed stories that used up their retry budget.
func (s *Store) ExhaustedFailed(maxAttempts int) []*models.Story {
	return s.filter(func(st *models.Story) bool {
		return st.Status == models.StoryStatusFailed && st.Exhausted(maxAttempts)
	})
}

// Snapshot returns copies of every story in backlog order.
func (s *Store) Snapshot() []*models.Story {
	return s.filter(func(*models.Story) bool { return true })
}

func (s *Store) filter(keep func(*models.Story) bool) []*models.Story {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Story
	for _, id := range s.order {
		if st := s.stories[id]; keep(st) {
			out = append(out, st.Clone())
		}
	}
	return out
}

// Counts returns the number of stories per status.
func (s *Store) Counts() map[models.StoryStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.StoryStatus]int)
	for _, st := range s.stories {
		counts[st.Status]++
	}
	return counts
}

// Dependents returns the IDs of stories that depend on id.
func (s *Store) Dependents(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.dependents[id]...)
}

// Stuck returns the stories that cannot make progress without operator action:
// failed stories whose retry budget is exhausted, and every non-done story that
// transitively depends on one.
func (s *Store) Stuck(maxAttempts int) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stuck := make(map[string]bool)
	var queue []string
	for _, id := range s.order {
		st := s.stories[id]
		if st.Status == models.StoryStatusFailed && st.Exhausted(maxAttempts) {
			stuck[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range s.dependents[id] {
			if stuck[dep] {
				continue
			}
			if d, ok := s.stories[dep]; ok && d.Status != models.StoryStatusDone {
				stuck[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return stuck
}
