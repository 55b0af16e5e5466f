// Package squad forms squads of role-specialized agent slots and assigns them stories.
package squad

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/armada/internal/fleet/policy"
	"github.com/ShayCichocki/armada/pkg/models"
)

// Manager owns the squads of one fleet.
// Like the backlog it is driven by the coordinator goroutine; the lock only
// protects snapshots taken from elsewhere.
type Manager struct {
	mu     sync.RWMutex
	policy policy.SquadPolicy
	// squads are kept in formation order.
	squads []*models.Squad
	byID   map[string]*models.Squad
	// storyDomains maps in-progress story IDs to their domain.
	storyDomains map[string]string
	formed       int

	unlocked func(domain string) bool
	now      func() time.Time
	debugLog func(format string, args ...interface{})
}

// NewManager creates a squad manager.
// unlocked reports whether a domain's phase is open; nil treats every domain as open.
func NewManager(p policy.SquadPolicy, unlocked func(domain string) bool) *Manager {
	if unlocked == nil {
		unlocked = func(string) bool { return true }
	}
	return &Manager{
		policy:       p,
		byID:         make(map[string]*models.Squad),
		storyDomains: make(map[string]string),
		unlocked:     unlocked,
		now:          time.Now,
		debugLog:     func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (m *Manager) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// FormSquad creates a squad with the configured composition:
// a coder lead, Coders more coders, Testers testers and optionally a data member.
func (m *Manager) FormSquad(specialization string) *models.Squad {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formLocked(specialization).Clone()
}

func (m *Manager) formLocked(specialization string) *models.Squad {
	m.formed++
	now := m.now()
	sq := &models.Squad{
		ID:             uuid.New().String()[:8],
		Name:           fmt.Sprintf("Squad %d", m.formed),
		Specialization: specialization,
		Status:         models.SquadStatusIdle,
		FormedAt:       now,
		IdleSince:      &now,
	}

	addMembers := func(role models.Role, n int, lead bool) {
		for i := 0; i < n; i++ {
			idx := 0
			for _, mem := range sq.Members {
				if mem.Role == role {
					idx++
				}
			}
			sq.Members = append(sq.Members, &models.SquadMember{
				ID:        fmt.Sprintf("%s-%s-%d", sq.ID, role, idx),
				Role:      role,
				RoleIndex: idx,
				Lead:      lead,
				Status:    models.MemberStatusIdle,
			})
		}
	}
	addMembers(models.RoleCoder, 1, true)
	addMembers(models.RoleCoder, m.policy.Coders, false)
	addMembers(models.RoleTester, m.policy.Testers, false)
	if m.policy.IncludeData {
		addMembers(models.RoleData, 1, false)
	}

	m.squads = append(m.squads, sq)
	m.byID[sq.ID] = sq
	m.debugLog("[squad] formed %s (%s) specialization=%q members=%d", sq.ID, sq.Name, specialization, len(sq.Members))
	return sq
}

// Assign gives a story to a squad. It returns false if the squad is retired or at
// capacity, has no idle member for the story's role, or the story's domain is locked.
func (m *Manager) Assign(squadID string, story *models.Story) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sq, ok := m.byID[squadID]
	if !ok {
		return false
	}
	return m.assignLocked(sq, story)
}

func (m *Manager) assignLocked(sq *models.Squad, story *models.Story) bool {
	member := m.freeMemberLocked(sq, story)
	if member == nil || !m.unlocked(story.Domain) {
		return false
	}
	member.Status = models.MemberStatusWorking
	member.CurrentStoryID = story.ID
	sq.InProgressStories = append(sq.InProgressStories, story.ID)
	sq.Status = models.SquadStatusActive
	sq.IdleSince = nil
	m.storyDomains[story.ID] = story.Domain
	m.debugLog("[squad] %s assigned story %s to member %s", sq.ID, story.ID, member.ID)
	return true
}

// freeMemberLocked returns the member that would take the story, or nil.
func (m *Manager) freeMemberLocked(sq *models.Squad, story *models.Story) *models.SquadMember {
	if sq.Status == models.SquadStatusCompleted || sq.HasStory(story.ID) {
		return nil
	}
	if len(sq.InProgressStories) >= m.policy.Capacity {
		return nil
	}
	role := story.Role
	if role == "" {
		role = models.RoleCoder
	}
	for _, mem := range sq.Members {
		if mem.Role == role && mem.Status == models.MemberStatusIdle {
			return mem
		}
	}
	return nil
}

// Place assigns a story following the assignment policy: a squad specialized in the
// story's domain first, then the squad with the fewest in-progress stories, then a
// newly formed squad while under MaxSquads.
func (m *Manager) Place(story *models.Story) (*models.Squad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unlocked(story.Domain) {
		return nil, &AssignmentCapacityError{StoryID: story.ID, Reason: "domain " + story.Domain + " is locked"}
	}

	var best *models.Squad
	live := 0
	for _, sq := range m.squads {
		if sq.Status == models.SquadStatusCompleted {
			continue
		}
		live++
		if m.freeMemberLocked(sq, story) == nil {
			continue
		}
		switch {
		case best == nil:
			best = sq
		case sq.Specialization == story.Domain && best.Specialization != story.Domain:
			best = sq
		case (sq.Specialization == story.Domain) == (best.Specialization == story.Domain) &&
			len(sq.InProgressStories) < len(best.InProgressStories):
			best = sq
		}
	}

	if best == nil {
		if live >= m.policy.MaxSquads {
			return nil, &AssignmentCapacityError{StoryID: story.ID, Reason: "all squads busy"}
		}
		best = m.formLocked(story.Domain)
	}
	if !m.assignLocked(best, story) {
		return nil, &AssignmentCapacityError{StoryID: story.ID, Reason: "no member for role " + string(story.Role)}
	}
	return best.Clone(), nil
}

// Release frees every member working on a story and drops it from the squad.
func (m *Manager) Release(squadID, storyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sq, ok := m.byID[squadID]
	if !ok {
		return
	}
	for _, mem := range sq.Members {
		if mem.CurrentStoryID == storyID {
			mem.CurrentStoryID = ""
			if mem.Status == models.MemberStatusWorking {
				mem.Status = models.MemberStatusIdle
			}
		}
	}
	kept := sq.InProgressStories[:0]
	for _, id := range sq.InProgressStories {
		if id != storyID {
			kept = append(kept, id)
		}
	}
	sq.InProgressStories = kept
	delete(m.storyDomains, storyID)

	if len(sq.InProgressStories) == 0 && sq.Status == models.SquadStatusActive {
		now := m.now()
		sq.Status = models.SquadStatusIdle
		sq.IdleSince = &now
	}
	m.debugLog("[squad] %s released story %s", squadID, storyID)
}

// BeginTesting puts an idle tester on a story the squad owns.
// Returns false when the squad has no free tester.
func (m *Manager) BeginTesting(squadID, storyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sq, ok := m.byID[squadID]
	if !ok || !sq.HasStory(storyID) {
		return false
	}
	for _, mem := range sq.Members {
		if mem.Role == models.RoleTester && mem.Status == models.MemberStatusIdle {
			mem.Status = models.MemberStatusWorking
			mem.CurrentStoryID = storyID
			return true
		}
	}
	return false
}

// EndTesting frees the tester working on a story.
func (m *Manager) EndTesting(squadID, storyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sq, ok := m.byID[squadID]
	if !ok {
		return
	}
	for _, mem := range sq.Members {
		if mem.Role == models.RoleTester && mem.CurrentStoryID == storyID {
			mem.Status = models.MemberStatusIdle
			mem.CurrentStoryID = ""
		}
	}
}

// RecordCompletion adds a finished story to a squad's metrics.
func (m *Manager) RecordCompletion(squadID string, testsWritten, testsPassing int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sq, ok := m.byID[squadID]; ok {
		sq.Metrics.StoriesCompleted++
		sq.Metrics.TestsWritten += testsWritten
		sq.Metrics.TestsPassing += testsPassing
	}
}

// RetireIdle retires squads idle longer than the grace period whose domain has no
// ready work. hasReadyWork receives the squad's specialization ("" for none).
// Returns the retired squad IDs.
func (m *Manager) RetireIdle(hasReadyWork func(domain string) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var retired []string
	for _, sq := range m.squads {
		if sq.Status != models.SquadStatusIdle || sq.IdleSince == nil {
			continue
		}
		if now.Sub(*sq.IdleSince) < m.policy.IdleGrace {
			continue
		}
		if hasReadyWork != nil && hasReadyWork(sq.Specialization) {
			continue
		}
		m.retireLocked(sq)
		retired = append(retired, sq.ID)
	}
	return retired
}

// RetireAll retires every live squad, releasing anything they still hold.
func (m *Manager) RetireAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var retired []string
	for _, sq := range m.squads {
		if sq.Status == models.SquadStatusCompleted {
			continue
		}
		for _, id := range sq.InProgressStories {
			delete(m.storyDomains, id)
		}
		sq.InProgressStories = nil
		m.retireLocked(sq)
		retired = append(retired, sq.ID)
	}
	return retired
}

func (m *Manager) retireLocked(sq *models.Squad) {
	sq.Status = models.SquadStatusCompleted
	sq.IdleSince = nil
	for _, mem := range sq.Members {
		mem.Status = models.MemberStatusCompleted
		mem.CurrentStoryID = ""
	}
	m.debugLog("[squad] retired %s", sq.ID)
}

// Worker returns the member executing a story. A coder or data member wins over a
// tester that is only testing it.
func (m *Manager) Worker(squadID, storyID string) (models.SquadMember, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sq, ok := m.byID[squadID]
	if !ok {
		return models.SquadMember{}, false
	}
	var tester *models.SquadMember
	for _, mem := range sq.Members {
		if mem.CurrentStoryID != storyID {
			continue
		}
		if mem.Role != models.RoleTester {
			return *mem, true
		}
		if tester == nil {
			tester = mem
		}
	}
	if tester != nil {
		return *tester, true
	}
	return models.SquadMember{}, false
}

// ActiveAgents returns the total number of working members and the count per domain.
func (m *Manager) ActiveAgents() (int, map[string]int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	perDomain := make(map[string]int)
	for _, sq := range m.squads {
		for _, mem := range sq.Members {
			if mem.Status != models.MemberStatusWorking {
				continue
			}
			total++
			perDomain[m.storyDomains[mem.CurrentStoryID]]++
		}
	}
	return total, perDomain
}

// Live returns the number of squads that are not retired.
func (m *Manager) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sq := range m.squads {
		if sq.Status != models.SquadStatusCompleted {
			n++
		}
	}
	return n
}

// Snapshot returns copies of every squad in formation order.
func (m *Manager) Snapshot() []*models.Squad {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Squad, len(m.squads))
	for i, sq := range m.squads {
		out[i] = sq.Clone()
	}
	return out
}

// Agents returns a flattened view of every member of every squad.
func (m *Manager) Agents() []models.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Agent
	for _, sq := range m.squads {
		for _, mem := range sq.Members {
			out = append(out, models.Agent{
				ID:             mem.ID,
				SquadID:        sq.ID,
				Role:           mem.Role,
				RoleIndex:      mem.RoleIndex,
				Lead:           mem.Lead,
				Status:         mem.Status,
				CurrentStoryID: mem.CurrentStoryID,
			})
		}
	}
	return out
}
