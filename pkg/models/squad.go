package models

import "time"

// Role is the specialization of a squad member.
type Role string

const (
	RoleCoder  Role = "coder"
	RoleTester Role = "tester"
	RoleData   Role = "data"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleCoder, RoleTester, RoleData:
		return true
	default:
		return false
	}
}

// SquadStatus represents the state of a squad.
type SquadStatus string

const (
	// SquadStatusIdle indicates the squad has no stories in progress.
	SquadStatusIdle SquadStatus = "idle"
	// SquadStatusActive indicates the squad is working.
	SquadStatusActive SquadStatus = "active"
	// SquadStatusCompleted indicates the squad was retired. Terminal.
	SquadStatusCompleted SquadStatus = "completed"
)

// MemberStatus represents the state of a squad member.
type MemberStatus string

const (
	MemberStatusIdle      MemberStatus = "idle"
	MemberStatusWorking   MemberStatus = "working"
	MemberStatusCompleted MemberStatus = "completed"
)

// SquadMember is one agent slot in a squad.
type SquadMember struct {
	ID string `json:"id"`
	// Role is what the member does.
	Role Role `json:"role"`
	// RoleIndex disambiguates members sharing a role.
	RoleIndex int `json:"roleIndex"`
	// Lead marks the coordinator-adjacent coder lead.
	Lead           bool         `json:"lead,omitempty"`
	Status         MemberStatus `json:"status"`
	CurrentStoryID string       `json:"currentStoryId,omitempty"`
}

// SquadMetrics aggregates a squad's output.
type SquadMetrics struct {
	StoriesCompleted int `json:"storiesCompleted"`
	TestsWritten     int `json:"testsWritten"`
	TestsPassing     int `json:"testsPassing"`
}

// Squad is a standing group of agent slots.
type Squad struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Specialization is an optional domain affinity.
	Specialization    string         `json:"specialization,omitempty"`
	Status            SquadStatus    `json:"status"`
	Members           []*SquadMember `json:"members"`
	Metrics           SquadMetrics   `json:"metrics"`
	InProgressStories []string       `json:"inProgressStories"`
	FormedAt          time.Time      `json:"formedAt"`
	// IdleSince is when the squad last became idle.
	IdleSince *time.Time `json:"idleSince,omitempty"`
}

// Clone returns a deep copy of the squad.
func (s *Squad) Clone() *Squad {
	if s == nil {
		return nil
	}
	c := *s
	c.Members = make([]*SquadMember, len(s.Members))
	for i, m := range s.Members {
		mc := *m
		c.Members[i] = &mc
	}
	c.InProgressStories = append([]string(nil), s.InProgressStories...)
	c.IdleSince = cloneTime(s.IdleSince)
	return &c
}

// HasStory reports whether the squad owns the story.
func (s *Squad) HasStory(storyID string) bool {
	for _, id := range s.InProgressStories {
		if id == storyID {
			return true
		}
	}
	return false
}

// WorkingMembers returns the number of members currently working.
func (s *Squad) WorkingMembers() int {
	n := 0
	for _, m := range s.Members {
		if m.Status == MemberStatusWorking {
			n++
		}
	}
	return n
}

// Agent is a flattened view of one squad member, used by observers.
type Agent struct {
	ID             string       `json:"id"`
	SquadID        string       `json:"squadId"`
	Role           Role         `json:"role"`
	RoleIndex      int          `json:"roleIndex"`
	Lead           bool         `json:"lead,omitempty"`
	Status         MemberStatus `json:"status"`
	CurrentStoryID string       `json:"currentStoryId,omitempty"`
}
