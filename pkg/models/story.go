package models

import "time"

// StoryStatus represents the current state of a story.
type StoryStatus string

const (
	// StoryStatusPending indicates the story is waiting on dependencies or backoff.
	StoryStatusPending StoryStatus = "pending"
	// StoryStatusReady indicates every dependency is done and the story can be assigned.
	StoryStatusReady StoryStatus = "ready"
	// StoryStatusInProgress indicates an agent is working on the story.
	StoryStatusInProgress StoryStatus = "in_progress"
	// StoryStatusTesting indicates the story's tests are being run.
	StoryStatusTesting StoryStatus = "testing"
	// StoryStatusMerging indicates the story's changes are waiting to integrate.
	StoryStatusMerging StoryStatus = "merging"
	// StoryStatusDone indicates the story has been integrated.
	StoryStatusDone StoryStatus = "done"
	// StoryStatusFailed indicates the last execution failed.
	StoryStatusFailed StoryStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s StoryStatus) Valid() bool {
	switch s {
	case StoryStatusPending, StoryStatusReady, StoryStatusInProgress, StoryStatusTesting,
		StoryStatusMerging, StoryStatusDone, StoryStatusFailed:
		return true
	default:
		return false
	}
}

// InFlight returns true while a squad holds the story.
func (s StoryStatus) InFlight() bool {
	return s == StoryStatusInProgress || s == StoryStatusTesting || s == StoryStatusMerging
}

// Executing returns true while an agent is still producing the story's changes.
func (s StoryStatus) Executing() bool {
	return s == StoryStatusInProgress || s == StoryStatusTesting
}

// storyTransitions lists the allowed status changes.
var storyTransitions = map[StoryStatus][]StoryStatus{
	StoryStatusPending:    {StoryStatusReady},
	StoryStatusReady:      {StoryStatusInProgress},
	StoryStatusInProgress: {StoryStatusTesting, StoryStatusMerging, StoryStatusDone, StoryStatusFailed, StoryStatusReady},
	StoryStatusTesting:    {StoryStatusMerging, StoryStatusDone, StoryStatusFailed, StoryStatusReady},
	StoryStatusMerging:    {StoryStatusDone, StoryStatusFailed, StoryStatusReady},
	StoryStatusFailed:     {StoryStatusPending},
}

// CanTransition reports whether a story may move from s to next.
func (s StoryStatus) CanTransition(next StoryStatus) bool {
	for _, allowed := range storyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Story is the atomic unit of work in a project backlog.
type Story struct {
	// ID is the unique identifier for this story.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the story.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the story.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Domain is the cluster this story belongs to.
	Domain string `json:"domain" yaml:"domain"`
	// Phase is the stage that gates when the story's cluster unlocks.
	Phase Phase `json:"phase" yaml:"phase"`
	// Dependencies lists story IDs that must be done first.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Resources lists the resource keys (usually file paths) the story expects to write.
	Resources []string `json:"resources,omitempty" yaml:"resources,omitempty"`
	// Role is the member role preferred for this story. Empty means coder.
	Role Role `json:"role,omitempty" yaml:"role,omitempty"`
	// Status is the current state of the story.
	Status StoryStatus `json:"status" yaml:"-"`
	// AssignedSquadID is the squad working on the story, if any.
	AssignedSquadID string `json:"assignedSquadId,omitempty" yaml:"-"`
	// Attempts counts retries; it only increments on failed -> pending.
	Attempts int `json:"attempts" yaml:"-"`
	// LastError is the reason for the most recent failure.
	LastError string `json:"lastError,omitempty" yaml:"-"`
	// ConflictID is set while an escalated conflict involving this story is unresolved.
	ConflictID string `json:"conflictId,omitempty" yaml:"-"`
	// RetryAt gates promotion back to ready after a failure.
	RetryAt *time.Time `json:"retryAt,omitempty" yaml:"-"`
	// StartedAt is when the current execution began.
	StartedAt *time.Time `json:"startedAt,omitempty" yaml:"-"`
	// CompletedAt is when the story was integrated.
	CompletedAt *time.Time `json:"completedAt,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the story.
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	c := *s
	c.Dependencies = append([]string(nil), s.Dependencies...)
	c.Resources = append([]string(nil), s.Resources...)
	c.RetryAt = cloneTime(s.RetryAt)
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	return &c
}

// Exhausted reports whether the story has used its retry budget.
// A story has run Attempts+1 times when it fails.
func (s *Story) Exhausted(maxAttempts int) bool {
	return s.Attempts+1 >= maxAttempts
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
