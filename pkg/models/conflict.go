package models

import "time"

// Resolution is how a detected conflict was handled.
type Resolution string

const (
	// ResolutionAutoMerged indicates the overlapping changes touched disjoint ranges.
	ResolutionAutoMerged Resolution = "auto_merged"
	// ResolutionSerialized indicates one side was re-based on the other.
	ResolutionSerialized Resolution = "serialized"
	// ResolutionEscalated indicates both stories were pushed back for a conflict fix.
	ResolutionEscalated Resolution = "escalated"
)

// Valid returns true if the resolution is a known value.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionAutoMerged, ResolutionSerialized, ResolutionEscalated:
		return true
	default:
		return false
	}
}

// Severity orders resolutions from least to most disruptive.
func (r Resolution) Severity() int {
	switch r {
	case ResolutionAutoMerged:
		return 0
	case ResolutionSerialized:
		return 1
	default:
		return 2
	}
}

// ConflictRecord is an append-only audit entry for one overlapping resource.
type ConflictRecord struct {
	ID               string     `json:"id"`
	StoryIDsInvolved []string   `json:"storyIdsInvolved"`
	ResourceKey      string     `json:"resourceKey"`
	Resolution       Resolution `json:"resolution"`
	Timestamp        time.Time  `json:"timestamp"`
}

// Hunk is a contiguous line range changed by an agent.
type Hunk struct {
	// Start is the first changed line (1-based, inclusive).
	Start int `json:"start" yaml:"start"`
	// End is the last changed line (inclusive).
	End int `json:"end" yaml:"end"`
	// Content is the replacement text for the range.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

// Overlaps reports whether two hunks share at least one line.
func (h Hunk) Overlaps(o Hunk) bool {
	return h.Start <= o.End && o.Start <= h.End
}

// FileChange is the set of hunks an agent produced for one resource key.
type FileChange struct {
	Path  string `json:"path" yaml:"path"`
	Hunks []Hunk `json:"hunks,omitempty" yaml:"hunks,omitempty"`
	// NoOp marks a resource the agent touched without changing it.
	NoOp bool `json:"noop,omitempty" yaml:"noop,omitempty"`
}

// ChangeSet is everything a successful story execution wants to integrate.
type ChangeSet struct {
	Files []FileChange `json:"files,omitempty" yaml:"files,omitempty"`
}

// Paths returns the resource keys touched by the change set.
func (c ChangeSet) Paths() []string {
	paths := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// File returns the change for a resource key.
func (c ChangeSet) File(path string) (FileChange, bool) {
	for _, f := range c.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileChange{}, false
}
