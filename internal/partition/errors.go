package partition

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/armada/pkg/models"
)

// CyclicDependencyError is returned when the backlog's dependency edges form a cycle.
type CyclicDependencyError struct {
	// Cycle lists the story IDs on the cycle; the first ID is repeated at the end.
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

// UnknownDependencyError is returned when a story depends on an ID not in the backlog.
type UnknownDependencyError struct {
	StoryID      string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("story %s depends on unknown story %s", e.StoryID, e.DependencyID)
}

// PhaseMismatchError is returned when stories of one domain declare different phases.
type PhaseMismatchError struct {
	Domain  string
	StoryID string
	Want    models.Phase
	Got     models.Phase
}

func (e *PhaseMismatchError) Error() string {
	return fmt.Sprintf("domain %s is in phase %s but story %s declares %s", e.Domain, e.Want, e.StoryID, e.Got)
}

// PhaseOrderError is returned when a story depends on a story whose cluster is in
// a later phase.
type PhaseOrderError struct {
	StoryID         string
	Phase           models.Phase
	DependencyID    string
	DependencyPhase models.Phase
}

func (e *PhaseOrderError) Error() string {
	return fmt.Sprintf("story %s (phase %s) depends on %s in later phase %s",
		e.StoryID, e.Phase, e.DependencyID, e.DependencyPhase)
}
