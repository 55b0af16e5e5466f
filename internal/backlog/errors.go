package backlog

import (
	"fmt"

	"github.com/ShayCichocki/armada/pkg/models"
)

// NotFoundError is returned for an unknown story ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("story %s not found", e.ID)
}

// InvalidTransitionError is returned when a status change is not allowed.
// It indicates a programming or ordering defect; the store is left unchanged.
type InvalidTransitionError struct {
	ID     string
	From   models.StoryStatus
	To     models.StoryStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("story %s: invalid transition %s -> %s", e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// DuplicateStoryError is returned when AddStories sees an ID twice.
type DuplicateStoryError struct {
	ID string
}

func (e *DuplicateStoryError) Error() string {
	return fmt.Sprintf("duplicate story id %s", e.ID)
}
