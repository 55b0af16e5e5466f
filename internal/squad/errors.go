package squad

import "fmt"

// AssignmentCapacityError is returned by Place when no squad can take a story.
// It is recoverable: the story stays ready and is retried on the next tick.
type AssignmentCapacityError struct {
	StoryID string
	Reason  string
}

func (e *AssignmentCapacityError) Error() string {
	return fmt.Sprintf("no squad can take story %s: %s", e.StoryID, e.Reason)
}
