package fleet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFleetNotFound is returned for a project with no fleet.
	ErrFleetNotFound = errors.New("fleet not found")
	// ErrFleetExists is returned when creating a fleet twice.
	ErrFleetExists = errors.New("fleet already exists")
	// ErrFleetClosed is returned by commands sent to a closed coordinator.
	ErrFleetClosed = errors.New("fleet closed")
	// ErrConflictNotFound is returned when resolving a conflict no story is waiting on.
	ErrConflictNotFound = errors.New("conflict not found")
)

// DrainReason is recorded as LastError on stories abandoned by a stop.
const DrainReason = "DrainTimeout"

// DrainTimeoutError is returned by Stop when in-flight stories did not finish in
// the drain window. The stories are failed and retry-eligible.
type DrainTimeoutError struct {
	StoryIDs []string
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("drain timed out; abandoned stories: %s", strings.Join(e.StoryIDs, ", "))
}
