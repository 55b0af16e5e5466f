// Package events provides the ordered, replayable event stream of a fleet.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/armada/pkg/models"
)

// Kind names an event type on the wire.
type Kind string

const (
	// Snapshot kinds replace the observer's previous state wholesale.
	KindProgress Kind = "progress"
	KindMetrics  Kind = "metrics"
	KindDomains  Kind = "domains"
	KindAgents   Kind = "agents"
	KindSquads   Kind = "squads"

	// Delta kinds are additive.
	KindAgentMessage   Kind = "agent:message"
	KindStoryStarted   Kind = "story:started"
	KindStoryCompleted Kind = "story:completed"
	KindStoryFailed    Kind = "story:failed"
	KindFailedSummary  Kind = "stories:failed:summary"
	KindSquadActivity  Kind = "squad:activity"
	KindConflict       Kind = "conflict"
	KindComplete       Kind = "complete"
	KindError          Kind = "error"
)

// IsSnapshot reports whether events of this kind carry full state.
func (k Kind) IsSnapshot() bool {
	switch k {
	case KindProgress, KindMetrics, KindDomains, KindAgents, KindSquads:
		return true
	default:
		return false
	}
}

// Payload is implemented by exactly one struct per Kind.
type Payload interface {
	Kind() Kind
	isPayload()
}

// NewPayload returns an empty payload for a kind, ready to be decoded into.
func NewPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindProgress:
		return &Progress{}, nil
	case KindMetrics:
		return &Metrics{}, nil
	case KindDomains:
		return &Domains{}, nil
	case KindAgents:
		return &Agents{}, nil
	case KindSquads:
		return &Squads{}, nil
	case KindAgentMessage:
		return &AgentMessage{}, nil
	case KindStoryStarted:
		return &StoryStarted{}, nil
	case KindStoryCompleted:
		return &StoryCompleted{}, nil
	case KindStoryFailed:
		return &StoryFailed{}, nil
	case KindFailedSummary:
		return &FailedSummary{}, nil
	case KindSquadActivity:
		return &SquadActivity{}, nil
	case KindConflict:
		return &Conflict{}, nil
	case KindComplete:
		return &Complete{}, nil
	case KindError:
		return &Error{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

// Progress is the backlog's status breakdown.
type Progress struct {
	State       string       `json:"state"`
	Paused      bool         `json:"paused"`
	Draining    bool         `json:"draining,omitempty"`
	ActivePhase models.Phase `json:"activePhase,omitempty"`
	Total       int          `json:"total"`
	Pending     int          `json:"pending"`
	Ready       int          `json:"ready"`
	InProgress  int          `json:"inProgress"`
	Testing     int          `json:"testing"`
	Merging     int          `json:"merging"`
	Done        int          `json:"done"`
	Failed      int          `json:"failed"`
	Percent     float64      `json:"percent"`
}

// Metrics wraps the fleet's aggregate metrics.
type Metrics struct {
	models.FleetMetrics
}

// Domains is the cluster table.
type Domains struct {
	Domains []*models.DomainCluster `json:"domains"`
}

// Agents lists every squad member.
type Agents struct {
	Agents []models.Agent `json:"agents"`
}

// Squads lists every squad.
type Squads struct {
	Squads []*models.Squad `json:"squads"`
}

// AgentMessage carries one agent log entry.
type AgentMessage struct {
	models.AgentMessage
}

// StoryStarted is published when a squad member picks up a story.
type StoryStarted struct {
	StoryID string `json:"storyId"`
	Title   string `json:"title"`
	Domain  string `json:"domain"`
	SquadID string `json:"squadId"`
	AgentID string `json:"agentId"`
	Attempt int    `json:"attempt"`
}

// StoryCompleted is published when a story is integrated.
type StoryCompleted struct {
	StoryID      string `json:"storyId"`
	Domain       string `json:"domain"`
	SquadID      string `json:"squadId,omitempty"`
	DurationMs   int64  `json:"durationMs"`
	TokensUsed   int64  `json:"tokensUsed"`
	TestsWritten int    `json:"testsWritten"`
	TestsPassing int    `json:"testsPassing"`
}

// StoryFailed is published when an execution fails or is abandoned.
type StoryFailed struct {
	StoryID   string     `json:"storyId"`
	Domain    string     `json:"domain"`
	Reason    string     `json:"reason"`
	Attempts  int        `json:"attempts"`
	WillRetry bool       `json:"willRetry"`
	RetryAt   *time.Time `json:"retryAt,omitempty"`
}

// FailedStory is one entry of a failed summary.
type FailedStory struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Domain    string `json:"domain"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError"`
	Exhausted bool   `json:"exhausted"`
}

// FailedSummary lists every failed story.
type FailedSummary struct {
	Stories []FailedStory `json:"stories"`
}

// SquadActivity describes a squad lifecycle change.
type SquadActivity struct {
	SquadID string             `json:"squadId"`
	Action  string             `json:"action"`
	StoryID string             `json:"storyId,omitempty"`
	Status  models.SquadStatus `json:"status"`
}

// Squad activity actions.
const (
	SquadFormed   = "formed"
	SquadAssigned = "assigned"
	SquadReleased = "released"
	SquadRetired  = "retired"
)

// Conflict reports the records produced by one pairwise resolution.
type Conflict struct {
	StoryIDs   []string                `json:"storyIds"`
	Resolution models.Resolution       `json:"resolution"`
	Records    []models.ConflictRecord `json:"records"`
	// Resolved is set when an escalated conflict is cleared by an operator.
	Resolved bool `json:"resolved,omitempty"`
}

// Complete is published when the fleet finishes.
type Complete struct {
	// Phase is "completed" or "error".
	Phase       string       `json:"phase"`
	Degraded    bool         `json:"degraded"`
	FailedPhase models.Phase `json:"failedPhase,omitempty"`
}

// Complete phases.
const (
	CompletePhaseCompleted = "completed"
	CompletePhaseError     = "error"
)

// Error reports a structural failure. Domain-level errors mean degraded, not fatal.
type Error struct {
	Code    string `json:"code"`
	StoryID string `json:"storyId,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Reason  string `json:"reason"`
}

func (*Progress) Kind() Kind       { return KindProgress }
func (*Metrics) Kind() Kind        { return KindMetrics }
func (*Domains) Kind() Kind        { return KindDomains }
func (*Agents) Kind() Kind         { return KindAgents }
func (*Squads) Kind() Kind         { return KindSquads }
func (*AgentMessage) Kind() Kind   { return KindAgentMessage }
func (*StoryStarted) Kind() Kind   { return KindStoryStarted }
func (*StoryCompleted) Kind() Kind { return KindStoryCompleted }
func (*StoryFailed) Kind() Kind    { return KindStoryFailed }
func (*FailedSummary) Kind() Kind  { return KindFailedSummary }
func (*SquadActivity) Kind() Kind  { return KindSquadActivity }
func (*Conflict) Kind() Kind       { return KindConflict }
func (*Complete) Kind() Kind       { return KindComplete }
func (*Error) Kind() Kind          { return KindError }

func (*Progress) isPayload()       {}
func (*Metrics) isPayload()        {}
func (*Domains) isPayload()        {}
func (*Agents) isPayload()         {}
func (*Squads) isPayload()         {}
func (*AgentMessage) isPayload()   {}
func (*StoryStarted) isPayload()   {}
func (*StoryCompleted) isPayload() {}
func (*StoryFailed) isPayload()    {}
func (*FailedSummary) isPayload()  {}
func (*SquadActivity) isPayload()  {}
func (*Conflict) isPayload()       {}
func (*Complete) isPayload()       {}
func (*Error) isPayload()          {}

// StoryID returns the story an event is about, if any.
func StoryID(p Payload) string {
	switch v := p.(type) {
	case *AgentMessage:
		return v.StoryID
	case *StoryStarted:
		return v.StoryID
	case *StoryCompleted:
		return v.StoryID
	case *StoryFailed:
		return v.StoryID
	case *Error:
		return v.StoryID
	default:
		return ""
	}
}

// Event is one sequenced entry of the stream.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    Kind      `json:"kind"`
	Project string    `json:"project"`
	Time    time.Time `json:"time"`
	Payload Payload   `json:"payload"`
}

// UnmarshalJSON decodes the payload into the struct matching Kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Seq     uint64          `json:"seq"`
		Kind    Kind            `json:"kind"`
		Project string          `json:"project"`
		Time    time.Time       `json:"time"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := NewPayload(raw.Kind)
	if err != nil {
		return err
	}
	if len(raw.Payload) > 0 {
		if err := json.Unmarshal(raw.Payload, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Kind, err)
		}
	}
	e.Seq, e.Kind, e.Project, e.Time, e.Payload = raw.Seq, raw.Kind, raw.Project, raw.Time, p
	return nil
}
