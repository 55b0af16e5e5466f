package models

// Phase is an ordered stage gating when domain clusters unlock.
type Phase string

const (
	PhaseFoundation  Phase = "foundation"
	PhaseCore        Phase = "core"
	PhaseFeature     Phase = "feature"
	PhaseIntegration Phase = "integration"
	PhasePolish      Phase = "polish"
)

// Phases is the fixed execution order.
var Phases = []Phase{PhaseFoundation, PhaseCore, PhaseFeature, PhaseIntegration, PhasePolish}

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	return p.Order() >= 0
}

// Order returns the phase's position in Phases, or -1 if unknown.
func (p Phase) Order() int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return -1
}

// ClusterStatus represents the state of a domain cluster.
type ClusterStatus string

const (
	// ClusterStatusPending indicates the cluster's phase is not unlocked yet.
	ClusterStatusPending ClusterStatus = "pending"
	// ClusterStatusActive indicates the cluster has unlocked work.
	ClusterStatusActive ClusterStatus = "active"
	// ClusterStatusCompleted indicates every story in the cluster is done.
	ClusterStatusCompleted ClusterStatus = "completed"
	// ClusterStatusBlocked indicates a story exhausted its retries but other work can continue.
	ClusterStatusBlocked ClusterStatus = "blocked"
	// ClusterStatusError indicates the cluster cannot make further progress.
	ClusterStatusError ClusterStatus = "error"
)

// Valid returns true if the status is a known value.
func (s ClusterStatus) Valid() bool {
	switch s {
	case ClusterStatusPending, ClusterStatusActive, ClusterStatusCompleted,
		ClusterStatusBlocked, ClusterStatusError:
		return true
	default:
		return false
	}
}

// Settled reports whether the cluster no longer gates later phases.
func (s ClusterStatus) Settled() bool {
	return s == ClusterStatusCompleted || s == ClusterStatusBlocked || s == ClusterStatusError
}

// DomainCluster groups stories by functional area.
type DomainCluster struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Phase            Phase         `json:"phase"`
	Status           ClusterStatus `json:"status"`
	Progress         float64       `json:"progress"`
	TotalStories     int           `json:"totalStories"`
	CompletedStories int           `json:"completedStories"`
	ActiveAgents     int           `json:"activeAgents"`
	// StoryIDs lists the stories owned by the cluster, in backlog order.
	StoryIDs []string `json:"storyIds"`
}

// Clone returns a deep copy of the cluster.
func (c *DomainCluster) Clone() *DomainCluster {
	if c == nil {
		return nil
	}
	cp := *c
	cp.StoryIDs = append([]string(nil), c.StoryIDs...)
	return &cp
}
