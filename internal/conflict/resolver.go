package conflict

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/armada/internal/protect"
	"github.com/ShayCichocki/armada/pkg/models"
)

// Candidate is one side of a pairwise resolution.
type Candidate struct {
	StoryID string
	// Resources are the keys the story declared it would write.
	Resources []string
	Changes   models.ChangeSet
	// CompletedAt orders integration: the earlier side integrates first.
	CompletedAt time.Time
}

// Keys returns the declared resources and changed paths, sorted and deduplicated.
func (c Candidate) Keys() []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, r := range c.Resources {
		add(r)
	}
	for _, p := range c.Changes.Paths() {
		add(p)
	}
	sort.Strings(keys)
	return keys
}

func (c Candidate) change(key string) models.FileChange {
	if fc, ok := c.Changes.File(key); ok {
		return fc
	}
	return models.FileChange{Path: key}
}

// Overlap returns the resource keys two key sets share, sorted.
func Overlap(a, b []string) []string {
	in := make(map[string]bool, len(a))
	for _, k := range a {
		in[k] = true
	}
	var shared []string
	seen := make(map[string]bool)
	for _, k := range b {
		if in[k] && !seen[k] {
			seen[k] = true
			shared = append(shared, k)
		}
	}
	sort.Strings(shared)
	return shared
}

// Outcome is the result of resolving two candidates.
type Outcome struct {
	// Resolution is the most disruptive per-key resolution.
	// It is empty when the candidates share no keys.
	Resolution models.Resolution
	// Records holds exactly one entry per shared resource key.
	Records []models.ConflictRecord
	// First and Second give the integration order.
	First, Second string
}

// ConflictID returns the ID the stories are tagged with on escalation:
// the first escalated record.
func (o Outcome) ConflictID() string {
	for _, r := range o.Records {
		if r.Resolution == models.ResolutionEscalated {
			return r.ID
		}
	}
	return ""
}

// Keys returns the resource keys of the outcome's records.
func (o Outcome) Keys() []string {
	keys := make([]string, len(o.Records))
	for i, r := range o.Records {
		keys[i] = r.ResourceKey
	}
	return keys
}

// Resolver applies a Strategy to every key two stories share.
type Resolver struct {
	strategy  Strategy
	protected *protect.Detector
	now       func() time.Time
}

// NewResolver creates a resolver. A nil strategy means LineRange; a nil detector
// protects nothing.
func NewResolver(strategy Strategy, protected *protect.Detector) *Resolver {
	if strategy == nil {
		strategy = LineRange{}
	}
	return &Resolver{strategy: strategy, protected: protected, now: time.Now}
}

// SetClock replaces the time source used for record timestamps.
func (r *Resolver) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Strategy returns the active strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve classifies every shared resource key of a and b.
func (r *Resolver) Resolve(a, b Candidate) Outcome {
	first, second := a, b
	if b.CompletedAt.Before(a.CompletedAt) {
		first, second = b, a
	}
	out := Outcome{First: first.StoryID, Second: second.StoryID}

	now := r.now()
	for _, key := range Overlap(first.Keys(), second.Keys()) {
		res := r.strategy.Classify(first.change(key), second.change(key))
		if !res.Valid() {
			res = models.ResolutionEscalated
		}
		if res == models.ResolutionAutoMerged && r.protected != nil && r.protected.IsProtected(key) {
			res = models.ResolutionSerialized
		}
		out.Records = append(out.Records, models.ConflictRecord{
			ID:               uuid.New().String()[:8],
			StoryIDsInvolved: []string{first.StoryID, second.StoryID},
			ResourceKey:      key,
			Resolution:       res,
			Timestamp:        now,
		})
		if out.Resolution == "" || res.Severity() > out.Resolution.Severity() {
			out.Resolution = res
		}
	}
	return out
}

// ConflictEscalatedError reports stories held back until a conflict is resolved.
type ConflictEscalatedError struct {
	ConflictID   string
	StoryIDs     []string
	ResourceKeys []string
}

func (e *ConflictEscalatedError) Error() string {
	return fmt.Sprintf("conflict %s escalated: stories %s overlap on %s",
		e.ConflictID, strings.Join(e.StoryIDs, ", "), strings.Join(e.ResourceKeys, ", "))
}

// Sink receives conflict-fix work for escalated conflicts.
// Fixing the conflict happens outside the fleet; the fleet only waits for resolve.
type Sink interface {
	Enqueue(ctx context.Context, escalation *ConflictEscalatedError) error
}

// LogSink writes escalations to the standard logger.
type LogSink struct{}

var _ Sink = LogSink{}

// Enqueue logs the escalation.
func (LogSink) Enqueue(_ context.Context, e *ConflictEscalatedError) error {
	log.Printf("[conflict] %v; resolve it to release the stories", e)
	return nil
}
