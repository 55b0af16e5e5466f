package fleet

import (
	"time"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/conflict"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet/policy"
	"github.com/ShayCichocki/armada/internal/protect"
	"github.com/ShayCichocki/armada/pkg/models"
)

// Store persists fleet state. Implemented by internal/state.
type Store interface {
	SaveFleet(project string, state State) error
	SaveStory(project string, s *models.Story) error
	SaveConflict(project string, r models.ConflictRecord) error
	SaveMessage(project string, m models.AgentMessage, keep int) error
}

// MetricsRecorder receives fleet measurements. Implemented by internal/telemetry.
type MetricsRecorder interface {
	RecordStory(project string, status models.StoryStatus, d time.Duration)
	RecordConflict(project string, r models.Resolution)
	RecordFleet(project string, m models.FleetMetrics)
}

// RequiredConfig contains the minimal required configuration for a Coordinator.
type RequiredConfig struct {
	// Project is the fleet's key.
	Project string
	// Stories is the backlog. Status, attempts and errors are kept for resume.
	Stories []*models.Story
	// Executor runs stories.
	Executor agent.Executor
}

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	policy    *policy.Config
	logger    *DebugLogger
	store     Store
	sink      conflict.Sink
	recorder  MetricsRecorder
	protected *protect.Detector
	eventSink events.Sink
	startSeq  uint64
	now       func() time.Time
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *coordinatorOptions) { o.policy = p }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *coordinatorOptions) { o.logger = l }
}

// WithStore persists stories, conflicts and messages.
func WithStore(s Store) Option {
	return func(o *coordinatorOptions) { o.store = s }
}

// WithEventSink persists the event stream. startSeq is the last sequence already stored.
func WithEventSink(s events.Sink, startSeq uint64) Option {
	return func(o *coordinatorOptions) {
		o.eventSink = s
		o.startSeq = startSeq
	}
}

// WithConflictSink sets where escalated conflicts are handed off.
func WithConflictSink(s conflict.Sink) Option {
	return func(o *coordinatorOptions) { o.sink = s }
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(o *coordinatorOptions) { o.recorder = r }
}

// WithProtected sets the detector for resource keys that are never auto-merged.
func WithProtected(d *protect.Detector) Option {
	return func(o *coordinatorOptions) { o.protected = d }
}

// WithClock replaces the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *coordinatorOptions) { o.now = now }
}
