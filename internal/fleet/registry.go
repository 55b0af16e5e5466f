package fleet

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/conflict"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet/policy"
	"github.com/ShayCichocki/armada/internal/protect"
	"github.com/ShayCichocki/armada/pkg/models"
)

// PersistentStore is a Store that can also persist events and resume fleets.
// Implemented by internal/state.
type PersistentStore interface {
	Store
	events.Sink
	// LoadStories returns the persisted stories of a project, or nil if none.
	LoadStories(project string) ([]*models.Story, error)
	// LastSeq returns the last persisted event sequence of a project.
	LastSeq(project string) (uint64, error)
}

// RegistryConfig contains configuration options for a Registry.
type RegistryConfig struct {
	Policy *policy.Config
	// Executor is used by fleets created without their own.
	Executor  agent.Executor
	Store     PersistentStore
	Sink      conflict.Sink
	Recorder  MetricsRecorder
	Logger    *DebugLogger
	Protected *protect.Detector
}

// LookupResult distinguishes a fleet that is still being created from one that does not exist.
type LookupResult int

const (
	LookupAbsent LookupResult = iota
	LookupInitializing
	LookupFound
)

// Registry manages the fleets of one process, keyed by project.
type Registry struct {
	cfg RegistryConfig

	mu           sync.RWMutex
	fleets       map[string]*Coordinator
	initializing map[string]bool
	closed       bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:          cfg,
		fleets:       make(map[string]*Coordinator),
		initializing: make(map[string]bool),
	}
}

// Create builds a fleet for a project. A nil executor uses the registry's.
// Persisted story state for the project, if any, is restored on top of stories.
func (r *Registry) Create(ctx context.Context, project string, stories []*models.Story, executor agent.Executor) (*Coordinator, error) {
	if executor == nil {
		executor = r.cfg.Executor
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrFleetClosed
	}
	if _, ok := r.fleets[project]; ok || r.initializing[project] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrFleetExists, project)
	}
	r.initializing[project] = true
	r.mu.Unlock()

	c, err := r.build(ctx, project, stories, executor)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.initializing, project)
	if err != nil {
		return nil, err
	}
	if r.closed {
		_ = c.Close()
		return nil, ErrFleetClosed
	}
	r.fleets[project] = c
	log.Printf("[registry] fleet %s created with %d stories", project, len(stories))
	return c, nil
}

func (r *Registry) build(ctx context.Context, project string, stories []*models.Story, executor agent.Executor) (*Coordinator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []Option{
		WithPolicy(r.policy()),
		WithLogger(r.cfg.Logger),
		WithConflictSink(r.cfg.Sink),
		WithMetricsRecorder(r.cfg.Recorder),
		WithProtected(r.cfg.Protected),
	}
	if r.cfg.Store != nil {
		persisted, err := r.cfg.Store.LoadStories(project)
		if err != nil {
			return nil, fmt.Errorf("load stories for %s: %w", project, err)
		}
		stories = restore(stories, persisted)
		seq, err := r.cfg.Store.LastSeq(project)
		if err != nil {
			return nil, fmt.Errorf("load event sequence for %s: %w", project, err)
		}
		opts = append(opts, WithStore(r.cfg.Store), WithEventSink(r.cfg.Store, seq))
	}
	return New(RequiredConfig{Project: project, Stories: stories, Executor: executor}, opts...)
}

// policy returns a private copy so fleets never share a mutable config.
func (r *Registry) policy() *policy.Config {
	if r.cfg.Policy == nil {
		return policy.Default()
	}
	p := *r.cfg.Policy
	p.Conflict.ProtectedPatterns = append([]string(nil), r.cfg.Policy.Conflict.ProtectedPatterns...)
	return &p
}

// restore overlays persisted execution state onto the planned stories by ID.
func restore(planned, persisted []*models.Story) []*models.Story {
	if len(persisted) == 0 {
		return planned
	}
	byID := make(map[string]*models.Story, len(persisted))
	for _, s := range persisted {
		byID[s.ID] = s
	}
	out := make([]*models.Story, len(planned))
	for i, s := range planned {
		c := s.Clone()
		if p, ok := byID[c.ID]; ok {
			c.Status = p.Status
			c.Attempts = p.Attempts
			c.LastError = p.LastError
			c.ConflictID = p.ConflictID
			c.RetryAt = p.RetryAt
			c.CompletedAt = p.CompletedAt
		}
		out[i] = c
	}
	return out
}

// Get returns the fleet of a project.
func (r *Registry) Get(project string) (*Coordinator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.fleets[project]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFleetNotFound, project)
	}
	return c, nil
}

// Lookup reports whether a project's fleet exists, is still being created, or is absent.
func (r *Registry) Lookup(project string) (*Coordinator, LookupResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.fleets[project]; ok {
		return c, LookupFound
	}
	if r.initializing[project] {
		return nil, LookupInitializing
	}
	return nil, LookupAbsent
}

// Remove closes a fleet and forgets it.
func (r *Registry) Remove(project string) error {
	r.mu.Lock()
	c, ok := r.fleets[project]
	delete(r.fleets, project)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrFleetNotFound, project)
	}
	return c.Close()
}

// List returns the projects with a fleet, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	projects := make([]string, 0, len(r.fleets))
	for p := range r.fleets {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects
}

// Count returns the number of fleets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fleets)
}

// Close closes every fleet. Later Creates fail with ErrFleetClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	fleets := make([]*Coordinator, 0, len(r.fleets))
	for _, c := range r.fleets {
		fleets = append(fleets, c)
	}
	r.fleets = make(map[string]*Coordinator)
	r.mu.Unlock()

	for _, c := range fleets {
		_ = c.Close()
	}
	return nil
}
