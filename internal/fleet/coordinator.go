// Package fleet runs a project's backlog through squads of agents.
//
// A Coordinator is a single-writer actor: one goroutine owns the backlog, the
// cluster table, the squads and the merge window. Commands, agent results and
// agent messages all arrive on its inbox. Readers take immutable snapshots or
// subscribe to the event bus and never touch the live structures.
package fleet

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/backlog"
	"github.com/ShayCichocki/armada/internal/conflict"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet/policy"
	"github.com/ShayCichocki/armada/internal/partition"
	"github.com/ShayCichocki/armada/internal/protect"
	"github.com/ShayCichocki/armada/internal/squad"
	"github.com/ShayCichocki/armada/pkg/models"
)

// State is the lifecycle state of a fleet.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Valid returns true if the state is a known value.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateStarting, StateRunning, StateCompleted, StateError:
		return true
	default:
		return false
	}
}

// Snapshot is a consistent, read-only view of a fleet.
type Snapshot struct {
	Project  string                  `json:"project"`
	State    State                   `json:"state"`
	Paused   bool                    `json:"paused"`
	Draining bool                    `json:"draining"`
	Progress events.Progress         `json:"progress"`
	Metrics  models.FleetMetrics     `json:"metrics"`
	Domains  []*models.DomainCluster `json:"domains"`
	Squads   []*models.Squad         `json:"squads"`
	Agents   []models.Agent          `json:"agents"`
	Failed   []events.FailedStory    `json:"failed"`
	// Conflicts lists the escalated conflicts stories are waiting on.
	Conflicts []string `json:"conflicts,omitempty"`
	// Seq is the last event sequence published before the snapshot was taken.
	Seq uint64 `json:"seq"`
}

// Coordinator drives one fleet.
type Coordinator struct {
	project  string
	policy   *policy.Config
	executor agent.Executor
	debugf   func(format string, args ...interface{})
	store    Store
	sink     conflict.Sink
	recorder MetricsRecorder
	now      func() time.Time

	backlog  *backlog.Store
	table    *partition.Table
	squads   *squad.Manager
	resolver *conflict.Resolver
	bus      *events.Bus
	metrics  *metricsAggregator

	// Owned by the loop goroutine.
	state       State
	paused      bool
	draining    bool
	inflight    map[string]*run
	merging     map[string]*mergeEntry
	mergeOrder  []string
	stopWaiters []chan reply
	drainTimer  *time.Timer

	dirtyProgress bool
	dirtyDomains  bool
	dirtySquads   bool

	view atomic.Pointer[Snapshot]

	inbox     chan any
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// run is one execution of a story.
type run struct {
	id      string
	storyID string
	squadID string
	agentID string
	role    models.Role
	keys    []string
	started time.Time
	cancel  context.CancelFunc
}

// mergeEntry is a story waiting in the merge window.
type mergeEntry struct {
	candidate conflict.Candidate
	squadID   string
	tests     agent.TestResults
	tokens    int64
	// after holds stories that must integrate first.
	after map[string]bool
}

type command string

const (
	cmdStart           command = "start"
	cmdPause           command = "pause"
	cmdResume          command = "resume"
	cmdStop            command = "stop"
	cmdRetryFailed     command = "retry-failed"
	cmdResolveConflict command = "resolve-conflict"
)

type commandMsg struct {
	op    command
	arg   string
	reply chan reply
}

type reply struct {
	snap Snapshot
	n    int
	err  error
}

type resultMsg struct {
	run    *run
	result agent.Result
}

type agentMsg struct {
	run      *run
	msgType  models.MessageType
	content  string
	toolName string
	at       time.Time
}

// New partitions the backlog and starts the coordinator goroutine.
// The fleet is idle until Start is called.
func New(cfg RequiredConfig, opts ...Option) (*Coordinator, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("project is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	o := &coordinatorOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy == nil {
		o.policy = policy.Default()
	}
	if err := o.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sink == nil {
		o.sink = conflict.LogSink{}
	}
	if o.protected == nil {
		o.protected = protect.New(o.policy.Conflict.ProtectedPatterns...)
	}
	debugf := o.logger.For(cfg.Project)

	stories := make([]*models.Story, len(cfg.Stories))
	for i, s := range cfg.Stories {
		stories[i] = s.Clone()
	}
	clusters, err := partition.Partition(stories)
	if err != nil {
		return nil, fmt.Errorf("partition backlog: %w", err)
	}

	bl := backlog.New()
	bl.SetDebugLog(debugf)
	bl.SetClock(o.now)
	if err := bl.AddStories(stories); err != nil {
		return nil, fmt.Errorf("load backlog: %w", err)
	}

	strategy, err := conflict.StrategyByName(o.policy.Conflict.Strategy)
	if err != nil {
		return nil, err
	}
	resolver := conflict.NewResolver(strategy, o.protected)
	resolver.SetClock(o.now)

	table := partition.NewTable(clusters)
	squads := squad.NewManager(o.policy.Squad, table.Unlocked)
	squads.SetDebugLog(debugf)
	squads.SetClock(o.now)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		project:  cfg.Project,
		policy:   o.policy,
		executor: cfg.Executor,
		debugf:   debugf,
		store:    o.store,
		sink:     o.sink,
		recorder: o.recorder,
		now:      o.now,
		backlog:  bl,
		table:    table,
		squads:   squads,
		resolver: resolver,
		bus: events.NewBus(cfg.Project, events.Options{
			HistorySize:      o.policy.Events.HistorySize,
			SubscriberBuffer: o.policy.Events.SubscriberBuffer,
			Sink:             o.eventSink,
			StartSeq:         o.startSeq,
		}),
		metrics:  newMetricsAggregator(o.policy.Loop.ThroughputWindow),
		state:    StateIdle,
		inflight: make(map[string]*run),
		merging:  make(map[string]*mergeEntry),
		inbox:    make(chan any, o.policy.Loop.InboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}

	c.refreshClusters()
	c.dirtyProgress, c.dirtyDomains, c.dirtySquads = true, true, true
	c.flush()
	c.saveFleet()

	debugf("[fleet] %s created with %d stories in %d domains", cfg.Project, bl.Len(), len(clusters))
	go c.loop()
	return c, nil
}

// Project returns the fleet's key.
func (c *Coordinator) Project() string {
	return c.project
}

// Policy returns the fleet's effective policy.
func (c *Coordinator) Policy() policy.Config {
	return *c.policy
}

// Snapshot returns the latest published view of the fleet.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.view.Load()
}

// Subscribe opens an event subscription starting after sequence since.
func (c *Coordinator) Subscribe(since uint64) (*events.Subscription, error) {
	return c.bus.Subscribe(since)
}

// History returns buffered events after sequence since.
func (c *Coordinator) History(since uint64) []events.Event {
	return c.bus.History(since)
}

// Start begins or resumes execution. Starting a running or finished fleet is a
// no-op that returns the current snapshot.
func (c *Coordinator) Start(ctx context.Context) (Snapshot, error) {
	r := c.do(ctx, cmdStart, "")
	return r.snap, r.err
}

// Pause stops new assignments. In-flight stories keep running.
func (c *Coordinator) Pause(ctx context.Context) (Snapshot, error) {
	r := c.do(ctx, cmdPause, "")
	return r.snap, r.err
}

// Resume re-enables assignments after Pause.
func (c *Coordinator) Resume(ctx context.Context) (Snapshot, error) {
	r := c.do(ctx, cmdResume, "")
	return r.snap, r.err
}

// Stop drains the fleet: no new work is assigned and in-flight stories get the
// drain window to finish. It returns once the fleet is idle. Stories still
// running at the deadline are failed and reported in a *DrainTimeoutError.
func (c *Coordinator) Stop(ctx context.Context) (Snapshot, error) {
	r := c.do(ctx, cmdStop, "")
	return r.snap, r.err
}

// RetryFailed moves every failed story back to pending, regardless of its
// attempt count. Returns the number of stories requeued.
func (c *Coordinator) RetryFailed(ctx context.Context) (int, error) {
	r := c.do(ctx, cmdRetryFailed, "")
	return r.n, r.err
}

// ResolveConflict releases the stories held by an escalated conflict.
func (c *Coordinator) ResolveConflict(ctx context.Context, conflictID string) error {
	return c.do(ctx, cmdResolveConflict, conflictID).err
}

// Close cancels every in-flight execution, closes the event bus and stops the
// coordinator goroutine. Safe to call more than once.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.exited
	return nil
}

func (c *Coordinator) do(ctx context.Context, op command, arg string) reply {
	cmd := commandMsg{op: op, arg: arg, reply: make(chan reply, 1)}
	select {
	case c.inbox <- cmd:
	case <-c.done:
		return reply{err: ErrFleetClosed}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-c.exited:
		return reply{err: ErrFleetClosed}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
}

// send delivers a message from an executor goroutine. Messages sent after Close are dropped.
func (c *Coordinator) send(m any) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

func (c *Coordinator) loop() {
	defer close(c.exited)
	ticker := time.NewTicker(c.policy.Loop.TickInterval)
	defer ticker.Stop()

	for {
		var drainC <-chan time.Time
		if c.drainTimer != nil {
			drainC = c.drainTimer.C
		}

		select {
		case <-c.done:
			c.shutdown()
			return
		case m := <-c.inbox:
			c.handle(m)
		case <-ticker.C:
		case <-drainC:
			c.drainTimer = nil
			c.finishDrain()
		}

		c.tick()
		c.flush()
	}
}

func (c *Coordinator) handle(m any) {
	switch m := m.(type) {
	case commandMsg:
		c.handleCommand(m)
	case resultMsg:
		c.handleResult(m.run, m.result)
	case agentMsg:
		c.handleAgentMessage(m)
	default:
		c.debugf("[fleet] unexpected inbox message %T", m)
	}
}

func (c *Coordinator) handleCommand(cmd commandMsg) {
	switch cmd.op {
	case cmdStart:
		c.start()
	case cmdPause:
		c.pause()
	case cmdResume:
		c.resume()
	case cmdStop:
		c.stop(cmd.reply)
		return
	case cmdRetryFailed:
		n := c.retryFailed()
		cmd.reply <- reply{n: n, snap: c.buildSnapshot()}
		return
	case cmdResolveConflict:
		if err := c.resolveConflict(cmd.arg); err != nil {
			cmd.reply <- reply{err: err}
			return
		}
	}
	cmd.reply <- reply{snap: c.buildSnapshot()}
}

func (c *Coordinator) start() {
	if c.state != StateIdle {
		c.debugf("[fleet] start ignored in state %s", c.state)
		return
	}
	c.setState(StateStarting)
	requeued := c.requeue(c.backlog.RetryableFailed(c.policy.Retry.MaxAttempts))
	c.paused = false
	c.setState(StateRunning)
	log.Printf("[fleet] %s started: %d stories, %d requeued", c.project, c.backlog.Len(), requeued)
}

func (c *Coordinator) pause() {
	if c.state != StateRunning || c.paused || c.draining {
		return
	}
	c.paused = true
	c.dirtyProgress = true
	log.Printf("[fleet] %s paused - no new stories will be assigned", c.project)
}

func (c *Coordinator) resume() {
	if !c.paused {
		return
	}
	c.paused = false
	c.dirtyProgress = true
	log.Printf("[fleet] %s resumed", c.project)
}

func (c *Coordinator) stop(w chan reply) {
	if c.draining {
		c.stopWaiters = append(c.stopWaiters, w)
		return
	}
	switch c.state {
	case StateRunning:
	case StateCompleted, StateError:
		c.setState(StateIdle)
		fallthrough
	default:
		w <- reply{snap: c.buildSnapshot()}
		return
	}

	c.draining = true
	c.dirtyProgress = true
	c.stopWaiters = append(c.stopWaiters, w)
	log.Printf("[fleet] %s stopping: draining %d in-flight stories", c.project, len(c.inflight))
	if len(c.inflight) == 0 {
		c.finishDrain()
		return
	}
	c.drainTimer = time.NewTimer(c.policy.Drain.Timeout)
}

func (c *Coordinator) retryFailed() int {
	n := c.requeue(c.backlog.Failed())
	if n == 0 {
		return 0
	}
	log.Printf("[fleet] %s requeued %d failed stories", c.project, n)
	c.publishFailedSummary()
	if c.state == StateCompleted || c.state == StateError {
		c.setState(StateRunning)
	}
	c.dirtyDomains = true
	return n
}

// requeue moves failed stories to pending. Each move counts as an attempt.
func (c *Coordinator) requeue(stories []*models.Story) int {
	n := 0
	for _, st := range stories {
		if c.transition(st.ID, models.StoryStatusPending, "") == nil {
			n++
		}
	}
	return n
}

func (c *Coordinator) resolveConflict(id string) error {
	released := c.backlog.ClearConflict(id)
	if len(released) == 0 {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	for _, sid := range released {
		c.saveStory(sid)
	}
	c.bus.Publish(&events.Conflict{
		StoryIDs:   released,
		Resolution: models.ResolutionEscalated,
		Resolved:   true,
	})
	c.dirtyProgress = true
	log.Printf("[fleet] %s conflict %s resolved; released %v", c.project, id, released)
	return nil
}

// shutdown runs on Close.
func (c *Coordinator) shutdown() {
	c.cancel()
	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}
	for _, w := range c.stopWaiters {
		w <- reply{snap: c.buildSnapshot(), err: ErrFleetClosed}
	}
	c.stopWaiters = nil
	c.bus.Close()
	c.debugf("[fleet] %s closed with %d executions abandoned", c.project, len(c.inflight))
}

// setState changes the lifecycle state and publishes it immediately.
func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	c.debugf("[fleet] %s state %s -> %s", c.project, c.state, s)
	c.state = s
	c.saveFleet()
	c.bus.Publish(c.progress())
	c.dirtyProgress = true
}

// transition moves a story and persists it.
func (c *Coordinator) transition(id string, status models.StoryStatus, errMsg string) error {
	if err := c.backlog.MarkStatus(id, status, errMsg); err != nil {
		c.debugf("[fleet] %v", err)
		return err
	}
	c.saveStory(id)
	c.dirtyProgress = true
	c.dirtySquads = true
	return nil
}

func (c *Coordinator) saveStory(id string) {
	if c.store == nil {
		return
	}
	st, err := c.backlog.Get(id)
	if err != nil {
		return
	}
	if err := c.store.SaveStory(c.project, st); err != nil {
		log.Printf("[fleet] failed to persist story %s: %v", id, err)
	}
}

func (c *Coordinator) saveFleet() {
	if c.store == nil {
		return
	}
	if err := c.store.SaveFleet(c.project, c.state); err != nil {
		log.Printf("[fleet] failed to persist fleet %s: %v", c.project, err)
	}
}
