package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet/policy"
	"github.com/ShayCichocki/armada/internal/partition"
	"github.com/ShayCichocki/armada/pkg/models"
)

const waitTimeout = 5 * time.Second

func testPolicy() *policy.Config {
	p := policy.Default()
	p.Loop.TickInterval = 5 * time.Millisecond
	p.Retry.BaseBackoff = time.Millisecond
	p.Retry.MaxBackoff = 5 * time.Millisecond
	p.Squad.IdleGrace = time.Hour
	p.Events.SubscriberBuffer = 4096
	return p
}

func story(id, domain string, deps ...string) *models.Story {
	return &models.Story{ID: id, Title: "Story " + id, Domain: domain, Dependencies: deps}
}

func newFleet(t *testing.T, p *policy.Config, exec agent.Executor, stories ...*models.Story) *Coordinator {
	t.Helper()
	c, err := New(RequiredConfig{Project: "test", Stories: stories, Executor: exec}, WithPolicy(p))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// stream reads a subscription opened at sequence 0.
type stream struct {
	sub *events.Subscription
}

func subscribe(t *testing.T, c *Coordinator) *stream {
	t.Helper()
	sub, err := c.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(sub.Close)
	return &stream{sub: sub}
}

// until reads events until match returns true and returns everything read.
func (s *stream) until(t *testing.T, match func(events.Event) bool) []events.Event {
	t.Helper()
	var seen []events.Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case e, ok := <-s.sub.Events():
			if !ok {
				t.Fatalf("subscription closed (lagged=%v) after %d events", s.sub.Lagged(), len(seen))
			}
			seen = append(seen, e)
			if match(e) {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out after %d events", len(seen))
		}
	}
}

func isKind(k events.Kind) func(events.Event) bool {
	return func(e events.Event) bool { return e.Kind == k }
}

func waitFor(t *testing.T, c *Coordinator, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if snap := c.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot %+v", what, c.Snapshot().Progress)
	return Snapshot{}
}

func mustStart(t *testing.T, c *Coordinator) {
	t.Helper()
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestNew_RejectsCycles(t *testing.T) {
	_, err := New(RequiredConfig{
		Project:  "p",
		Executor: agent.NewScripted(nil),
		Stories:  []*models.Story{story("a", "api", "b"), story("b", "api", "a")},
	})
	var cyc *partition.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
}

func TestNew_RejectsDependencyOnLaterPhase(t *testing.T) {
	a := story("a", "infra", "b")
	a.Phase = models.PhaseFoundation
	b := story("b", "ui")
	b.Phase = models.PhasePolish
	_, err := New(RequiredConfig{Project: "p", Executor: agent.NewScripted(nil), Stories: []*models.Story{a, b}})
	var po *partition.PhaseOrderError
	if !errors.As(err, &po) {
		t.Fatalf("expected PhaseOrderError, got %v", err)
	}
}

func TestNew_RequiresExecutor(t *testing.T) {
	if _, err := New(RequiredConfig{Project: "p"}); err == nil {
		t.Error("expected an error without an executor")
	}
}

func TestFleet_HappyPath(t *testing.T) {
	p := testPolicy()
	p.Squad.Capacity = 3
	p.Squad.MaxSquads = 1
	exec := agent.NewScripted(nil)
	c := newFleet(t, p, exec, story("s1", "api"), story("s2", "api"), story("s3", "api"))
	s := subscribe(t, c)

	mustStart(t, c)
	seen := s.until(t, isKind(events.KindComplete))

	complete := seen[len(seen)-1].Payload.(*events.Complete)
	if complete.Phase != events.CompletePhaseCompleted || complete.Degraded {
		t.Errorf("complete = %+v, want completed and not degraded", complete)
	}

	snap := waitFor(t, c, "completed state", func(s Snapshot) bool { return s.State == StateCompleted })
	if snap.Progress.Done != 3 || snap.Progress.Percent != 100 {
		t.Errorf("progress = %+v, want 3 done", snap.Progress)
	}
	if len(snap.Domains) != 1 || snap.Domains[0].Status != models.ClusterStatusCompleted {
		t.Errorf("domains = %+v, want api completed", snap.Domains)
	}
	if len(snap.Failed) != 0 {
		t.Errorf("failed = %+v, want none", snap.Failed)
	}
	if snap.Metrics.CompletedStories != 3 || snap.Metrics.TotalTokensUsed != 3000 {
		t.Errorf("metrics = %+v", snap.Metrics)
	}

	formed := 0
	for _, e := range seen {
		if a, ok := e.Payload.(*events.SquadActivity); ok && a.Action == events.SquadFormed {
			formed++
		}
	}
	if formed != 1 {
		t.Errorf("formed %d squads, want 1", formed)
	}
}

func TestFleet_PerStoryEventOrder(t *testing.T) {
	exec := agent.NewScripted(map[string]agent.Script{
		"s1": {Messages: []string{"edit a.go", "run tests"}},
		"s2": {Messages: []string{"edit b.go"}},
	})
	c := newFleet(t, testPolicy(), exec, story("s1", "api"), story("s2", "api", "s1"))
	s := subscribe(t, c)

	mustStart(t, c)
	seen := s.until(t, isKind(events.KindComplete))

	var last uint64
	for _, e := range seen {
		if e.Seq <= last {
			t.Fatalf("sequence not increasing: %d after %d", e.Seq, last)
		}
		last = e.Seq
	}

	for _, id := range []string{"s1", "s2"} {
		started, completed, firstMsg, lastMsg := -1, -1, -1, -1
		for i, e := range seen {
			if events.StoryID(e.Payload) != id {
				continue
			}
			switch e.Kind {
			case events.KindStoryStarted:
				started = i
			case events.KindStoryCompleted:
				completed = i
			case events.KindAgentMessage:
				if firstMsg < 0 {
					firstMsg = i
				}
				lastMsg = i
			}
		}
		if started < 0 || completed < 0 || firstMsg < 0 {
			t.Fatalf("%s: missing events (started=%d completed=%d message=%d)", id, started, completed, firstMsg)
		}
		if !(started < firstMsg && lastMsg < completed) {
			t.Errorf("%s: order started=%d messages=%d..%d completed=%d", id, started, firstMsg, lastMsg, completed)
		}
	}

	var s1Done, s2Start int
	for i, e := range seen {
		if e.Kind == events.KindStoryCompleted && events.StoryID(e.Payload) == "s1" {
			s1Done = i
		}
		if e.Kind == events.KindStoryStarted && events.StoryID(e.Payload) == "s2" {
			s2Start = i
		}
	}
	if s2Start < s1Done {
		t.Error("dependent story started before its dependency completed")
	}
}

func TestFleet_RetryExhaustion(t *testing.T) {
	p := testPolicy()
	p.Retry.MaxAttempts = 2
	exec := agent.NewScripted(map[string]agent.Script{
		"s1": {Outcomes: []agent.Outcome{
			{Fail: true, Reason: "compile error"},
			{Fail: true, Reason: "compile error"},
			{Tokens: 10},
		}},
	})
	c := newFleet(t, p, exec, story("s1", "api"))
	s := subscribe(t, c)

	mustStart(t, c)
	seen := s.until(t, isKind(events.KindComplete))

	var failures []*events.StoryFailed
	var errEvent *events.Error
	var summary *events.FailedSummary
	for _, e := range seen {
		switch p := e.Payload.(type) {
		case *events.StoryFailed:
			failures = append(failures, p)
		case *events.Error:
			errEvent = p
		case *events.FailedSummary:
			summary = p
		}
	}
	if len(failures) != 2 || !failures[0].WillRetry || failures[1].WillRetry {
		t.Fatalf("failures = %+v, want a retry then exhaustion", failures)
	}
	if errEvent == nil || errEvent.Code != "retry_exhausted" || errEvent.StoryID != "s1" {
		t.Errorf("error event = %+v", errEvent)
	}
	if summary == nil || len(summary.Stories) != 1 || !summary.Stories[0].Exhausted {
		t.Errorf("failed summary = %+v", summary)
	}
	complete := seen[len(seen)-1].Payload.(*events.Complete)
	if complete.Phase != events.CompletePhaseError || complete.FailedPhase != partition.DefaultPhase {
		t.Errorf("complete = %+v, want error in %s", complete, partition.DefaultPhase)
	}
	if exec.Runs("s1") != 2 {
		t.Errorf("runs = %d, want 2", exec.Runs("s1"))
	}

	snap := waitFor(t, c, "error state", func(s Snapshot) bool { return s.State == StateError })
	if snap.Domains[0].Status != models.ClusterStatusBlocked {
		t.Errorf("domain status = %s, want blocked", snap.Domains[0].Status)
	}
	if len(snap.Failed) != 1 || snap.Failed[0].LastError != "compile error" || snap.Failed[0].Attempts != 1 {
		t.Errorf("failed = %+v", snap.Failed)
	}

	// retry-failed brings the story back and the fleet finishes.
	n, err := c.RetryFailed(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v; want 1", n, err)
	}
	if n, _ := c.RetryFailed(context.Background()); n != 0 {
		t.Errorf("second RetryFailed = %d, want 0", n)
	}
	seen = s.until(t, isKind(events.KindComplete))
	if got := seen[len(seen)-1].Payload.(*events.Complete); got.Phase != events.CompletePhaseCompleted {
		t.Errorf("complete after retry = %+v", got)
	}
	snap = waitFor(t, c, "completed state", func(s Snapshot) bool { return s.State == StateCompleted })
	if snap.Progress.Done != 1 {
		t.Errorf("done = %d, want 1", snap.Progress.Done)
	}
}

func TestFleet_RetryFailedNoop(t *testing.T) {
	c := newFleet(t, testPolicy(), agent.NewScripted(nil), story("s1", "api"))
	for i := 0; i < 2; i++ {
		n, err := c.RetryFailed(context.Background())
		if err != nil || n != 0 {
			t.Errorf("RetryFailed #%d = %d, %v; want 0", i, n, err)
		}
	}
	if c.Snapshot().State != StateIdle {
		t.Error("RetryFailed must not start an idle fleet")
	}
}

func TestFleet_ConflictEscalation(t *testing.T) {
	gate := make(chan struct{})
	shared := func(content string) models.ChangeSet {
		return models.ChangeSet{Files: []models.FileChange{{
			Path:  "shared.ts",
			Hunks: []models.Hunk{{Start: 10, End: 20, Content: content}},
		}}}
	}
	exec := agent.NewScripted(map[string]agent.Script{
		"a": {Outcomes: []agent.Outcome{{Changes: shared("export const a = 1")}}},
		"b": {
			Gate:     gate,
			Outcomes: []agent.Outcome{{Changes: shared("export const b = 2")}, {}},
		},
	})
	sa, sb := story("a", "api"), story("b", "api")
	sa.Resources = []string{"shared.ts"}
	sb.Resources = []string{"shared.ts"}
	c := newFleet(t, testPolicy(), exec, sa, sb)
	s := subscribe(t, c)

	mustStart(t, c)
	// a finishes first and waits for b, which overlaps it and is still running.
	waitFor(t, c, "a merging", func(s Snapshot) bool { return s.Progress.Merging == 1 })
	close(gate)

	seen := s.until(t, func(e events.Event) bool {
		p, ok := e.Payload.(*events.Conflict)
		return ok && p.Resolution == models.ResolutionEscalated && !p.Resolved
	})
	conf := seen[len(seen)-1].Payload.(*events.Conflict)
	if len(conf.Records) != 1 || conf.Records[0].ResourceKey != "shared.ts" {
		t.Fatalf("records = %+v, want one for shared.ts", conf.Records)
	}

	snap := waitFor(t, c, "conflict held", func(s Snapshot) bool { return len(s.Conflicts) == 1 && s.Progress.Ready == 2 })
	if snap.Conflicts[0] != conf.Records[0].ID {
		t.Errorf("conflict id = %s, want %s", snap.Conflicts[0], conf.Records[0].ID)
	}
	if snap.Metrics.ConflictsEscalated != 1 {
		t.Errorf("escalated = %d, want 1", snap.Metrics.ConflictsEscalated)
	}

	// Held stories are not reassigned and the fleet does not finish.
	time.Sleep(30 * time.Millisecond)
	if exec.Runs("a") != 1 || exec.Runs("b") != 1 {
		t.Fatalf("runs a=%d b=%d, want 1 each while held", exec.Runs("a"), exec.Runs("b"))
	}
	if c.Snapshot().State != StateRunning {
		t.Fatalf("state = %s, want running", c.Snapshot().State)
	}

	if err := c.ResolveConflict(context.Background(), "nope"); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("ResolveConflict(unknown) = %v", err)
	}
	if err := c.ResolveConflict(context.Background(), snap.Conflicts[0]); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	seen = s.until(t, isKind(events.KindComplete))
	if got := seen[len(seen)-1].Payload.(*events.Complete); got.Phase != events.CompletePhaseCompleted {
		t.Errorf("complete = %+v", got)
	}
	if exec.Runs("a") != 2 || exec.Runs("b") != 2 {
		t.Errorf("runs a=%d b=%d, want 2 each", exec.Runs("a"), exec.Runs("b"))
	}
}

func TestFleet_MergeWindowOrdersOverlappingStories(t *testing.T) {
	change := func(start, end int, content string) models.ChangeSet {
		return models.ChangeSet{Files: []models.FileChange{{
			Path:  "shared.ts",
			Hunks: []models.Hunk{{Start: start, End: end, Content: content}},
		}}}
	}
	tests := []struct {
		name string
		a, b models.ChangeSet
		want models.Resolution
	}{
		{
			name: "disjoint hunks",
			a:    change(1, 5, "import a"),
			b:    change(30, 40, "export const b = 2"),
			want: models.ResolutionAutoMerged,
		},
		{
			name: "identical hunk",
			a:    change(10, 20, "export const shared = 1"),
			b:    change(10, 20, "export const shared = 1"),
			want: models.ResolutionSerialized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := make(chan struct{})
			exec := agent.NewScripted(map[string]agent.Script{
				"a": {Outcomes: []agent.Outcome{{Changes: tt.a}}},
				"b": {Gate: gate, Outcomes: []agent.Outcome{{Changes: tt.b}}},
			})
			sa, sb := story("a", "api"), story("b", "api")
			sa.Resources = []string{"shared.ts"}
			sb.Resources = []string{"shared.ts"}
			c := newFleet(t, testPolicy(), exec, sa, sb)
			s := subscribe(t, c)

			mustStart(t, c)
			// a is held while b, which touches the same file, is still running.
			waitFor(t, c, "a merging", func(s Snapshot) bool { return s.Progress.Merging == 1 })
			time.Sleep(20 * time.Millisecond)
			if snap := c.Snapshot(); snap.Progress.Done != 0 || snap.Progress.Merging != 1 {
				t.Fatalf("a integrated while b was running: %+v", snap.Progress)
			}
			close(gate)

			seen := s.until(t, isKind(events.KindComplete))
			var order []string
			var resolutions []models.Resolution
			for _, e := range seen {
				switch p := e.Payload.(type) {
				case *events.StoryCompleted:
					order = append(order, p.StoryID)
				case *events.Conflict:
					resolutions = append(resolutions, p.Resolution)
				}
			}
			if len(order) != 2 || order[0] != "a" || order[1] != "b" {
				t.Errorf("integration order = %v, want [a b]", order)
			}
			if len(resolutions) != 1 || resolutions[0] != tt.want {
				t.Errorf("resolutions = %v, want [%s]", resolutions, tt.want)
			}
			if got := seen[len(seen)-1].Payload.(*events.Complete); got.Phase != events.CompletePhaseCompleted {
				t.Errorf("complete = %+v", got)
			}

			snap := c.Snapshot()
			if snap.Metrics.ConflictsResolved != 1 || snap.Metrics.ConflictsEscalated != 0 {
				t.Errorf("conflicts resolved=%d escalated=%d, want 1 and 0",
					snap.Metrics.ConflictsResolved, snap.Metrics.ConflictsEscalated)
			}
			if len(snap.Conflicts) != 0 {
				t.Errorf("no conflict should be held, got %v", snap.Conflicts)
			}
			if exec.Runs("a") != 1 || exec.Runs("b") != 1 {
				t.Errorf("runs a=%d b=%d, want 1 each", exec.Runs("a"), exec.Runs("b"))
			}
		})
	}
}

func TestFleet_TestingStageIsPublished(t *testing.T) {
	exec := agent.NewScripted(map[string]agent.Script{
		"s1": {Outcomes: []agent.Outcome{{TestsWritten: 3, TestsPassing: 3}}},
	})
	c := newFleet(t, testPolicy(), exec, story("s1", "api"))
	s := subscribe(t, c)

	mustStart(t, c)
	seen := s.until(t, isKind(events.KindComplete))

	sawTesting, sawTester := false, false
	for _, e := range seen {
		switch p := e.Payload.(type) {
		case *events.Progress:
			if p.Testing == 1 {
				sawTesting = true
			}
		case *events.Squads:
			for _, sq := range p.Squads {
				for _, m := range sq.Members {
					if m.Role == models.RoleTester && m.Status == models.MemberStatusWorking && m.CurrentStoryID == "s1" {
						sawTester = true
					}
				}
			}
		}
	}
	if !sawTesting {
		t.Error("no progress event showed the story in testing")
	}
	if !sawTester {
		t.Error("no squads event showed a tester working on the story")
	}
}

func TestFleet_DrainWithinWindow(t *testing.T) {
	p := testPolicy()
	p.Drain.Timeout = 2 * time.Second
	exec := agent.NewScripted(map[string]agent.Script{"s1": {Delay: 50 * time.Millisecond}})
	c := newFleet(t, p, exec, story("s1", "api"), story("s2", "api", "s1"))

	mustStart(t, c)
	waitFor(t, c, "s1 in progress", func(s Snapshot) bool { return s.Progress.InProgress == 1 })

	snap, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if snap.State != StateIdle {
		t.Errorf("state = %s, want idle", snap.State)
	}
	if snap.Progress.Done != 1 {
		t.Errorf("done = %d, want s1 finished during the drain", snap.Progress.Done)
	}
	if exec.Runs("s2") != 0 {
		t.Error("no new work may start while draining")
	}
	for _, sq := range snap.Squads {
		if sq.Status != models.SquadStatusCompleted {
			t.Errorf("squad %s = %s, want released", sq.ID, sq.Status)
		}
	}

	// Start from idle resumes the same backlog.
	mustStart(t, c)
	waitFor(t, c, "completion", func(s Snapshot) bool { return s.State == StateCompleted })
}

func TestFleet_DrainTimeout(t *testing.T) {
	p := testPolicy()
	p.Drain.Timeout = 20 * time.Millisecond
	exec := agent.NewScripted(map[string]agent.Script{"s1": {Gate: make(chan struct{})}})
	c := newFleet(t, p, exec, story("s1", "api"))

	mustStart(t, c)
	waitFor(t, c, "s1 in progress", func(s Snapshot) bool { return s.Progress.InProgress == 1 })

	snap, err := c.Stop(context.Background())
	var drainErr *DrainTimeoutError
	if !errors.As(err, &drainErr) {
		t.Fatalf("Stop error = %v, want DrainTimeoutError", err)
	}
	if len(drainErr.StoryIDs) != 1 || drainErr.StoryIDs[0] != "s1" {
		t.Errorf("abandoned = %v, want [s1]", drainErr.StoryIDs)
	}
	if snap.State != StateIdle || snap.Progress.Failed != 1 {
		t.Errorf("snapshot = %s with %d failed", snap.State, snap.Progress.Failed)
	}
	if len(snap.Failed) != 1 || snap.Failed[0].LastError != DrainReason || snap.Failed[0].Attempts != 0 {
		t.Errorf("failed = %+v, want DrainTimeout with attempts unchanged", snap.Failed)
	}

	// The abandoned story is retry-eligible on the next start.
	exec.SetScript("s1", agent.Script{})
	mustStart(t, c)
	waitFor(t, c, "completion", func(s Snapshot) bool { return s.State == StateCompleted })
}

func TestFleet_StartIsIdempotent(t *testing.T) {
	exec := agent.NewScripted(map[string]agent.Script{"s1": {Gate: make(chan struct{})}})
	c := newFleet(t, testPolicy(), exec, story("s1", "api"))

	mustStart(t, c)
	waitFor(t, c, "s1 in progress", func(s Snapshot) bool { return s.Progress.InProgress == 1 })
	snap, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if snap.State != StateRunning || snap.Progress.InProgress != 1 {
		t.Errorf("second Start snapshot = %s %+v", snap.State, snap.Progress)
	}
	if exec.Runs("s1") != 1 {
		t.Errorf("runs = %d, want 1", exec.Runs("s1"))
	}
}

func TestFleet_PauseResume(t *testing.T) {
	gate := make(chan struct{})
	exec := agent.NewScripted(map[string]agent.Script{"s1": {Gate: gate}})
	c := newFleet(t, testPolicy(), exec, story("s1", "api"), story("s2", "api", "s1"))

	mustStart(t, c)
	waitFor(t, c, "s1 in progress", func(s Snapshot) bool { return s.Progress.InProgress == 1 })
	snap, err := c.Pause(context.Background())
	if err != nil || !snap.Paused {
		t.Fatalf("Pause = %+v, %v", snap.Progress, err)
	}
	close(gate)

	// s1 is allowed to finish but s2 is not assigned.
	waitFor(t, c, "s1 done", func(s Snapshot) bool { return s.Progress.Done == 1 })
	time.Sleep(30 * time.Millisecond)
	if exec.Runs("s2") != 0 {
		t.Fatal("paused fleet assigned new work")
	}

	if _, err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, c, "completion", func(s Snapshot) bool { return s.State == StateCompleted })
}

func TestFleet_PhaseGating(t *testing.T) {
	gate := make(chan struct{})
	exec := agent.NewScripted(map[string]agent.Script{"core1": {Gate: gate}})
	core := story("core1", "platform")
	core.Phase = models.PhaseCore
	ui := story("ui1", "ui")
	ui.Phase = models.PhaseFeature
	c := newFleet(t, testPolicy(), exec, core, ui)

	mustStart(t, c)
	waitFor(t, c, "core in progress", func(s Snapshot) bool { return s.Progress.InProgress == 1 })
	time.Sleep(30 * time.Millisecond)
	if exec.Runs("ui1") != 0 {
		t.Fatal("feature story ran before the core phase finished")
	}
	if snap := c.Snapshot(); snap.Progress.ActivePhase != models.PhaseCore {
		t.Errorf("active phase = %s, want core", snap.Progress.ActivePhase)
	}

	close(gate)
	waitFor(t, c, "completion", func(s Snapshot) bool { return s.State == StateCompleted })
	if exec.Runs("ui1") != 1 {
		t.Errorf("ui1 runs = %d, want 1", exec.Runs("ui1"))
	}
}

func TestFleet_ClosedCommands(t *testing.T) {
	c := newFleet(t, testPolicy(), agent.NewScripted(nil), story("s1", "api"))
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrFleetClosed) {
		t.Errorf("Start after Close = %v, want ErrFleetClosed", err)
	}
	if _, err := c.Subscribe(0); err == nil {
		t.Error("Subscribe after Close should fail")
	}
}
