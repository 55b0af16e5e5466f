//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/fleet/policy"
	"github.com/ShayCichocki/armada/internal/state"
	"github.com/ShayCichocki/armada/pkg/models"
)

func testPolicy() *policy.Config {
	p := policy.Default()
	p.Loop.TickInterval = 10 * time.Millisecond
	p.Retry.BaseBackoff = 10 * time.Millisecond
	p.Retry.MaxBackoff = 20 * time.Millisecond
	return p
}

func resumeStories() []*models.Story {
	return []*models.Story{
		{ID: "schema", Title: "Create schema", Domain: "data", Phase: models.PhaseFoundation},
		{ID: "orders", Title: "Orders endpoint", Domain: "api", Phase: models.PhaseCore, Dependencies: []string{"schema"}},
	}
}

// waitFor reads events until match returns true.
func waitFor(t *testing.T, sub *events.Subscription, match func(events.Event) bool) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscription closed before the expected event")
			}
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

// TestFleetResumesAfterInterruption abandons a fleet mid-run and resumes it
// from the state database with a fresh registry.
func TestFleetResumesAfterInterruption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := state.Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	ctx := context.Background()

	// First process: schema completes, orders hangs until the process goes away.
	gate := make(chan struct{})
	defer close(gate)
	first := agent.NewScripted(map[string]agent.Script{"orders": {Gate: gate}})
	reg1 := fleet.NewRegistry(fleet.RegistryConfig{Policy: testPolicy(), Store: db})
	c1, err := reg1.Create(ctx, "shop", resumeStories(), first)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sub1, err := c1.Subscribe(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, sub1, func(e events.Event) bool {
		return e.Kind == events.KindStoryStarted && events.StoryID(e.Payload) == "orders"
	})
	if err := reg1.Close(); err != nil {
		t.Fatal(err)
	}

	interrupted, err := db.Interrupted()
	if err != nil {
		t.Fatalf("Interrupted() error = %v", err)
	}
	if len(interrupted) != 1 || interrupted[0].Project != "shop" {
		t.Fatalf("expected shop to be interrupted, got %+v", interrupted)
	}
	lastSeq, err := db.LastSeq("shop")
	if err != nil || lastSeq == 0 {
		t.Fatalf("LastSeq() = %d, %v", lastSeq, err)
	}

	// Second process: only the unfinished story runs again.
	second := agent.NewScripted(nil)
	reg2 := fleet.NewRegistry(fleet.RegistryConfig{Policy: testPolicy(), Store: db})
	defer reg2.Close()
	c2, err := reg2.Create(ctx, "shop", resumeStories(), second)
	if err != nil {
		t.Fatalf("Create() after restart error = %v", err)
	}
	if got := c2.Snapshot().Progress.Done; got != 1 {
		t.Errorf("restored done count = %d, want 1", got)
	}

	sub2, err := c2.Subscribe(c2.Snapshot().Seq)
	if err != nil {
		t.Fatal(err)
	}
	defer sub2.Close()
	if _, err := c2.Start(ctx); err != nil {
		t.Fatalf("Start() after restart error = %v", err)
	}
	done := waitFor(t, sub2, func(e events.Event) bool { return e.Kind == events.KindComplete })
	if done.Seq <= lastSeq {
		t.Errorf("sequence restarted: complete seq %d <= persisted %d", done.Seq, lastSeq)
	}
	if p := done.Payload.(*events.Complete); p.Phase != events.CompletePhaseCompleted {
		t.Errorf("complete phase = %s", p.Phase)
	}

	if n := second.Runs("schema"); n != 0 {
		t.Errorf("schema re-executed %d times after restore", n)
	}
	if n := second.Runs("orders"); n != 1 {
		t.Errorf("orders executed %d times, want 1", n)
	}

	stories, err := db.LoadStories("shop")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range stories {
		if s.Status != models.StoryStatusDone {
			t.Errorf("story %s persisted as %s", s.ID, s.Status)
		}
	}
}
