package backlog

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/ShayCichocki/armada/pkg/models"
)

func newStore(t *testing.T, stories ...*models.Story) *Store {
	t.Helper()
	s := New()
	if err := s.AddStories(stories); err != nil {
		t.Fatalf("AddStories failed: %v", err)
	}
	return s
}

func story(id string, deps ...string) *models.Story {
	return &models.Story{ID: id, Title: "Story " + id, Domain: "core", Phase: models.PhaseCore, Dependencies: deps}
}

func TestAddStories_Duplicate(t *testing.T) {
	s := newStore(t, story("a"))

	err := s.AddStories([]*models.Story{story("a")})
	var dup *DuplicateStoryError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateStoryError, got %v", err)
	}
	if dup.ID != "a" {
		t.Errorf("DuplicateStoryError.ID = %q, want %q", dup.ID, "a")
	}

	err = New().AddStories([]*models.Story{story("x"), story("x")})
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateStoryError within one batch, got %v", err)
	}
}

func TestAddStories_NormalizesStatus(t *testing.T) {
	done := story("done")
	done.Status = models.StoryStatusDone
	running := story("running")
	running.Status = models.StoryStatusInProgress
	running.AssignedSquadID = "sq-1"

	s := newStore(t, done, running)

	got, _ := s.Get("done")
	if got.Status != models.StoryStatusDone {
		t.Errorf("done story status = %s, want done", got.Status)
	}
	got, _ = s.Get("running")
	if got.Status != models.StoryStatusPending || got.AssignedSquadID != "" {
		t.Errorf("in-flight story should reset to unassigned pending, got %s/%q", got.Status, got.AssignedSquadID)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := New()
	_, err := s.Get("missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if err := s.MarkStatus("missing", models.StoryStatusReady, ""); !errors.As(err, &nf) {
		t.Fatalf("MarkStatus: expected NotFoundError, got %v", err)
	}
}

func TestMarkStatus_ReadyRequiresDependencies(t *testing.T) {
	s := newStore(t, story("a"), story("b", "a"))

	err := s.MarkStatus("b", models.StoryStatusReady, "")
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	mustMark(t, s, "a", models.StoryStatusReady)
	mustMark(t, s, "a", models.StoryStatusInProgress)
	mustMark(t, s, "a", models.StoryStatusDone)

	if err := s.MarkStatus("b", models.StoryStatusReady, ""); err != nil {
		t.Fatalf("b should become ready once a is done: %v", err)
	}
}

func TestMarkStatus_DoneIsTerminal(t *testing.T) {
	s := newStore(t, story("a"))
	mustMark(t, s, "a", models.StoryStatusReady)
	mustMark(t, s, "a", models.StoryStatusInProgress)
	mustMark(t, s, "a", models.StoryStatusDone)

	err := s.MarkStatus("a", models.StoryStatusReady, "")
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("done -> ready should fail, got %v", err)
	}
	if inv.From != models.StoryStatusDone || inv.To != models.StoryStatusReady {
		t.Errorf("unexpected transition in error: %s -> %s", inv.From, inv.To)
	}

	got, _ := s.Get("a")
	if got.Status != models.StoryStatusDone {
		t.Errorf("rejected transition changed status to %s", got.Status)
	}
}

func TestMarkStatus_AttemptsOnlyOnRetry(t *testing.T) {
	s := newStore(t, story("a"))
	mustMark(t, s, "a", models.StoryStatusReady)
	mustMark(t, s, "a", models.StoryStatusInProgress)
	if err := s.MarkStatus("a", models.StoryStatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get("a")
	if got.Attempts != 0 {
		t.Errorf("attempts after failure = %d, want 0", got.Attempts)
	}
	if got.LastError != "boom" {
		t.Errorf("LastError = %q, want %q", got.LastError, "boom")
	}

	mustMark(t, s, "a", models.StoryStatusPending)
	got, _ = s.Get("a")
	if got.Attempts != 1 {
		t.Errorf("attempts after retry = %d, want 1", got.Attempts)
	}
}

func TestPromote_RespectsBackoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newStore(t, story("a"))
	s.SetClock(func() time.Time { return now })

	if err := s.SetRetryAt("a", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got := s.Promote(); len(got) != 0 {
		t.Fatalf("promoted %v before backoff elapsed", got)
	}

	now = now.Add(2 * time.Minute)
	if got := s.Promote(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Promote() = %v, want [a]", got)
	}
}

func TestGetReady_FiltersDomainAssignmentAndConflicts(t *testing.T) {
	a := story("a")
	b := story("b")
	b.Domain = "ui"
	c := story("c")
	s := newStore(t, a, b, c)
	s.Promote()

	if err := s.Assign("a", "sq-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.TagConflict("c", "cf-1"); err != nil {
		t.Fatal(err)
	}

	ready := s.GetReady("")
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("GetReady(\"\") = %v, want [b]", ids(ready))
	}
	if got := s.GetReady("core"); len(got) != 0 {
		t.Errorf("GetReady(core) = %v, want none", ids(got))
	}

	if cleared := s.ClearConflict("cf-1"); len(cleared) != 1 || cleared[0] != "c" {
		t.Errorf("ClearConflict = %v, want [c]", cleared)
	}
	if got := s.GetReady("core"); len(got) != 1 || got[0].ID != "c" {
		t.Errorf("GetReady(core) after clear = %v, want [c]", ids(got))
	}
}

func TestRetryableAndExhausted(t *testing.T) {
	s := newStore(t, story("a"), story("b"), story("c", "b"))
	s.Promote()
	for _, id := range []string{"a", "b"} {
		mustMark(t, s, id, models.StoryStatusInProgress)
		if err := s.MarkStatus(id, models.StoryStatusFailed, "x"); err != nil {
			t.Fatal(err)
		}
	}
	// b has already been retried once.
	mustMark(t, s, "b", models.StoryStatusPending)
	s.Promote()
	mustMark(t, s, "b", models.StoryStatusInProgress)
	if err := s.MarkStatus("b", models.StoryStatusFailed, "x"); err != nil {
		t.Fatal(err)
	}

	if got := ids(s.RetryableFailed(2)); len(got) != 1 || got[0] != "a" {
		t.Errorf("RetryableFailed(2) = %v, want [a]", got)
	}
	if got := ids(s.ExhaustedFailed(2)); len(got) != 1 || got[0] != "b" {
		t.Errorf("ExhaustedFailed(2) = %v, want [b]", got)
	}

	stuck := s.Stuck(2)
	if !stuck["b"] || !stuck["c"] || stuck["a"] {
		t.Errorf("Stuck(2) = %v, want b and its dependent c", stuck)
	}
}

// TestPromote_ReadyImpliesDependenciesDone generates random DAGs, drives random
// completions, and checks every ready story only has done dependencies.
func TestPromote_ReadyImpliesDependenciesDone(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := 5 + rng.Intn(20)
		stories := make([]*models.Story, n)
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Float64() < 0.25 {
					deps = append(deps, fmt.Sprintf("s%d", j))
				}
			}
			stories[i] = story(fmt.Sprintf("s%d", i), deps...)
		}
		s := newStore(t, stories...)

		for step := 0; step < 3*n; step++ {
			s.Promote()
			assertReadyInvariant(t, s)

			ready := s.GetReady("")
			if len(ready) == 0 {
				break
			}
			pick := ready[rng.Intn(len(ready))]
			mustMark(t, s, pick.ID, models.StoryStatusInProgress)
			mustMark(t, s, pick.ID, models.StoryStatusDone)
		}

		if counts := s.Counts(); counts[models.StoryStatusDone] != n {
			t.Fatalf("round %d: %d of %d stories done", round, counts[models.StoryStatusDone], n)
		}
	}
}

func assertReadyInvariant(t *testing.T, s *Store) {
	t.Helper()
	all := make(map[string]*models.Story)
	for _, st := range s.Snapshot() {
		all[st.ID] = st
	}
	for _, st := range all {
		if st.Status != models.StoryStatusReady {
			continue
		}
		for _, dep := range st.Dependencies {
			if all[dep].Status != models.StoryStatusDone {
				t.Fatalf("story %s is ready but dependency %s is %s", st.ID, dep, all[dep].Status)
			}
		}
	}
}

func mustMark(t *testing.T, s *Store, id string, status models.StoryStatus) {
	t.Helper()
	if err := s.MarkStatus(id, status, ""); err != nil {
		t.Fatalf("MarkStatus(%s, %s) failed: %v", id, status, err)
	}
}

func ids(stories []*models.Story) []string {
	out := make([]string, len(stories))
	for i, st := range stories {
		out[i] = st.ID
	}
	return out
}
