package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/config"
	"github.com/ShayCichocki/armada/internal/plan"
	"github.com/ShayCichocki/armada/internal/state"
	"github.com/ShayCichocki/armada/pkg/models"
)

const testPlan = `
project: demo
stories:
  - id: schema
    title: Create schema
    domain: data
    phase: foundation
  - id: api
    title: Orders endpoint
    domain: api
    phase: core
    dependencies: [schema]
simulate:
  api:
    outcomes:
      - tokens: 1200
        tests_written: 1
        tests_passing: 1
`

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{name: "milliseconds", d: 250 * time.Millisecond, expected: "250ms"},
		{name: "seconds", d: 42 * time.Second, expected: "42s"},
		{name: "minutes and seconds", d: 3*time.Minute + 5*time.Second, expected: "3m5s"},
		{name: "whole hours", d: 2 * time.Hour, expected: "2h"},
		{name: "hours and minutes", d: 2*time.Hour + 30*time.Minute, expected: "2h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate kept %q", got)
	}
	got := truncate("line one\nline two is much longer", 12)
	if got != "line one ..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestRenderTable_AlignsColumns(t *testing.T) {
	out := renderTable([][]string{
		{"PROJECT", "STATE"},
		{"a", "idle"},
		{"longer-name", "running"},
	})
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	col := strings.Index(lines[2], "running")
	if col < 0 || strings.Index(lines[1], "idle") != col {
		t.Errorf("second column not aligned:\n%s", out)
	}
}

func TestExecutorFor(t *testing.T) {
	t.Setenv("ARMADA_AGENT_COMMAND", "")
	p, err := plan.Parse([]byte(testPlan), plan.FormatYAML)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}

	cfg := config.Default()
	exec, err := executorFor(cfg, p, t.TempDir())
	if err != nil {
		t.Fatalf("simulate mode: %v", err)
	}
	if _, ok := exec.(*agent.Scripted); !ok {
		t.Errorf("simulate mode returned %T", exec)
	}

	cfg.Executor.Mode = config.ModeCommand
	if _, err := executorFor(cfg, p, t.TempDir()); err == nil {
		t.Error("command mode without a command should fail")
	}
	if _, err := executorFactory(cfg, t.TempDir()); err == nil {
		t.Error("factory should reject command mode without a command")
	}

	cfg.Executor.Command = "./agent.sh --fast"
	exec, err = executorFor(cfg, p, "/work")
	if err != nil {
		t.Fatalf("command mode: %v", err)
	}
	sub, ok := exec.(*agent.Subprocess)
	if !ok {
		t.Fatalf("command mode returned %T", exec)
	}
	if sub.Command != "./agent.sh" || len(sub.Args) != 1 || sub.Dir != "/work" {
		t.Errorf("unexpected subprocess %+v", sub)
	}
}

func TestRunRun_CompletesPlan(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ARMADA_AGENT_COMMAND", "")
	t.Setenv("ARMADA_LOOP_TICK_INTERVAL", "10ms")

	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(planPath, []byte(testPlan), 0644); err != nil {
		t.Fatal(err)
	}

	oldDir, oldQuiet, oldNoSignals := projectDirFlag, runQuiet, runNoSignals
	projectDirFlag, runQuiet, runNoSignals = dir, true, true
	defer func() { projectDirFlag, runQuiet, runNoSignals = oldDir, oldQuiet, oldNoSignals }()

	if err := runRun(runCmd, []string{planPath}); err != nil {
		t.Fatalf("runRun: %v", err)
	}

	db, err := state.OpenProject(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stories, err := db.LoadStories("demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(stories) != 2 {
		t.Fatalf("expected 2 persisted stories, got %d", len(stories))
	}
	for _, s := range stories {
		if s.Status != models.StoryStatusDone {
			t.Errorf("story %s is %s, want done", s.ID, s.Status)
		}
	}
	evs, err := db.Events("demo", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) == 0 {
		t.Error("expected persisted events")
	}
}
