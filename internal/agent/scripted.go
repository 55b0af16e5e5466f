package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/armada/pkg/models"
)

// Outcome is one scripted execution result.
type Outcome struct {
	Fail         bool             `json:"fail,omitempty" yaml:"fail,omitempty"`
	Reason       string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	Changes      models.ChangeSet `json:"changes,omitempty" yaml:"changes,omitempty"`
	TestsWritten int              `json:"testsWritten,omitempty" yaml:"tests_written,omitempty"`
	TestsPassing int              `json:"testsPassing,omitempty" yaml:"tests_passing,omitempty"`
	Tokens       int64            `json:"tokens,omitempty" yaml:"tokens,omitempty"`
}

// Script drives the scripted executor for one story.
type Script struct {
	// Outcomes are used in order, one per execution; the last one repeats.
	Outcomes []Outcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	// Delay is how long each execution takes.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Messages are reported as action messages before the outcome.
	Messages []string `json:"messages,omitempty" yaml:"messages,omitempty"`
	// Gate, if set, holds every execution until it is closed or receives.
	Gate <-chan struct{} `json:"-" yaml:"-"`
}

// Scripted is a deterministic executor driven by per-story scripts.
// Stories without a script succeed immediately with Default.
type Scripted struct {
	mu      sync.Mutex
	scripts map[string]Script
	runs    map[string]int
	// Default is the outcome of unscripted stories.
	Default Outcome
}

var _ Executor = (*Scripted)(nil)

// NewScripted creates a scripted executor.
func NewScripted(scripts map[string]Script) *Scripted {
	s := &Scripted{
		scripts: make(map[string]Script, len(scripts)),
		runs:    make(map[string]int),
		Default: Outcome{Tokens: 1000, TestsWritten: 1, TestsPassing: 1},
	}
	for id, sc := range scripts {
		s.scripts[id] = sc
	}
	return s
}

// SetScript replaces the script of a story.
func (s *Scripted) SetScript(storyID string, sc Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[storyID] = sc
}

// Runs returns how many times a story has been executed.
func (s *Scripted) Runs(storyID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[storyID]
}

// Execute plays the story's script.
func (s *Scripted) Execute(ctx context.Context, a Assignment, r Reporter) Result {
	if r == nil {
		r = Discard
	}
	s.mu.Lock()
	sc, scripted := s.scripts[a.Story.ID]
	run := s.runs[a.Story.ID]
	s.runs[a.Story.ID]++
	s.mu.Unlock()

	out := s.Default
	if scripted && len(sc.Outcomes) > 0 {
		idx := run
		if idx >= len(sc.Outcomes) {
			idx = len(sc.Outcomes) - 1
		}
		out = sc.Outcomes[idx]
	}

	r.Report(models.MessageThinking, fmt.Sprintf("planning %s (attempt %d)", a.Story.Title, a.Attempt), "")
	for _, m := range sc.Messages {
		r.Report(models.MessageAction, m, "")
	}

	if sc.Gate != nil {
		select {
		case <-sc.Gate:
		case <-ctx.Done():
			return Failed("cancelled: " + ctx.Err().Error())
		}
	}
	if sc.Delay > 0 {
		timer := time.NewTimer(sc.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Failed("cancelled: " + ctx.Err().Error())
		}
	}

	if out.Fail {
		reason := out.Reason
		if reason == "" {
			reason = "scripted failure"
		}
		r.Report(models.MessageError, reason, "")
		return Failed(reason)
	}
	r.Report(models.MessageResult, fmt.Sprintf("changed %d files", len(out.Changes.Files)), "")
	return Succeeded(out.Changes, TestResults{Written: out.TestsWritten, Passing: out.TestsPassing}, out.Tokens)
}
