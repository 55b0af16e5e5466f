// Package agent defines the contract between the fleet and whatever executes a story.
//
// How an agent produces its changes is outside the fleet: it receives an Assignment,
// reports progress through a Reporter, and eventually returns a Result.
package agent

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/armada/pkg/models"
)

// Assignment is what an executor is asked to do.
type Assignment struct {
	Project string        `json:"project"`
	Story   *models.Story `json:"story"`
	SquadID string        `json:"squadId"`
	AgentID string        `json:"agentId"`
	Role    models.Role   `json:"role"`
	// Attempt is 1 for the first execution of the story.
	Attempt int `json:"attempt"`
}

// Reporter receives agent messages while a story executes.
// Implementations must be safe to call from the executor's goroutine.
type Reporter interface {
	Report(msgType models.MessageType, content, toolName string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(msgType models.MessageType, content, toolName string)

// Report calls f.
func (f ReporterFunc) Report(msgType models.MessageType, content, toolName string) {
	f(msgType, content, toolName)
}

// Discard is a Reporter that drops every message.
var Discard Reporter = ReporterFunc(func(models.MessageType, string, string) {})

// TestResults summarizes the tests an execution wrote and ran.
type TestResults struct {
	Written int `json:"written"`
	Passing int `json:"passing"`
	Failing int `json:"failing"`
}

// Result is the outcome of one execution.
type Result struct {
	Success    bool             `json:"success"`
	Changes    models.ChangeSet `json:"changes"`
	Tests      TestResults      `json:"tests"`
	TokensUsed int64            `json:"tokensUsed"`
	// Reason explains a failure.
	Reason string `json:"reason,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(changes models.ChangeSet, tests TestResults, tokens int64) Result {
	return Result{Success: true, Changes: changes, Tests: tests, TokensUsed: tokens}
}

// Failed builds a failed result.
func Failed(reason string) Result {
	return Result{Reason: reason}
}

// Err returns an *AgentExecutionFailure for a failed result, or nil.
func (r Result) Err(storyID string) error {
	if r.Success {
		return nil
	}
	return &AgentExecutionFailure{StoryID: storyID, Reason: r.Reason}
}

// Executor runs assignments. Execute blocks until the story finishes or ctx is done;
// a cancelled context must produce a failed result promptly.
type Executor interface {
	Execute(ctx context.Context, a Assignment, r Reporter) Result
}

// AgentExecutionFailure reports a failed execution. It is retried up to the
// fleet's attempt budget.
type AgentExecutionFailure struct {
	StoryID string
	Reason  string
	Err     error
}

func (e *AgentExecutionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent execution failed for story %s: %s: %v", e.StoryID, e.Reason, e.Err)
	}
	return fmt.Sprintf("agent execution failed for story %s: %s", e.StoryID, e.Reason)
}

func (e *AgentExecutionFailure) Unwrap() error {
	return e.Err
}
