package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/armada/internal/fleet"
)

// Op is a fleet control command.
type Op string

const (
	OpStart       Op = "start"
	OpPause       Op = "pause"
	OpResume      Op = "resume"
	OpStop        Op = "stop"
	OpRetryFailed Op = "retry_failed"
)

var opDescriptions = map[Op]string{
	OpStart:       "Start a fleet. Starting a running or finished fleet changes nothing.",
	OpPause:       "Stop assigning new stories. Stories already running keep going.",
	OpResume:      "Resume assigning stories after a pause.",
	OpStop:        "Drain a fleet: running stories get the drain window to finish, then the fleet goes idle.",
	OpRetryFailed: "Move every failed story back to pending, including stories that used up their retries.",
}

// ControlTool handles one fleet_<op> MCP tool.
type ControlTool struct {
	reg *fleet.Registry
	op  Op
}

// NewControlTool creates the tool for op.
func NewControlTool(reg *fleet.Registry, op Op) *ControlTool {
	return &ControlTool{reg: reg, op: op}
}

// Name returns the tool name, e.g. fleet_retry_failed.
func (t *ControlTool) Name() string {
	return "fleet_" + string(t.op)
}

// Definition returns the MCP tool definition.
func (t *ControlTool) Definition() mcp.Tool {
	return mcp.NewTool(t.Name(),
		mcp.WithDescription(opDescriptions[t.op]),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project whose fleet to control"),
		),
	)
}

// Handle processes the tool call.
func (t *ControlTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, errResult := projectArg(t.reg, req)
	if errResult != nil {
		return errResult, nil
	}

	var (
		snap fleet.Snapshot
		err  error
		note string
	)
	switch t.op {
	case OpStart:
		snap, err = c.Start(ctx)
	case OpPause:
		snap, err = c.Pause(ctx)
	case OpResume:
		snap, err = c.Resume(ctx)
	case OpStop:
		snap, err = c.Stop(ctx)
		var drain *fleet.DrainTimeoutError
		if errors.As(err, &drain) {
			note = fmt.Sprintf("Drain window expired; failed and queued for retry: %s", strings.Join(drain.StoryIDs, ", "))
			err = nil
		}
	case OpRetryFailed:
		var n int
		n, err = c.RetryFailed(ctx)
		note = fmt.Sprintf("Requeued %d failed stories.", n)
		snap = c.Snapshot()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown operation %q", t.op)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", t.Name(), err)), nil
	}

	var sb strings.Builder
	if note != "" {
		sb.WriteString(note + "\n\n")
	}
	writeSnapshot(&sb, snap)
	return mcp.NewToolResultText(sb.String()), nil
}
