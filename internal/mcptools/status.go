package mcptools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/armada/internal/fleet"
)

// StatusTool handles the fleet_status MCP tool.
type StatusTool struct {
	reg *fleet.Registry
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(reg *fleet.Registry) *StatusTool {
	return &StatusTool{reg: reg}
}

// Definition returns the MCP tool definition for fleet_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("fleet_status",
		mcp.WithDescription(
			"Show the state, progress and failures of a fleet. Without a project, summarizes every fleet.",
		),
		mcp.WithString("project",
			mcp.Description("Project whose fleet to report on"),
		),
	)
}

// Handle processes the fleet_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	if strings.TrimSpace(req.GetString("project", "")) == "" {
		projects := t.reg.List()
		if len(projects) == 0 {
			return mcp.NewToolResultText("No fleets."), nil
		}
		for i, p := range projects {
			c, err := t.reg.Get(p)
			if err != nil {
				continue
			}
			if i > 0 {
				sb.WriteString("\n")
			}
			writeSnapshot(&sb, c.Snapshot())
		}
		return mcp.NewToolResultText(sb.String()), nil
	}

	c, errResult := projectArg(t.reg, req)
	if errResult != nil {
		return errResult, nil
	}
	writeSnapshot(&sb, c.Snapshot())
	return mcp.NewToolResultText(sb.String()), nil
}
