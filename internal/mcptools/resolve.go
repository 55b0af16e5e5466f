package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/armada/internal/fleet"
)

// ResolveTool handles the fleet_resolve_conflict MCP tool.
type ResolveTool struct {
	reg *fleet.Registry
}

// NewResolveTool creates a ResolveTool.
func NewResolveTool(reg *fleet.Registry) *ResolveTool {
	return &ResolveTool{reg: reg}
}

// Definition returns the MCP tool definition for fleet_resolve_conflict.
func (t *ResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("fleet_resolve_conflict",
		mcp.WithDescription(
			"Mark an escalated conflict as handled so the stories waiting on it are scheduled again.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project whose fleet holds the conflict"),
		),
		mcp.WithString("conflict_id",
			mcp.Required(),
			mcp.Description("Conflict ID as listed by fleet_status"),
		),
	)
}

// Handle processes the fleet_resolve_conflict tool call.
func (t *ResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, errResult := projectArg(t.reg, req)
	if errResult != nil {
		return errResult, nil
	}
	id := strings.TrimSpace(req.GetString("conflict_id", ""))
	if id == "" {
		return mcp.NewToolResultError("conflict_id is required"), nil
	}
	if err := c.ResolveConflict(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conflict %s resolved; its stories are ready again.", id)), nil
}
