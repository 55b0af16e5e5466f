// Package mcptools exposes fleet control as MCP tools.
//
// Each tool follows the same pattern:
// - A struct holding the fleet registry, injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Failures the caller can act on (unknown fleet, closed fleet) come back as
// tool errors, never as protocol errors.
package mcptools

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ShayCichocki/armada/internal/fleet"
)

// NewServer builds an MCP server with every fleet tool registered.
func NewServer(reg *fleet.Registry, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"armada",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	status := NewStatusTool(reg)
	s.AddTool(status.Definition(), status.Handle)

	for _, op := range []Op{OpStart, OpPause, OpResume, OpStop, OpRetryFailed} {
		t := NewControlTool(reg, op)
		s.AddTool(t.Definition(), t.Handle)
	}

	resolve := NewResolveTool(reg)
	s.AddTool(resolve.Definition(), resolve.Handle)
	return s
}

// projectArg returns the required project argument and its fleet.
func projectArg(reg *fleet.Registry, req mcp.CallToolRequest) (*fleet.Coordinator, *mcp.CallToolResult) {
	project := strings.TrimSpace(req.GetString("project", ""))
	if project == "" {
		return nil, mcp.NewToolResultError("project is required")
	}
	c, res := reg.Lookup(project)
	switch res {
	case fleet.LookupFound:
		return c, nil
	case fleet.LookupInitializing:
		return nil, mcp.NewToolResultError(fmt.Sprintf("fleet %s is still initializing; try again shortly", project))
	default:
		return nil, mcp.NewToolResultError(fmt.Sprintf("no fleet for project %s", project))
	}
}

// writeSnapshot renders the parts of a snapshot an operator checks first.
func writeSnapshot(sb *strings.Builder, snap fleet.Snapshot) {
	p := snap.Progress
	state := string(snap.State)
	if snap.Paused {
		state += " (paused)"
	}
	if snap.Draining {
		state += " (draining)"
	}
	fmt.Fprintf(sb, "## Fleet %s\n\n", snap.Project)
	fmt.Fprintf(sb, "- **State**: %s\n", state)
	if p.ActivePhase != "" {
		fmt.Fprintf(sb, "- **Phase**: %s\n", p.ActivePhase)
	}
	fmt.Fprintf(sb, "- **Progress**: %d/%d done (%.0f%%)\n", p.Done, p.Total, p.Percent)
	fmt.Fprintf(sb, "- **Stories**: %d pending, %d ready, %d in progress, %d testing, %d merging, %d failed\n",
		p.Pending, p.Ready, p.InProgress, p.Testing, p.Merging, p.Failed)
	fmt.Fprintf(sb, "- **Agents**: %d active, %d tokens used\n", snap.Metrics.ActiveAgents, snap.Metrics.TotalTokensUsed)

	if len(snap.Failed) > 0 {
		sb.WriteString("\n### Failed stories\n\n")
		for _, f := range snap.Failed {
			mark := ""
			if f.Exhausted {
				mark = ", exhausted"
			}
			fmt.Fprintf(sb, "- %s (%s, %d attempts%s): %s\n", f.ID, f.Domain, f.Attempts, mark, f.LastError)
		}
	}
	if len(snap.Conflicts) > 0 {
		fmt.Fprintf(sb, "\n### Escalated conflicts\n\n%s\n", strings.Join(snap.Conflicts, ", "))
	}
}
