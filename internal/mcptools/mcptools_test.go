package mcptools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/fleet/policy"
	"github.com/ShayCichocki/armada/pkg/models"
)

func newTestRegistry(t *testing.T) *fleet.Registry {
	t.Helper()
	p := policy.Default()
	p.Loop.TickInterval = 5 * time.Millisecond
	p.Squad.IdleGrace = time.Hour
	reg := fleet.NewRegistry(fleet.RegistryConfig{Policy: p, Executor: agent.NewScripted(nil)})
	t.Cleanup(func() { _ = reg.Close() })

	stories := []*models.Story{
		{ID: "a", Title: "A", Domain: "api", Phase: models.PhaseCore},
		{ID: "b", Title: "B", Domain: "api", Phase: models.PhaseCore, Dependencies: []string{"a"}},
	}
	if _, err := reg.Create(context.Background(), "shop", stories, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return reg
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestControlTool_Definitions(t *testing.T) {
	reg := newTestRegistry(t)
	want := map[Op]string{
		OpStart:       "fleet_start",
		OpPause:       "fleet_pause",
		OpResume:      "fleet_resume",
		OpStop:        "fleet_stop",
		OpRetryFailed: "fleet_retry_failed",
	}
	for op, name := range want {
		def := NewControlTool(reg, op).Definition()
		if def.Name != name {
			t.Errorf("tool name = %q, want %q", def.Name, name)
		}
		if def.Description == "" {
			t.Errorf("%s has no description", name)
		}
		if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "project" {
			t.Errorf("%s required = %v, want [project]", name, def.InputSchema.Required)
		}
	}
}

func TestStatusTool(t *testing.T) {
	reg := newTestRegistry(t)
	tool := NewStatusTool(reg)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"project": "shop"}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if res.IsError || !strings.Contains(text, "## Fleet shop") || !strings.Contains(text, "0/2 done") {
		t.Errorf("status text = %q", text)
	}

	res, _ = tool.Handle(context.Background(), makeReq(nil))
	if !strings.Contains(resultText(res), "## Fleet shop") {
		t.Errorf("summary without project = %q", resultText(res))
	}

	res, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{"project": "nope"}))
	if !res.IsError || !strings.Contains(resultText(res), "no fleet") {
		t.Errorf("unknown project = %q (error %v)", resultText(res), res.IsError)
	}
}

func TestControlTool_StartRunsFleet(t *testing.T) {
	reg := newTestRegistry(t)
	res, err := NewControlTool(reg, OpStart).Handle(context.Background(), makeReq(map[string]interface{}{"project": "shop"}))
	if err != nil || res.IsError {
		t.Fatalf("start = %q, %v", resultText(res), err)
	}

	c, _ := reg.Get("shop")
	deadline := time.Now().Add(5 * time.Second)
	for c.Snapshot().State != fleet.StateCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("fleet did not complete; state %s", c.Snapshot().State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, _ = NewControlTool(reg, OpRetryFailed).Handle(context.Background(), makeReq(map[string]interface{}{"project": "shop"}))
	if !strings.Contains(resultText(res), "Requeued 0 failed stories") {
		t.Errorf("retry_failed = %q", resultText(res))
	}

	res, _ = NewControlTool(reg, OpStop).Handle(context.Background(), makeReq(map[string]interface{}{"project": "shop"}))
	if res.IsError || !strings.Contains(resultText(res), "**State**: idle") {
		t.Errorf("stop = %q", resultText(res))
	}
}

func TestControlTool_MissingProject(t *testing.T) {
	reg := newTestRegistry(t)
	res, err := NewControlTool(reg, OpPause).Handle(context.Background(), makeReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "project is required") {
		t.Errorf("result = %q", resultText(res))
	}
}

func TestResolveTool_UnknownConflict(t *testing.T) {
	reg := newTestRegistry(t)
	res, _ := NewResolveTool(reg).Handle(context.Background(), makeReq(map[string]interface{}{
		"project":     "shop",
		"conflict_id": "c-missing",
	}))
	if !res.IsError || !strings.Contains(resultText(res), "conflict not found") {
		t.Errorf("result = %q", resultText(res))
	}
}

func TestToolNames(t *testing.T) {
	reg := newTestRegistry(t)
	if NewServer(reg, "test") == nil {
		t.Fatal("NewServer returned nil")
	}

	names := []string{NewStatusTool(reg).Definition().Name, NewResolveTool(reg).Definition().Name}
	for _, op := range []Op{OpStart, OpPause, OpResume, OpStop, OpRetryFailed} {
		names = append(names, NewControlTool(reg, op).Definition().Name)
	}
	want := []string{"fleet_status", "fleet_resolve_conflict", "fleet_start", "fleet_pause", "fleet_resume", "fleet_stop", "fleet_retry_failed"}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("tool %d name = %q, want %q", i, names[i], name)
		}
	}
}
