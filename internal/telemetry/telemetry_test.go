package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ShayCichocki/armada/pkg/models"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()
	r.RecordStory("shop", models.StoryStatusDone, 2*time.Second)
	r.RecordStory("shop", models.StoryStatusDone, time.Second)
	r.RecordStory("shop", models.StoryStatusFailed, time.Second)
	r.RecordConflict("shop", models.ResolutionEscalated)

	if got := testutil.ToFloat64(r.stories.WithLabelValues("shop", "done")); got != 2 {
		t.Errorf("done stories = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.stories.WithLabelValues("shop", "failed")); got != 1 {
		t.Errorf("failed stories = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.conflicts.WithLabelValues("shop", "escalated")); got != 1 {
		t.Errorf("escalated conflicts = %v, want 1", got)
	}
}

func TestRecorder_FleetGauges(t *testing.T) {
	r := New()
	r.RecordFleet("shop", models.FleetMetrics{ActiveAgents: 3, CompletedStories: 5, TotalTokensUsed: 12000, Throughput: 4.5})
	r.RecordFleet("shop", models.FleetMetrics{ActiveAgents: 1, CompletedStories: 6, TotalTokensUsed: 13000, Throughput: 5})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"active agents", testutil.ToFloat64(r.activeAgents.WithLabelValues("shop")), 1},
		{"completed", testutil.ToFloat64(r.completed.WithLabelValues("shop")), 6},
		{"tokens", testutil.ToFloat64(r.tokens.WithLabelValues("shop")), 13000},
		{"throughput", testutil.ToFloat64(r.throughput.WithLabelValues("shop")), 5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRecorder_Forget(t *testing.T) {
	r := New()
	r.RecordFleet("shop", models.FleetMetrics{ActiveAgents: 2})
	r.RecordStory("shop", models.StoryStatusDone, time.Second)
	r.Forget("shop")

	if n := testutil.CollectAndCount(r.activeAgents); n != 0 {
		t.Errorf("active_agents series after Forget = %d", n)
	}
	if n := testutil.CollectAndCount(r.stories); n != 0 {
		t.Errorf("stories series after Forget = %d", n)
	}
}

func TestHandler_Exposition(t *testing.T) {
	r := New()
	r.RecordFleet("shop", models.FleetMetrics{CompletedStories: 4})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `armada_completed_stories{project="shop"} 4`) {
		t.Errorf("exposition missing completed gauge:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing Go runtime metrics")
	}
}
