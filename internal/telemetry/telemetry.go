// Package telemetry exports fleet measurements as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/pkg/models"
)

const namespace = "armada"

// Recorder implements fleet.MetricsRecorder on a private registry.
type Recorder struct {
	reg *prometheus.Registry

	stories       *prometheus.CounterVec
	storyDuration *prometheus.HistogramVec
	conflicts     *prometheus.CounterVec

	activeAgents *prometheus.GaugeVec
	throughput   *prometheus.GaugeVec
	tokens       *prometheus.GaugeVec
	completed    *prometheus.GaugeVec
	failed       *prometheus.GaugeVec
}

var _ fleet.MetricsRecorder = (*Recorder)(nil)

// New creates a recorder with its own registry, including Go runtime collectors.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		stories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_total",
			Help:      "Story executions by final status.",
		}, []string{"project", "status"}),
		storyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "story_duration_seconds",
			Help:      "Time from assignment to completion or failure.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"project", "status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Conflict outcomes by resolution.",
		}, []string{"project", "resolution"}),
		activeAgents: gauge("active_agents", "Agents currently working."),
		throughput:   gauge("throughput_stories_per_hour", "Completed stories per hour over the sliding window."),
		tokens:       gauge("tokens_used", "Total tokens consumed."),
		completed:    gauge("completed_stories", "Stories integrated."),
		failed:       gauge("failed_stories", "Stories currently failed."),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.stories, r.storyDuration, r.conflicts,
		r.activeAgents, r.throughput, r.tokens, r.completed, r.failed,
	)
	return r
}

func gauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{"project"})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordStory counts a finished execution.
func (r *Recorder) RecordStory(project string, status models.StoryStatus, d time.Duration) {
	r.stories.WithLabelValues(project, string(status)).Inc()
	r.storyDuration.WithLabelValues(project, string(status)).Observe(d.Seconds())
}

// RecordConflict counts a conflict outcome.
func (r *Recorder) RecordConflict(project string, res models.Resolution) {
	r.conflicts.WithLabelValues(project, string(res)).Inc()
}

// RecordFleet sets the fleet gauges from a metrics snapshot.
func (r *Recorder) RecordFleet(project string, m models.FleetMetrics) {
	r.activeAgents.WithLabelValues(project).Set(float64(m.ActiveAgents))
	r.throughput.WithLabelValues(project).Set(m.Throughput)
	r.tokens.WithLabelValues(project).Set(float64(m.TotalTokensUsed))
	r.completed.WithLabelValues(project).Set(float64(m.CompletedStories))
	r.failed.WithLabelValues(project).Set(float64(m.FailedStories))
}

// Forget drops every series of a project.
func (r *Recorder) Forget(project string) {
	labels := prometheus.Labels{"project": project}
	r.stories.DeletePartialMatch(labels)
	r.storyDuration.DeletePartialMatch(labels)
	r.conflicts.DeletePartialMatch(labels)
	for _, g := range []*prometheus.GaugeVec{r.activeAgents, r.throughput, r.tokens, r.completed, r.failed} {
		g.Delete(labels)
	}
}
