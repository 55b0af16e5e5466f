package server

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/events"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/partition"
	"github.com/ShayCichocki/armada/internal/plan"
	"github.com/ShayCichocki/armada/pkg/models"
)

type controlOp string

const (
	opStart       controlOp = "start"
	opPause       controlOp = "pause"
	opResume      controlOp = "resume"
	opStop        controlOp = "stop"
	opRetryFailed controlOp = "retry-failed"
)

// StatusResponse is the polling view of a fleet.
type StatusResponse struct {
	Progress events.Progress     `json:"progress"`
	Metrics  models.FleetMetrics `json:"metrics"`
}

// ControlResponse is returned by every control command.
type ControlResponse struct {
	Project string      `json:"project"`
	State   fleet.State `json:"state"`
	Paused  bool        `json:"paused"`
	// Requeued is set by retry-failed.
	Requeued *int `json:"requeued,omitempty"`
	// Abandoned lists stories a stop could not drain in time.
	Abandoned []string `json:"abandoned,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	projects := s.opts.Registry.List()
	out := make([]StatusResponse, 0, len(projects))
	for _, p := range projects {
		c, err := s.opts.Registry.Get(p)
		if err != nil {
			continue
		}
		snap := c.Snapshot()
		out = append(out, StatusResponse{Progress: snap.Progress, Metrics: snap.Metrics})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	p, err := plan.Parse(data, plan.FormatJSON)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Project == "" {
		writeJSONError(w, http.StatusBadRequest, "project required")
		return
	}

	var executor agent.Executor
	if s.opts.Executor != nil {
		executor = s.opts.Executor(p)
	}
	c, err := s.opts.Registry.Create(r.Context(), p.Project, p.Backlog(), executor)
	if err != nil {
		writeJSONError(w, createStatus(err), err.Error())
		return
	}
	log.Printf("[server] created fleet %s", p.Project)
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func createStatus(err error) int {
	var cyclic *partition.CyclicDependencyError
	var unknown *partition.UnknownDependencyError
	var mismatch *partition.PhaseMismatchError
	var order *partition.PhaseOrderError
	switch {
	case errors.Is(err, fleet.ErrFleetExists):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrFleetClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &cyclic), errors.As(err, &unknown), errors.As(err, &mismatch), errors.As(err, &order):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// lookup resolves the {project} path value. It writes the response and returns
// nil when the fleet is not available.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *fleet.Coordinator {
	project := r.PathValue("project")
	c, res := s.opts.Registry.Lookup(project)
	switch res {
	case fleet.LookupFound:
		return c
	case fleet.LookupInitializing:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "initializing"})
	default:
		writeJSONError(w, http.StatusNotFound, "fleet not found: "+project)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	snap := c.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{Progress: snap.Progress, Metrics: snap.Metrics})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Registry.Remove(r.PathValue("project")); err != nil {
		if errors.Is(err, fleet.ErrFleetNotFound) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) control(op controlOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := s.lookup(w, r)
		if c == nil {
			return
		}
		var (
			snap fleet.Snapshot
			err  error
			resp ControlResponse
		)
		switch op {
		case opStart:
			snap, err = c.Start(r.Context())
		case opPause:
			snap, err = c.Pause(r.Context())
		case opResume:
			snap, err = c.Resume(r.Context())
		case opStop:
			snap, err = c.Stop(r.Context())
			var drain *fleet.DrainTimeoutError
			if errors.As(err, &drain) {
				resp.Abandoned = drain.StoryIDs
				err = nil
			}
		case opRetryFailed:
			var n int
			n, err = c.RetryFailed(r.Context())
			resp.Requeued = &n
			snap = c.Snapshot()
		}
		if err != nil {
			writeJSONError(w, controlStatus(err), err.Error())
			return
		}
		resp.Project, resp.State, resp.Paused = snap.Project, snap.State, snap.Paused
		writeJSON(w, http.StatusOK, resp)
	}
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, fleet.ErrFleetClosed):
		return http.StatusGone
	case errors.Is(err, fleet.ErrConflictNotFound):
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	if err := c.ResolveConflict(r.Context(), r.PathValue("id")); err != nil {
		writeJSONError(w, controlStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
