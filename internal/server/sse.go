package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ShayCichocki/armada/internal/events"
)

// resumePoint returns the sequence to subscribe after. The boundary event named
// by Last-Event-ID (or ?since=) is delivered again.
func resumePoint(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("since")
	}
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid event id %q", raw)
	}
	if seq > 0 {
		seq--
	}
	return seq, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	since, err := resumePoint(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	sub, err := c.Subscribe(since)
	if err != nil {
		writeJSONError(w, http.StatusGone, err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if sub.Truncated() {
		_, _ = fmt.Fprint(w, ": history truncated; replaying latest snapshots\n\n")
	}
	flusher.Flush()

	keepalive := time.NewTicker(s.opts.Keepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-sub.Events():
			if !ok {
				if sub.Lagged() {
					// The client reconnects with Last-Event-ID and resumes.
					_, _ = fmt.Fprint(w, "event: lagged\ndata: {}\n\n")
					flusher.Flush()
				}
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE frame: the sequence as id, the kind as event name,
// and the payload as JSON data.
func writeEvent(w http.ResponseWriter, e events.Event) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, data)
	return err
}
