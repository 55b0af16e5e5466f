package state

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ShayCichocki/armada/internal/events"
)

// Event payloads are stored as Core Deterministic CBOR: the same payload always
// produces the same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}
}

// AppendEvent persists one event of a fleet's stream.
func (db *DB) AppendEvent(e events.Event) error {
	payload, err := encMode.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	_, err = db.Exec(`
		INSERT OR REPLACE INTO events (project, seq, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)
	`, e.Project, e.Seq, string(e.Kind), payload, formatTime(e.Time))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LastSeq returns the highest persisted sequence of a project, or 0.
func (db *DB) LastSeq(project string) (uint64, error) {
	var seq uint64
	if err := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM events WHERE project = ?", project).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get last sequence: %w", err)
	}
	return seq, nil
}

// Events returns a project's persisted events after sequence since, up to limit
// (limit <= 0 returns everything).
func (db *DB) Events(project string, since uint64, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT seq, kind, payload, created_at FROM events
		WHERE project = ? AND seq > ? ORDER BY seq LIMIT ?
	`, project, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var kind, createdAt string
		var payload []byte
		if err := rows.Scan(&e.Seq, &kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Project = project
		e.Kind = events.Kind(kind)
		e.Time, _ = parseTime(createdAt)
		p, err := events.NewPayload(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", e.Seq, err)
		}
		if err := decMode.Unmarshal(payload, p); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", e.Seq, err)
		}
		e.Payload = p
		out = append(out, e)
	}
	return out, rows.Err()
}
