package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/pkg/models"
)

// FleetRecord is the persisted lifecycle of one fleet.
type FleetRecord struct {
	Project   string      `json:"project"`
	State     fleet.State `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SaveFleet records a fleet's lifecycle state.
func (db *DB) SaveFleet(project string, s fleet.State) error {
	now := formatTime(time.Now())
	_, err := db.Exec(`
		INSERT INTO fleets (project, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, project, string(s), now, now)
	if err != nil {
		return fmt.Errorf("save fleet: %w", err)
	}
	return nil
}

// GetFleet retrieves a fleet by project. Returns nil if not found.
func (db *DB) GetFleet(project string) (*FleetRecord, error) {
	row := db.QueryRow(`
		SELECT project, state, created_at, updated_at FROM fleets WHERE project = ?
	`, project)

	var f FleetRecord
	var createdAt, updatedAt string
	err := row.Scan(&f.Project, &f.State, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fleet: %w", err)
	}
	f.CreatedAt, _ = parseTime(createdAt)
	f.UpdatedAt, _ = parseTime(updatedAt)
	return &f, nil
}

// ListFleets returns every persisted fleet, most recently updated first.
func (db *DB) ListFleets() ([]FleetRecord, error) {
	rows, err := db.Query(`
		SELECT project, state, created_at, updated_at FROM fleets ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list fleets: %w", err)
	}
	defer rows.Close()

	var fleets []FleetRecord
	for rows.Next() {
		var f FleetRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&f.Project, &f.State, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan fleet: %w", err)
		}
		f.CreatedAt, _ = parseTime(createdAt)
		f.UpdatedAt, _ = parseTime(updatedAt)
		fleets = append(fleets, f)
	}
	return fleets, rows.Err()
}

// Interrupted returns fleets whose last recorded state was starting or running.
// A process that exits cleanly always records idle, completed or error first.
func (db *DB) Interrupted() ([]FleetRecord, error) {
	all, err := db.ListFleets()
	if err != nil {
		return nil, err
	}
	var out []FleetRecord
	for _, f := range all {
		if f.State == fleet.StateRunning || f.State == fleet.StateStarting {
			out = append(out, f)
		}
	}
	return out, nil
}

// SaveStory upserts a story. Backlog order is kept from the first insert.
func (db *DB) SaveStory(project string, s *models.Story) error {
	deps, err := json.Marshal(s.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	resources, err := json.Marshal(s.Resources)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO stories (project, id, title, description, domain, phase, role, depends_on, resources,
			status, assigned_squad, attempts, last_error, conflict_id, retry_at, started_at, completed_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM stories WHERE project = ?))
		ON CONFLICT(project, id) DO UPDATE SET
			title = excluded.title, description = excluded.description, domain = excluded.domain,
			phase = excluded.phase, role = excluded.role, depends_on = excluded.depends_on,
			resources = excluded.resources, status = excluded.status, assigned_squad = excluded.assigned_squad,
			attempts = excluded.attempts, last_error = excluded.last_error, conflict_id = excluded.conflict_id,
			retry_at = excluded.retry_at, started_at = excluded.started_at, completed_at = excluded.completed_at
	`, project, s.ID, s.Title, s.Description, s.Domain, string(s.Phase), string(s.Role), string(deps), string(resources),
		string(s.Status), s.AssignedSquadID, s.Attempts, s.LastError, s.ConflictID,
		formatNullableTime(s.RetryAt), formatNullableTime(s.StartedAt), formatNullableTime(s.CompletedAt), project)
	if err != nil {
		return fmt.Errorf("save story: %w", err)
	}
	return nil
}

// LoadStories returns a project's stories in backlog order, or nil if none were saved.
func (db *DB) LoadStories(project string) ([]*models.Story, error) {
	rows, err := db.Query(`
		SELECT id, title, description, domain, phase, role, depends_on, resources, status,
			assigned_squad, attempts, last_error, conflict_id, retry_at, started_at, completed_at
		FROM stories WHERE project = ? ORDER BY position
	`, project)
	if err != nil {
		return nil, fmt.Errorf("load stories: %w", err)
	}
	defer rows.Close()

	var stories []*models.Story
	for rows.Next() {
		var s models.Story
		var description, role, deps, resources, squad, lastError, conflictID sql.NullString
		var retryAt, startedAt, completedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.Title, &description, &s.Domain, &s.Phase, &role, &deps, &resources,
			&s.Status, &squad, &s.Attempts, &lastError, &conflictID, &retryAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		s.Description = description.String
		s.Role = models.Role(role.String)
		s.AssignedSquadID = squad.String
		s.LastError = lastError.String
		s.ConflictID = conflictID.String
		if deps.Valid && deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &s.Dependencies); err != nil {
				return nil, fmt.Errorf("unmarshal dependencies of %s: %w", s.ID, err)
			}
		}
		if resources.Valid && resources.String != "" {
			if err := json.Unmarshal([]byte(resources.String), &s.Resources); err != nil {
				return nil, fmt.Errorf("unmarshal resources of %s: %w", s.ID, err)
			}
		}
		s.RetryAt = parseNullableTime(retryAt)
		s.StartedAt = parseNullableTime(startedAt)
		s.CompletedAt = parseNullableTime(completedAt)
		stories = append(stories, &s)
	}
	return stories, rows.Err()
}

// DeleteFleet removes every row of a project.
func (db *DB) DeleteFleet(project string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for _, table := range []string{"stories", "conflicts", "agent_messages", "events", "fleets"} {
			if _, err := tx.Exec("DELETE FROM "+table+" WHERE project = ?", project); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}
