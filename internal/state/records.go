package state

import (
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/armada/pkg/models"
)

// SaveConflict appends a conflict record. Records are immutable; saving the
// same ID twice is a no-op.
func (db *DB) SaveConflict(project string, r models.ConflictRecord) error {
	ids, err := json.Marshal(r.StoryIDsInvolved)
	if err != nil {
		return fmt.Errorf("marshal story ids: %w", err)
	}
	_, err = db.Exec(`
		INSERT OR IGNORE INTO conflicts (id, project, story_ids, resource_key, resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, project, string(ids), r.ResourceKey, string(r.Resolution), formatTime(r.Timestamp))
	if err != nil {
		return fmt.Errorf("save conflict: %w", err)
	}
	return nil
}

// ListConflicts returns a project's conflict records, oldest first.
func (db *DB) ListConflicts(project string) ([]models.ConflictRecord, error) {
	rows, err := db.Query(`
		SELECT id, story_ids, resource_key, resolution, created_at
		FROM conflicts WHERE project = ? ORDER BY created_at, id
	`, project)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var records []models.ConflictRecord
	for rows.Next() {
		var r models.ConflictRecord
		var ids, createdAt string
		if err := rows.Scan(&r.ID, &ids, &r.ResourceKey, &r.Resolution, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &r.StoryIDsInvolved); err != nil {
			return nil, fmt.Errorf("unmarshal story ids of %s: %w", r.ID, err)
		}
		r.Timestamp, _ = parseTime(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveMessage appends an agent message and prunes the project's log to the
// newest keep messages. keep <= 0 disables pruning.
func (db *DB) SaveMessage(project string, m models.AgentMessage, keep int) error {
	_, err := db.Exec(`
		INSERT INTO agent_messages (id, project, agent_id, agent_type, squad_id, story_id, type, content, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, project, m.AgentID, string(m.AgentType), m.SquadID, m.StoryID, string(m.Type), m.Content, m.ToolName,
		formatTime(m.Timestamp))
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if keep <= 0 {
		return nil
	}
	_, err = db.Exec(`
		DELETE FROM agent_messages WHERE project = ? AND seq <= (
			SELECT seq FROM agent_messages WHERE project = ? ORDER BY seq DESC LIMIT 1 OFFSET ?
		)
	`, project, project, keep)
	if err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	return nil
}

// ListMessages returns up to limit of a project's newest messages, oldest first.
func (db *DB) ListMessages(project string, limit int) ([]models.AgentMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, agent_id, agent_type, squad_id, story_id, type, content, tool_name, created_at FROM (
			SELECT * FROM agent_messages WHERE project = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq
	`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.AgentMessage
	for rows.Next() {
		var m models.AgentMessage
		var squadID, storyID, toolName *string
		var createdAt string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.AgentType, &squadID, &storyID, &m.Type, &m.Content, &toolName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if squadID != nil {
			m.SquadID = *squadID
		}
		if storyID != nil {
			m.StoryID = *storyID
		}
		if toolName != nil {
			m.ToolName = *toolName
		}
		m.Timestamp, _ = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
