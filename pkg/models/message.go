package models

import "time"

// MessageType classifies an agent message.
type MessageType string

const (
	MessageThinking MessageType = "thinking"
	MessageAction   MessageType = "action"
	MessageResult   MessageType = "result"
	MessageChat     MessageType = "chat"
	MessageError    MessageType = "error"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageThinking, MessageAction, MessageResult, MessageChat, MessageError:
		return true
	default:
		return false
	}
}

// AgentMessage is an immutable log entry produced by an agent.
type AgentMessage struct {
	ID        string      `json:"id"`
	AgentID   string      `json:"agentId"`
	AgentType Role        `json:"agentType"`
	SquadID   string      `json:"squadId,omitempty"`
	StoryID   string      `json:"storyId,omitempty"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	ToolName  string      `json:"toolName,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// FleetMetrics is the derived aggregate view of a fleet.
type FleetMetrics struct {
	ActiveAgents int `json:"activeAgents"`
	// Throughput is completed stories per hour over a sliding window.
	Throughput             float64 `json:"throughput"`
	CompletedStories       int     `json:"completedStories"`
	FailedStories          int     `json:"failedStories"`
	TotalTokensUsed        int64   `json:"totalTokensUsed"`
	ConflictsResolved      int     `json:"conflictsResolved"`
	ConflictsEscalated     int     `json:"conflictsEscalated"`
	AverageStoryDurationMs int64   `json:"averageStoryDurationMs"`
}
