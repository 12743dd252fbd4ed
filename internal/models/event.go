package models

// EventType classifies an entry in the mission event log
type EventType string

const (
	EventSuspect      EventType = "SUSPECT"
	EventSuccess      EventType = "SUCCESS"
	EventUnmasked     EventType = "UNMASKED"
	EventFailedUnmask EventType = "FAILED_UNMASK"
	EventBluffSuccess EventType = "BLUFF_SUCCESS"
)

// MissionEvent is an append-only log entry under missions/{code}/events.
// Events are observational only: presentation reads them for transient
// toasts, the coordinator never reads them back.
type MissionEvent struct {
	Type        EventType `json:"type"`
	AgentID     string    `json:"agentId,omitempty"`
	AgentName   string    `json:"agentName,omitempty"`
	TargetName  string    `json:"targetName,omitempty"`
	Points      int       `json:"points"`
	MissionText string    `json:"missionText,omitempty"`
	Timestamp   int64     `json:"timestamp,omitempty"`
}
