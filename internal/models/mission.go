package models

// MissionStatus represents the current lifecycle state of a mission
type MissionStatus string

const (
	StatusLobby    MissionStatus = "LOBBY"
	StatusActive   MissionStatus = "ACTIVE"
	StatusFinished MissionStatus = "FINISHED"
)

// Mission is the root aggregate stored under missions/{code}
type Mission struct {
	ThreatLevel string        `json:"threatLevel,omitempty"`
	Duration    string        `json:"duration,omitempty"`
	Protocol    string        `json:"protocol,omitempty"`
	Status      MissionStatus `json:"status,omitempty"`
	CreatedAt   int64         `json:"createdAt,omitempty"`
	StartedAt   int64         `json:"startedAt,omitempty"`
	// PausedAt is non-zero exactly while an incident holds the timer paused
	PausedAt int64 `json:"pausedAt,omitempty"`
	// ActiveIncidentAgentID claims the single incident slot mission-wide
	ActiveIncidentAgentID string `json:"activeIncidentAgentId,omitempty"`

	Agents map[string]*Agent        `json:"agents,omitempty"`
	Events map[string]*MissionEvent `json:"events,omitempty"`
}

// IncidentAgent returns the agent currently holding an incident, if any.
func (m *Mission) IncidentAgent() (string, *Agent) {
	for id, a := range m.Agents {
		if a != nil && a.Incident != nil {
			return id, a
		}
	}
	return "", nil
}
