package models

// AgentStatus is the presence flag for a roster entry
type AgentStatus string

const (
	AgentReady   AgentStatus = "READY"
	AgentWaiting AgentStatus = "WAITING"
)

// Role is the local client's relationship to a mission
type Role string

const (
	RoleHost  Role = "HOST"
	RoleAgent Role = "AGENT"
)

// Challenge is a social-dare objective assigned to an agent
type Challenge struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// PendingValidation is an in-flight claim of having completed the
// current challenge, either real or a deliberate bluff bait
type PendingValidation struct {
	StartedAt int64 `json:"startedAt"`
	IsBluff   bool  `json:"isBluff"`
}

// Agent is one participant's roster entry under missions/{code}/agents/{id}
type Agent struct {
	Name     string      `json:"name,omitempty"`
	Avatar   string      `json:"avatar,omitempty"`
	Status   AgentStatus `json:"status,omitempty"`
	LastSeen int64       `json:"lastSeen,omitempty"`
	Score    int         `json:"score,omitempty"`

	Challenge         *Challenge         `json:"challenge,omitempty"`
	PendingValidation *PendingValidation `json:"pendingValidation,omitempty"`
	Incident          *Incident          `json:"incident,omitempty"`

	// Legacy per-round completion flags, kept for older clients
	Completed   bool  `json:"completed,omitempty"`
	CompletedAt int64 `json:"completedAt,omitempty"`
}
