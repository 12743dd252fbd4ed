package models

// IncidentType tags the incident variant on an agent
type IncidentType string

const (
	// IncidentImpossible is a self-report that the current challenge is infeasible
	IncidentImpossible IncidentType = "IMPOSSIBLE"
	// IncidentUnmaskPrompt is an accusation awaiting the accused's response
	IncidentUnmaskPrompt IncidentType = "UNMASK_PROMPT"
	// IncidentUnmaskVote is a denied accusation under peer vote
	IncidentUnmaskVote IncidentType = "UNMASK_VOTE"
)

// Vote is a single ballot cast on an incident
type Vote string

const (
	VoteFeasible   Vote = "FEASIBLE"
	VoteImpossible Vote = "IMPOSSIBLE"
	VoteYes        Vote = "YES"
	VoteNo         Vote = "NO"
)

// Incident is the disputed-state sub-object on an agent. At most one
// agent mission-wide holds one; raising it pauses the mission timer.
type Incident struct {
	Type       IncidentType    `json:"type"`
	ReportedAt int64           `json:"reportedAt,omitempty"`
	Votes      map[string]Vote `json:"votes,omitempty"`

	// Unmask accusations only
	UnmaskerID   string `json:"unmaskerId,omitempty"`
	UnmaskerName string `json:"unmaskerName,omitempty"`
	// RouletteWinnerID is set once a tie-break lottery has been drawn
	RouletteWinnerID string `json:"rouletteWinnerId,omitempty"`
}
