package models

import "time"

// Mission parameter option sets, fixed at creation time.
var (
	ThreatLevels = []string{"RECRUIT", "AGENT", "DOUBLE_ZERO"}
	Durations    = []string{"15_MIN", "45_MIN", "2_HOURS", "INFINITE"}
	Protocols    = []string{"SOCIAL", "ABSURD", "RISKY"}
)

// MissionConfig is the gameplay configuration chosen by the host,
// immutable after creation.
type MissionConfig struct {
	ThreatLevel string
	Duration    string
	Protocol    string
}

// ParseMissionDuration converts a duration option into a countdown
// length. Zero means no countdown enforcement (INFINITE).
func ParseMissionDuration(d string) time.Duration {
	switch d {
	case "15_MIN":
		return 15 * time.Minute
	case "45_MIN":
		return 45 * time.Minute
	case "2_HOURS":
		return 2 * time.Hour
	default:
		return 0
	}
}
