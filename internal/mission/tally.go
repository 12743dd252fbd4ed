package mission

import "github.com/incognito-party/incognito/internal/models"

// IncidentTally summarizes the ballots on an active incident.
type IncidentTally struct {
	Feasible   int
	Impossible int
	Yes        int
	No         int
	Cast       int
	// Eligible is how many agents may vote: everyone but the subject
	// for an impossible report, everyone but accused and accuser for an
	// unmask vote.
	Eligible int
}

// TallyIncident counts the votes on the target's incident.
func TallyIncident(m *models.Mission, targetID string) IncidentTally {
	var t IncidentTally
	a := m.Agents[targetID]
	if a == nil || a.Incident == nil {
		return t
	}
	for _, v := range a.Incident.Votes {
		switch v {
		case models.VoteFeasible:
			t.Feasible++
		case models.VoteImpossible:
			t.Impossible++
		case models.VoteYes:
			t.Yes++
		case models.VoteNo:
			t.No++
		}
	}
	t.Cast = len(a.Incident.Votes)
	switch a.Incident.Type {
	case models.IncidentImpossible:
		t.Eligible = len(m.Agents) - 1
	case models.IncidentUnmaskVote:
		t.Eligible = len(m.Agents) - 2
	}
	return t
}

// ImpossibleDecided reports whether the feasibility vote has a verdict:
// a strict majority either way, or all ballots in and not tied.
func (t IncidentTally) ImpossibleDecided() (wasImpossible, decided bool) {
	if t.Impossible > t.Eligible/2 {
		return true, true
	}
	if t.Feasible > t.Eligible/2 {
		return false, true
	}
	if t.Cast >= t.Eligible && t.Impossible != t.Feasible {
		return t.Impossible > t.Feasible, true
	}
	return false, false
}

// UnmaskDecided reports whether the credibility vote has a verdict.
func (t IncidentTally) UnmaskDecided() (accuserRight, decided bool) {
	if t.Yes > t.Eligible/2 {
		return true, true
	}
	if t.No > t.Eligible/2 {
		return false, true
	}
	if t.Cast >= t.Eligible && t.Yes != t.No {
		return t.Yes > t.No, true
	}
	return false, false
}

// NeedsRoulette reports whether the unmask vote can only end by
// lottery: all ballots are in and tied, or there is nobody eligible to
// vote at all (2-agent missions).
func (t IncidentTally) NeedsRoulette() bool {
	if t.Eligible <= 0 {
		return true
	}
	return t.Cast >= t.Eligible && t.Yes == t.No
}
