package mission

import (
	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/store"
)

// ReportImpossibleChallenge raises an IMPOSSIBLE incident on the
// agent's own challenge, claiming the mission-wide incident slot and
// pausing the timer.
func (c *Coordinator) ReportImpossibleChallenge(agentID string) error {
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissionNotFound
	}
	a := m.Agents[agentID]
	if a == nil {
		return ErrUnknownAgent
	}
	if a.PendingValidation != nil {
		return ErrValidationPending
	}
	if a.Incident != nil || m.ActiveIncidentAgentID != "" {
		return ErrIncidentActive
	}

	writes := map[string]any{
		c.missionPath() + "/activeIncidentAgentId": agentID,
		c.incidentPath(agentID): map[string]any{
			"type":       string(models.IncidentImpossible),
			"reportedAt": store.ServerTimestamp,
		},
	}
	c.pause(writes)
	return c.st.Update(writes)
}

// VoteIncident casts one ballot on the target's active incident.
// Overwriting an earlier ballot from the same voter is allowed.
func (c *Coordinator) VoteIncident(targetID, voterID string, vote models.Vote) error {
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissionNotFound
	}
	a := m.Agents[targetID]
	if a == nil {
		return ErrUnknownAgent
	}
	inc := a.Incident
	if inc == nil {
		// Resolved under us; the ballot no longer matters.
		return nil
	}
	if voterID == targetID || (inc.Type == models.IncidentUnmaskVote && voterID == inc.UnmaskerID) {
		return ErrIneligibleVoter
	}
	return c.st.Set(c.incidentPath(targetID)+"/votes/"+voterID, string(vote))
}

// ResolveImpossibleChallenge applies the verdict on an IMPOSSIBLE
// incident. By convention only the reporting agent's own client calls
// this; a stale call against a cleared incident is a no-op.
func (c *Coordinator) ResolveImpossibleChallenge(agentID string, wasActuallyImpossible bool) error {
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	a := m.Agents[agentID]
	if a == nil || a.Incident == nil || a.Incident.Type != models.IncidentImpossible {
		return nil
	}

	writes := map[string]any{
		c.incidentPath(agentID):                    nil,
		c.missionPath() + "/activeIncidentAgentId": nil,
		c.agentPath(agentID) + "/challenge":        c.nextChallenge(&m),
	}
	if !wasActuallyImpossible {
		writes[c.agentPath(agentID)+"/score"] = store.Increment(-completionPoints)
	}
	c.resume(&m, writes)
	return c.st.Update(writes)
}

// UnmaskAgent accuses targetID of secretly having completed (or
// bluffed) their challenge. Claims the incident slot, pauses the timer
// and puts the accused on the spot.
func (c *Coordinator) UnmaskAgent(targetID, accuserID string) error {
	if targetID == accuserID {
		return ErrSelfUnmask
	}
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissionNotFound
	}
	target := m.Agents[targetID]
	accuser := m.Agents[accuserID]
	if target == nil || accuser == nil {
		return ErrUnknownAgent
	}
	if target.Incident != nil || m.ActiveIncidentAgentID != "" {
		return ErrIncidentActive
	}

	writes := map[string]any{
		c.missionPath() + "/activeIncidentAgentId": targetID,
		c.incidentPath(targetID): map[string]any{
			"type":         string(models.IncidentUnmaskPrompt),
			"reportedAt":   store.ServerTimestamp,
			"unmaskerId":   accuserID,
			"unmaskerName": accuser.Name,
		},
	}
	c.pause(writes)
	if err := c.st.Update(writes); err != nil {
		return err
	}
	c.appendEvent(models.EventSuspect, accuserID, accuser.Name, target.Name, 0, "")
	return nil
}

// RespondToUnmask is the accused's answer to an UNMASK_PROMPT.
// Confessing settles the accusation immediately; denying hands it to a
// peer vote with the timer still paused.
func (c *Coordinator) RespondToUnmask(targetID string, isCorrect bool) error {
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	target := m.Agents[targetID]
	if target == nil || target.Incident == nil || target.Incident.Type != models.IncidentUnmaskPrompt {
		return nil
	}
	if isCorrect {
		return c.applyUnmaskOutcome(&m, targetID, true)
	}
	// In-place transition: the prompt becomes a vote with an empty
	// ballot box.
	return c.st.Set(c.incidentPath(targetID)+"/type", string(models.IncidentUnmaskVote))
}

// ResolveUnmaskVote applies the verdict on an UNMASK_VOTE, whether it
// came from a peer majority or the roulette tie-break. By convention
// only the accuser's client calls this.
func (c *Coordinator) ResolveUnmaskVote(targetID string, wasActuallyCorrect bool) error {
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	target := m.Agents[targetID]
	if target == nil || target.Incident == nil || target.Incident.Type != models.IncidentUnmaskVote {
		return nil
	}
	return c.applyUnmaskOutcome(&m, targetID, wasActuallyCorrect)
}

// TriggerRouletteTirage breaks a tied (or voterless) unmask vote by
// picking a winner uniformly between accuser and accused and storing it
// on the incident for every client to observe.
func (c *Coordinator) TriggerRouletteTirage(targetID, accuserID string) error {
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	target := m.Agents[targetID]
	if target == nil || target.Incident == nil || target.Incident.Type != models.IncidentUnmaskVote {
		return nil
	}
	if target.Incident.RouletteWinnerID != "" {
		return nil
	}
	winner := accuserID
	if c.intn(2) == 1 {
		winner = targetID
	}
	return c.st.Set(c.incidentPath(targetID)+"/rouletteWinnerId", winner)
}

// applyUnmaskOutcome settles an accusation either way: clears the
// incident and its mission-wide claim, resumes the timer, swings the
// score by ±10 and logs the verdict. A confirmed accusation also hands
// the accused a fresh challenge and voids their in-flight claim, since
// it referred to the challenge being replaced.
func (c *Coordinator) applyUnmaskOutcome(m *models.Mission, targetID string, accuserRight bool) error {
	target := m.Agents[targetID]
	inc := target.Incident

	writes := map[string]any{
		c.incidentPath(targetID):                   nil,
		c.missionPath() + "/activeIncidentAgentId": nil,
	}
	c.resume(m, writes)

	if accuserRight {
		writes[c.agentPath(targetID)+"/score"] = store.Increment(-completionPoints)
		writes[c.agentPath(targetID)+"/challenge"] = c.nextChallenge(m)
		writes[c.agentPath(targetID)+"/pendingValidation"] = nil
		if m.Agents[inc.UnmaskerID] != nil {
			writes[c.agentPath(inc.UnmaskerID)+"/score"] = store.Increment(completionPoints)
		}
	} else {
		writes[c.agentPath(targetID)+"/score"] = store.Increment(completionPoints)
		if m.Agents[inc.UnmaskerID] != nil {
			writes[c.agentPath(inc.UnmaskerID)+"/score"] = store.Increment(-completionPoints)
		}
	}
	if err := c.st.Update(writes); err != nil {
		return err
	}

	if accuserRight {
		c.appendEvent(models.EventUnmasked, inc.UnmaskerID, inc.UnmaskerName, target.Name, completionPoints, "")
	} else {
		c.appendEvent(models.EventFailedUnmask, inc.UnmaskerID, inc.UnmaskerName, target.Name, -completionPoints, "")
	}
	return nil
}
