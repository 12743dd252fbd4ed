package mission

import (
	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/store"
)

// CompleteChallenge claims the agent's current challenge as done. The
// next challenge is issued in the same write so observers only see that
// something is pending, and a 60s validation window opens for peers to
// contest the claim.
func (c *Coordinator) CompleteChallenge(agentID string) error {
	return c.openValidation(agentID, false)
}

// TriggerBluff opens the same validation window without an actual
// completion, baiting other agents into wasting an unmask attempt.
func (c *Coordinator) TriggerBluff(agentID string) error {
	return c.openValidation(agentID, true)
}

func (c *Coordinator) openValidation(agentID string, isBluff bool) error {
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
	if a.Incident != nil {
		return ErrIncidentActive
	}

	next := c.nextChallenge(&m)
	err = c.st.Update(map[string]any{
		c.agentPath(agentID) + "/challenge": next,
		c.agentPath(agentID) + "/pendingValidation": map[string]any{
			"startedAt": c.nowMillis(),
			"isBluff":   isBluff,
		},
	})
	if err != nil {
		return err
	}
	c.appendEvent(models.EventSuspect, agentID, a.Name, "", 0, "")
	return nil
}

// FinalizeChallengePoints closes an expired validation window: real
// completions score, bluffs just log their success. Every client's
// ticker races to call this; whoever loses finds the window already
// cleared and no-ops.
func (c *Coordinator) FinalizeChallengePoints(agentID string) error {
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	a := m.Agents[agentID]
	if a == nil || a.PendingValidation == nil {
		return nil
	}
	pv := a.PendingValidation

	writes := map[string]any{
		c.agentPath(agentID) + "/pendingValidation": nil,
	}
	if !pv.IsBluff {
		writes[c.agentPath(agentID)+"/score"] = store.Increment(completionPoints)
	}
	if err := c.st.Update(writes); err != nil {
		return err
	}
	if pv.IsBluff {
		c.appendEvent(models.EventBluffSuccess, agentID, a.Name, "", 0, "")
	} else {
		c.appendEvent(models.EventSuccess, agentID, a.Name, "", completionPoints, "")
	}
	return nil
}
