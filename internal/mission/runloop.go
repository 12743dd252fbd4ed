package mission

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/store"
)

// Run subscribes to the mission subtree and drives this client's share
// of the shared duties: expiring validation windows, refreshing the
// presence lease, and closing out votes and roulette draws when this
// client is the designated resolver. Blocks until ctx is done or the
// store subscription ends.
func (c *Coordinator) Run(ctx context.Context) error {
	snaps, cancel := c.st.Watch(c.missionPath())
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			c.applySnapshot(snap)
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Coordinator) applySnapshot(snap store.Snapshot) {
	if snap.Value == nil {
		c.mu.Lock()
		c.hasCur = false
		c.cur = models.Mission{}
		c.mu.Unlock()
		return
	}
	var m models.Mission
	if err := store.Decode(snap.Value, &m); err != nil {
		log.Printf("mission: bad snapshot for %s: %v", c.code, err)
		return
	}
	c.mu.Lock()
	c.cur = m
	c.hasCur = true
	c.mu.Unlock()

	c.runDuties(&m)
}

func (c *Coordinator) tick() {
	m, ok, err := c.readMission()
	if err != nil {
		log.Printf("mission: tick read: %v", err)
		return
	}
	if !ok {
		return
	}
	c.runDuties(&m)

	// Refreshing lastSeen for an agent no longer in the roster would
	// resurrect a partial entry, so only lease while registered.
	if m.Agents[c.self.ID] == nil {
		return
	}
	c.mu.Lock()
	due := c.now().Sub(c.lastHeartbeat) >= heartbeatInterval
	if due {
		c.lastHeartbeat = c.now()
	}
	c.mu.Unlock()
	if due {
		if err := c.Heartbeat(); err != nil {
			log.Printf("mission: heartbeat: %v", err)
		}
	}
}

// runDuties executes every shared responsibility that is safe for all
// clients to attempt, plus the ones this client is designated for.
func (c *Coordinator) runDuties(m *models.Mission) {
	if m.Status == models.StatusActive {
		c.finalizeExpired(m)
	}
	c.incidentDuty(m)
}

// finalizeExpired closes validation windows past the 60s threshold.
// All clients run this redundantly; FinalizeChallengePoints no-ops for
// everyone after the first.
func (c *Coordinator) finalizeExpired(m *models.Mission) {
	nowMs := c.nowMillis()
	for id, a := range m.Agents {
		if a == nil || a.PendingValidation == nil {
			continue
		}
		if nowMs-a.PendingValidation.StartedAt >= validationWindow.Milliseconds() {
			if err := c.FinalizeChallengePoints(id); err != nil {
				log.Printf("mission: finalize for %s: %v", id, err)
			}
		}
	}
}

// incidentDuty handles the designated-resolver side of incident votes:
// the subject resolves their own impossible report, the accuser
// resolves unmask votes and roulette draws. That single-resolver
// convention is what keeps two clients from double-applying a verdict.
func (c *Coordinator) incidentDuty(m *models.Mission) {
	targetID, target := m.IncidentAgent()
	if target == nil {
		return
	}
	inc := target.Incident
	t := TallyIncident(m, targetID)

	switch inc.Type {
	case models.IncidentImpossible:
		if targetID != c.self.ID {
			return
		}
		if wasImpossible, decided := t.ImpossibleDecided(); decided {
			if err := c.ResolveImpossibleChallenge(targetID, wasImpossible); err != nil {
				log.Printf("mission: resolve impossible: %v", err)
			}
		}

	case models.IncidentUnmaskVote:
		if inc.UnmaskerID != c.self.ID {
			return
		}
		if accuserRight, decided := t.UnmaskDecided(); decided {
			if err := c.ResolveUnmaskVote(targetID, accuserRight); err != nil {
				log.Printf("mission: resolve unmask vote: %v", err)
			}
			return
		}
		if !t.NeedsRoulette() {
			return
		}
		if inc.RouletteWinnerID == "" {
			if err := c.TriggerRouletteTirage(targetID, inc.UnmaskerID); err != nil {
				log.Printf("mission: roulette draw: %v", err)
			}
			return
		}
		// Let every client's spin animation play out before the
		// designated resolver applies the stored outcome, exactly once
		// per incident.
		key := fmt.Sprintf("%s-%d", targetID, inc.ReportedAt)
		if !c.markProcessed(key) {
			return
		}
		winner, unmasker := inc.RouletteWinnerID, inc.UnmaskerID
		time.AfterFunc(c.rouletteDelay, func() {
			if err := c.ResolveUnmaskVote(targetID, winner == unmasker); err != nil {
				log.Printf("mission: resolve roulette: %v", err)
			}
		})
	}
}

func (c *Coordinator) markProcessed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processed[key] {
		return false
	}
	c.processed[key] = true
	return true
}

// Mission returns the last observed mission state.
func (c *Coordinator) Mission() (models.Mission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur, c.hasCur
}

// EventEntry pairs a log entry with its store key.
type EventEntry struct {
	ID string
	models.MissionEvent
}

// Events returns the observed event log ordered by timestamp, for
// presentation toasts.
func (c *Coordinator) Events() []EventEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]EventEntry, 0, len(c.cur.Events))
	for id, ev := range c.cur.Events {
		if ev != nil {
			entries = append(entries, EventEntry{ID: id, MissionEvent: *ev})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
	return entries
}

// TimeRemaining reports the countdown left on the mission clock. The
// second return is false for INFINITE missions and before start. While
// an incident holds the timer paused the remaining time is frozen at
// the pause instant.
func (c *Coordinator) TimeRemaining() (time.Duration, bool) {
	c.mu.Lock()
	m, ok := c.cur, c.hasCur
	c.mu.Unlock()
	if !ok || m.StartedAt == 0 {
		return 0, false
	}
	total := models.ParseMissionDuration(m.Duration)
	if total == 0 {
		return 0, false
	}
	ref := c.nowMillis()
	if m.PausedAt > 0 {
		ref = m.PausedAt
	}
	remaining := total - time.Duration(ref-m.StartedAt)*time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
