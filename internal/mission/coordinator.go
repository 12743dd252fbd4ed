// Package mission implements the mission state machine. Every
// participating client runs an identical Coordinator against the shared
// store; there is no central arbiter, so every operation re-reads
// current state, computes a deterministic update and writes it
// atomically. All transitions are safe to execute twice.
package mission

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/store"
)

var (
	ErrMissionNotFound   = errors.New("mission: not found")
	ErrNotHost           = errors.New("mission: only the host can do that")
	ErrAlreadyStarted    = errors.New("mission: already started")
	ErrEmptyRoster       = errors.New("mission: no agents in roster")
	ErrPoolExhausted     = errors.New("mission: challenge pool smaller than roster")
	ErrUnknownAgent      = errors.New("mission: unknown agent")
	ErrValidationPending = errors.New("mission: validation already pending")
	ErrIncidentActive    = errors.New("mission: an incident is already active")
	ErrSelfUnmask        = errors.New("mission: cannot unmask yourself")
	ErrIneligibleVoter   = errors.New("mission: voter is not eligible for this incident")
)

const (
	// validationWindow is how long a completion claim stays pending
	// before any client finalizes it.
	validationWindow = 60 * time.Second

	// heartbeatInterval refreshes the presence lease.
	heartbeatInterval = 15 * time.Second

	// defaultRouletteDelay covers the 4s spin plus 2s hold every client
	// plays before the designated resolver applies the outcome.
	defaultRouletteDelay = 6 * time.Second

	// completionPoints is the score swing for completions, confessions
	// and failed accusations alike.
	completionPoints = 10
)

// Profile identifies the local participant.
type Profile struct {
	ID       string
	Codename string
	Avatar   string
}

// NewProfile creates a profile with a fresh stable identifier.
func NewProfile(codename, avatar string) Profile {
	return Profile{ID: uuid.NewString(), Codename: codename, Avatar: avatar}
}

// Options tune a Coordinator; zero values pick production defaults.
type Options struct {
	Now           func() time.Time
	Intn          func(n int) int
	RouletteDelay time.Duration
}

// Coordinator drives one client's view of a mission.
type Coordinator struct {
	st   store.Store
	pool []models.Challenge
	code string
	self Profile
	role models.Role

	now           func() time.Time
	intn          func(n int) int
	rouletteDelay time.Duration

	mu            sync.Mutex
	cur           models.Mission
	hasCur        bool
	processed     map[string]bool
	lastHeartbeat time.Time
}

// New binds a coordinator to a mission code on st.
func New(st store.Store, pool []models.Challenge, code string, self Profile, role models.Role, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Intn == nil {
		opts.Intn = rand.Intn
	}
	if opts.RouletteDelay == 0 {
		opts.RouletteDelay = defaultRouletteDelay
	}
	return &Coordinator{
		st:            st,
		pool:          pool,
		code:          code,
		self:          self,
		role:          role,
		now:           opts.Now,
		intn:          opts.Intn,
		rouletteDelay: opts.RouletteDelay,
		processed:     make(map[string]bool),
	}
}

func (c *Coordinator) missionPath() string {
	return "missions/" + c.code
}

func (c *Coordinator) agentPath(agentID string) string {
	return c.missionPath() + "/agents/" + agentID
}

func (c *Coordinator) incidentPath(agentID string) string {
	return c.agentPath(agentID) + "/incident"
}

func (c *Coordinator) nowMillis() int64 {
	return c.now().UnixMilli()
}

// readMission fetches the full current mission state. Branching
// operations always start here rather than from cached state.
func (c *Coordinator) readMission() (models.Mission, bool, error) {
	v, ok := c.st.Get(c.missionPath())
	if !ok {
		return models.Mission{}, false, nil
	}
	var m models.Mission
	if err := store.Decode(v, &m); err != nil {
		return models.Mission{}, false, fmt.Errorf("decoding mission %s: %w", c.code, err)
	}
	return m, true, nil
}

// RegisterPresence writes the local agent's roster entry and arms its
// removal for when this connection drops.
func (c *Coordinator) RegisterPresence() error {
	base := c.agentPath(c.self.ID)
	err := c.st.Update(map[string]any{
		base + "/name":     c.self.Codename,
		base + "/avatar":   c.self.Avatar,
		base + "/status":   string(models.AgentReady),
		base + "/lastSeen": store.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("registering presence: %w", err)
	}
	c.st.OnDisconnectDelete(base)
	c.mu.Lock()
	c.lastHeartbeat = c.now()
	c.mu.Unlock()
	return nil
}

// Heartbeat refreshes the presence lease.
func (c *Coordinator) Heartbeat() error {
	return c.st.Set(c.agentPath(c.self.ID)+"/lastSeen", store.ServerTimestamp)
}

// StartMission shuffles the pool and deals one unique challenge per
// agent, then flips the mission to ACTIVE in the same atomic update.
// Host only.
func (c *Coordinator) StartMission() error {
	if c.role != models.RoleHost {
		return ErrNotHost
	}
	m, ok, err := c.readMission()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissionNotFound
	}
	if m.Status != models.StatusLobby {
		return ErrAlreadyStarted
	}
	ids := sortedAgentIDs(&m)
	if len(ids) == 0 {
		return ErrEmptyRoster
	}
	if len(c.pool) < len(ids) {
		return ErrPoolExhausted
	}

	shuffled := make([]models.Challenge, len(c.pool))
	copy(shuffled, c.pool)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := c.intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	writes := map[string]any{
		c.missionPath() + "/status":    string(models.StatusActive),
		c.missionPath() + "/startedAt": store.ServerTimestamp,
	}
	for i, id := range ids {
		writes[c.agentPath(id)+"/challenge"] = shuffled[i]
	}
	return c.st.Update(writes)
}

// AbortMission tears the mission down entirely. Host only.
func (c *Coordinator) AbortMission() error {
	if c.role != models.RoleHost {
		return ErrNotHost
	}
	return c.st.Delete(c.missionPath())
}

// nextChallenge draws uniformly from the pool entries no agent
// currently holds. Recomputing availability from global state means a
// leaver's challenge goes straight back into circulation. When every
// entry is in someone's hand the draw degrades to the pool's first
// entry rather than failing.
func (c *Coordinator) nextChallenge(m *models.Mission) models.Challenge {
	held := make(map[string]bool)
	for _, a := range m.Agents {
		if a != nil && a.Challenge != nil {
			held[a.Challenge.ID] = true
		}
	}
	var available []models.Challenge
	for _, ch := range c.pool {
		if !held[ch.ID] {
			available = append(available, ch)
		}
	}
	if len(available) == 0 {
		return c.pool[0]
	}
	return available[c.intn(len(available))]
}

// pause stamps pausedAt; every incident freezes the shared timer.
func (c *Coordinator) pause(writes map[string]any) {
	writes[c.missionPath()+"/pausedAt"] = store.ServerTimestamp
}

// resume clears pausedAt and shifts startedAt forward by the pause
// length, so arbitration time never counts against the agents.
func (c *Coordinator) resume(m *models.Mission, writes map[string]any) {
	if m.PausedAt <= 0 {
		return
	}
	pauseLen := c.nowMillis() - m.PausedAt
	if pauseLen > 0 {
		writes[c.missionPath()+"/startedAt"] = store.Increment(int(pauseLen))
	}
	writes[c.missionPath()+"/pausedAt"] = nil
}

func (c *Coordinator) appendEvent(ev models.EventType, agentID, agentName, targetName string, points int, missionText string) {
	entry := map[string]any{
		"type":      string(ev),
		"agentId":   agentID,
		"agentName": agentName,
		"points":    points,
		"timestamp": store.ServerTimestamp,
	}
	if targetName != "" {
		entry["targetName"] = targetName
	}
	if missionText != "" {
		entry["missionText"] = missionText
	}
	if err := c.st.Set(c.missionPath()+"/events/"+uuid.NewString(), entry); err != nil {
		// Events are observational only; a failed append never fails
		// the transition that produced it.
		log.Printf("mission: appending %s event: %v", ev, err)
	}
}

func sortedAgentIDs(m *models.Mission) []string {
	ids := make([]string, 0, len(m.Agents))
	for id := range m.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
