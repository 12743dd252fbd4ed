package mission

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testPool(n int) []models.Challenge {
	pool := make([]models.Challenge, n)
	for i := range pool {
		id := strconv.Itoa(i + 1)
		pool[i] = models.Challenge{ID: id, Text: "challenge " + id, Category: "SOCIAL"}
	}
	return pool
}

type fixture struct {
	t    *testing.T
	mem  *store.Memory
	clk  *fakeClock
	pool []models.Challenge
	code string
}

// newFixture seeds a LOBBY mission and returns per-agent coordinators
// sharing one store and one fake clock, like peer devices do.
func newFixture(t *testing.T, poolSize int) *fixture {
	t.Helper()
	clk := newFakeClock()
	mem := store.NewMemory()
	mem.SetClock(clk.Now)
	code := "FOX-NINE-07"
	err := mem.Update(map[string]any{
		"missions/" + code + "/threatLevel": "AGENT",
		"missions/" + code + "/duration":    "45_MIN",
		"missions/" + code + "/protocol":    "SOCIAL",
		"missions/" + code + "/status":      string(models.StatusLobby),
		"missions/" + code + "/createdAt":   store.ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("seeding mission: %v", err)
	}
	return &fixture{t: t, mem: mem, clk: clk, pool: testPool(poolSize), code: code}
}

func (f *fixture) coordinator(id, name string, role models.Role) *Coordinator {
	f.t.Helper()
	c := New(f.mem, f.pool, f.code, Profile{ID: id, Codename: name, Avatar: "ghost"}, role, Options{
		Now:           f.clk.Now,
		Intn:          func(n int) int { return 0 },
		RouletteDelay: time.Millisecond,
	})
	if err := c.RegisterPresence(); err != nil {
		f.t.Fatalf("RegisterPresence(%s): %v", id, err)
	}
	return c
}

func (f *fixture) mission() models.Mission {
	f.t.Helper()
	v, ok := f.mem.Get("missions/" + f.code)
	if !ok {
		f.t.Fatal("mission vanished")
	}
	var m models.Mission
	if err := store.Decode(v, &m); err != nil {
		f.t.Fatalf("decoding mission: %v", err)
	}
	return m
}

func (f *fixture) agent(id string) *models.Agent {
	f.t.Helper()
	a := f.mission().Agents[id]
	if a == nil {
		f.t.Fatalf("agent %s not in roster", id)
	}
	return a
}

func (f *fixture) eventTypes() []models.EventType {
	var types []models.EventType
	for _, ev := range f.mission().Events {
		types = append(types, ev.Type)
	}
	return types
}

func (f *fixture) hasEvent(want models.EventType) bool {
	for _, ev := range f.eventTypes() {
		if ev == want {
			return true
		}
	}
	return false
}

// Starting a 3-agent mission deals distinct challenges and
// activates the mission.
func TestStartMissionAssignsDistinctChallenges(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	f.coordinator("a2", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)

	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	m := f.mission()
	if m.Status != models.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", m.Status)
	}
	if m.StartedAt == 0 {
		t.Fatal("startedAt not stamped")
	}

	seen := make(map[string]bool)
	for id, a := range m.Agents {
		if a.Challenge == nil || a.Challenge.Text == "" {
			t.Fatalf("agent %s has no challenge", id)
		}
		if seen[a.Challenge.ID] {
			t.Fatalf("challenge %s dealt twice", a.Challenge.ID)
		}
		seen[a.Challenge.ID] = true
	}
}

func TestStartMissionGuards(t *testing.T) {
	f := newFixture(t, 2)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	agent := f.coordinator("a2", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)

	if err := agent.StartMission(); err != ErrNotHost {
		t.Fatalf("agent start: got %v, want ErrNotHost", err)
	}
	// Pool of 2 cannot cover a roster of 3
	if err := host.StartMission(); err != ErrPoolExhausted {
		t.Fatalf("got %v, want ErrPoolExhausted", err)
	}

	f.pool = testPool(5)
	host = f.coordinator("h1", "GHOST", models.RoleHost)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}
	if err := host.StartMission(); err != ErrAlreadyStarted {
		t.Fatalf("second start: got %v, want ErrAlreadyStarted", err)
	}
}

// After completions and reassignments the dealt challenge ids stay
// distinct while the pool can cover the roster.
func TestReassignmentKeepsChallengesDistinct(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	f.coordinator("a2", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := host.CompleteChallenge("h1"); err != nil {
			t.Fatalf("CompleteChallenge: %v", err)
		}
		f.clk.Advance(validationWindow)
		if err := host.FinalizeChallengePoints("h1"); err != nil {
			t.Fatalf("FinalizeChallengePoints: %v", err)
		}
	}

	seen := make(map[string]bool)
	for id, a := range f.mission().Agents {
		if a.Challenge == nil {
			t.Fatalf("agent %s lost their challenge", id)
		}
		if seen[a.Challenge.ID] {
			t.Fatalf("challenge %s held twice", a.Challenge.ID)
		}
		seen[a.Challenge.ID] = true
	}
}

// Completing opens a validation window with a fresh
// challenge; finalizing scores once and only once.
func TestCompleteAndFinalize(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	f.coordinator("a2", "VIPER", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	before := f.agent("h1").Challenge.ID

	if err := host.CompleteChallenge("h1"); err != nil {
		t.Fatalf("CompleteChallenge: %v", err)
	}
	a := f.agent("h1")
	if a.PendingValidation == nil || a.PendingValidation.IsBluff {
		t.Fatalf("pendingValidation = %+v, want real claim", a.PendingValidation)
	}
	if a.Challenge.ID == before {
		t.Fatal("next challenge must be issued in the same write")
	}
	if !f.hasEvent(models.EventSuspect) {
		t.Fatal("SUSPECT event not emitted")
	}

	// A second claim while one is pending is rejected
	if err := host.CompleteChallenge("h1"); err != ErrValidationPending {
		t.Fatalf("got %v, want ErrValidationPending", err)
	}

	f.clk.Advance(validationWindow)
	if err := host.FinalizeChallengePoints("h1"); err != nil {
		t.Fatalf("FinalizeChallengePoints: %v", err)
	}
	if got := f.agent("h1").Score; got != 10 {
		t.Fatalf("score = %d, want 10", got)
	}
	if f.agent("h1").PendingValidation != nil {
		t.Fatal("window not cleared")
	}
	if !f.hasEvent(models.EventSuccess) {
		t.Fatal("SUCCESS event not emitted")
	}

	// A racing second finalize is a no-op
	if err := host.FinalizeChallengePoints("h1"); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if got := f.agent("h1").Score; got != 10 {
		t.Fatalf("score after double finalize = %d, want 10", got)
	}
}

func TestBluffFinalizesWithoutPoints(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	f.coordinator("a2", "VIPER", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	if err := host.TriggerBluff("h1"); err != nil {
		t.Fatalf("TriggerBluff: %v", err)
	}
	if pv := f.agent("h1").PendingValidation; pv == nil || !pv.IsBluff {
		t.Fatalf("pendingValidation = %+v, want bluff", pv)
	}

	f.clk.Advance(validationWindow)
	if err := host.FinalizeChallengePoints("h1"); err != nil {
		t.Fatalf("FinalizeChallengePoints: %v", err)
	}
	if got := f.agent("h1").Score; got != 0 {
		t.Fatalf("score = %d, bluffs must not score", got)
	}
	if !f.hasEvent(models.EventBluffSuccess) {
		t.Fatal("BLUFF_SUCCESS event not emitted")
	}
}

// A majority-IMPOSSIBLE verdict costs nothing and reissues
// the challenge.
func TestImpossibleChallengeMajorityImpossible(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	y := f.coordinator("y1", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)
	f.coordinator("a4", "CROW", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}
	before := f.agent("y1").Challenge.ID

	if err := y.ReportImpossibleChallenge("y1"); err != nil {
		t.Fatalf("ReportImpossibleChallenge: %v", err)
	}
	m := f.mission()
	if m.PausedAt == 0 {
		t.Fatal("incident must pause the timer")
	}
	if m.ActiveIncidentAgentID != "y1" {
		t.Fatalf("incident slot = %q, want y1", m.ActiveIncidentAgentID)
	}

	// A second incident while one is active is refused
	if err := host.ReportImpossibleChallenge("h1"); err != ErrIncidentActive {
		t.Fatalf("got %v, want ErrIncidentActive", err)
	}

	y.VoteIncident("y1", "h1", models.VoteImpossible)
	y.VoteIncident("y1", "a3", models.VoteImpossible)
	y.VoteIncident("y1", "a4", models.VoteFeasible)

	tally := TallyIncident(ptr(f.mission()), "y1")
	wasImpossible, decided := tally.ImpossibleDecided()
	if !decided || !wasImpossible {
		t.Fatalf("tally %+v: decided=%v wasImpossible=%v", tally, decided, wasImpossible)
	}

	if err := y.ResolveImpossibleChallenge("y1", true); err != nil {
		t.Fatalf("ResolveImpossibleChallenge: %v", err)
	}
	a := f.agent("y1")
	if a.Score != 0 {
		t.Fatalf("score = %d, impossible verdict carries no penalty", a.Score)
	}
	if a.Incident != nil {
		t.Fatal("incident not cleared")
	}
	if a.Challenge == nil || a.Challenge.ID == before {
		t.Fatal("fresh challenge not issued")
	}
	m = f.mission()
	if m.PausedAt != 0 || m.ActiveIncidentAgentID != "" {
		t.Fatalf("timer/claim not released: pausedAt=%d slot=%q", m.PausedAt, m.ActiveIncidentAgentID)
	}
}

func TestImpossibleChallengeMajorityFeasible(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	y := f.coordinator("y1", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	if err := y.ReportImpossibleChallenge("y1"); err != nil {
		t.Fatalf("ReportImpossibleChallenge: %v", err)
	}
	y.VoteIncident("y1", "h1", models.VoteFeasible)
	y.VoteIncident("y1", "a3", models.VoteFeasible)

	if err := y.ResolveImpossibleChallenge("y1", false); err != nil {
		t.Fatalf("ResolveImpossibleChallenge: %v", err)
	}
	if got := f.agent("y1").Score; got != -10 {
		t.Fatalf("score = %d, want -10 for a feasible challenge", got)
	}
	// A stale second resolve must change nothing
	if err := y.ResolveImpossibleChallenge("y1", false); err != nil {
		t.Fatalf("stale resolve: %v", err)
	}
	if got := f.agent("y1").Score; got != -10 {
		t.Fatalf("score after stale resolve = %d, want -10", got)
	}
}

// A confession swings scores and preserves remaining
// mission time exactly.
func TestConfessionAndPauseConservation(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	target := f.coordinator("t1", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}
	startedBefore := f.mission().StartedAt
	challengeBefore := f.agent("t1").Challenge.ID

	if err := host.UnmaskAgent("t1", "h1"); err != nil {
		t.Fatalf("UnmaskAgent: %v", err)
	}
	pausedAt := f.mission().PausedAt
	if pausedAt == 0 {
		t.Fatal("accusation must pause the timer")
	}
	inc := f.agent("t1").Incident
	if inc == nil || inc.Type != models.IncidentUnmaskPrompt || inc.UnmaskerID != "h1" {
		t.Fatalf("incident = %+v", inc)
	}

	f.clk.Advance(17 * time.Second)
	if err := target.RespondToUnmask("t1", true); err != nil {
		t.Fatalf("RespondToUnmask: %v", err)
	}

	m := f.mission()
	if got := m.Agents["t1"].Score; got != -10 {
		t.Fatalf("accused score = %d, want -10", got)
	}
	if got := m.Agents["h1"].Score; got != 10 {
		t.Fatalf("accuser score = %d, want 10", got)
	}
	if m.Agents["t1"].Incident != nil {
		t.Fatal("incident not cleared")
	}
	if m.Agents["t1"].Challenge.ID == challengeBefore {
		t.Fatal("confessed agent must receive a fresh challenge")
	}
	if !f.hasEvent(models.EventUnmasked) {
		t.Fatal("UNMASKED event not emitted")
	}

	// startedAt advanced by exactly the pause duration
	resolutionTime := f.clk.Now().UnixMilli()
	wantShift := resolutionTime - pausedAt
	if got := m.StartedAt - startedBefore; got != wantShift {
		t.Fatalf("startedAt shifted by %d, want %d", got, wantShift)
	}
	if m.PausedAt != 0 {
		t.Fatal("pausedAt not cleared")
	}
}

func TestDenialMovesToVoteAndMajorityResolves(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	target := f.coordinator("t1", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)
	f.coordinator("a4", "CROW", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	if err := host.UnmaskAgent("t1", "h1"); err != nil {
		t.Fatalf("UnmaskAgent: %v", err)
	}
	if err := target.RespondToUnmask("t1", false); err != nil {
		t.Fatalf("RespondToUnmask: %v", err)
	}
	inc := f.agent("t1").Incident
	if inc == nil || inc.Type != models.IncidentUnmaskVote {
		t.Fatalf("incident = %+v, want UNMASK_VOTE", inc)
	}
	if f.mission().PausedAt == 0 {
		t.Fatal("timer must stay paused through the vote")
	}

	// Accused and accuser may not vote
	if err := host.VoteIncident("t1", "t1", models.VoteYes); err != ErrIneligibleVoter {
		t.Fatalf("accused vote: got %v", err)
	}
	if err := host.VoteIncident("t1", "h1", models.VoteYes); err != ErrIneligibleVoter {
		t.Fatalf("accuser vote: got %v", err)
	}

	host.VoteIncident("t1", "a3", models.VoteNo)
	host.VoteIncident("t1", "a4", models.VoteNo)

	tally := TallyIncident(ptr(f.mission()), "t1")
	accuserRight, decided := tally.UnmaskDecided()
	if !decided || accuserRight {
		t.Fatalf("tally %+v: decided=%v accuserRight=%v", tally, decided, accuserRight)
	}

	if err := host.ResolveUnmaskVote("t1", false); err != nil {
		t.Fatalf("ResolveUnmaskVote: %v", err)
	}
	m := f.mission()
	if got := m.Agents["t1"].Score; got != 10 {
		t.Fatalf("accused score = %d, want 10 after failed unmask", got)
	}
	if got := m.Agents["h1"].Score; got != -10 {
		t.Fatalf("accuser score = %d, want -10 after failed unmask", got)
	}
	if !f.hasEvent(models.EventFailedUnmask) {
		t.Fatal("FAILED_UNMASK event not emitted")
	}
	if m.Agents["t1"].Incident != nil || m.PausedAt != 0 {
		t.Fatal("incident/pause not cleared")
	}
}

// With zero eligible voters the accuser's client runs the
// roulette immediately instead of waiting for votes that cannot arrive.
func TestTwoAgentUnmaskGoesStraightToRoulette(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	target := f.coordinator("t1", "VIPER", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}

	if err := host.UnmaskAgent("t1", "h1"); err != nil {
		t.Fatalf("UnmaskAgent: %v", err)
	}
	if err := target.RespondToUnmask("t1", false); err != nil {
		t.Fatalf("RespondToUnmask: %v", err)
	}

	// The accuser's duty loop draws the lottery first...
	m := f.mission()
	host.incidentDuty(&m)
	inc := f.agent("t1").Incident
	if inc == nil || inc.RouletteWinnerID == "" {
		t.Fatalf("incident = %+v, want a roulette winner", inc)
	}
	// ...with Intn forced to 0 the accuser wins
	if inc.RouletteWinnerID != "h1" {
		t.Fatalf("winner = %s, want h1", inc.RouletteWinnerID)
	}

	// The next pass schedules the resolution after the animation window
	m = f.mission()
	host.incidentDuty(&m)
	waitFor(t, func() bool {
		return f.mission().Agents["t1"].Incident == nil
	})

	final := f.mission()
	if got := final.Agents["t1"].Score; got != -10 {
		t.Fatalf("accused score = %d, want -10", got)
	}
	if got := final.Agents["h1"].Score; got != 10 {
		t.Fatalf("accuser score = %d, want 10", got)
	}
	if final.PausedAt != 0 || final.ActiveIncidentAgentID != "" {
		t.Fatal("timer/claim not released after roulette")
	}
}

// A tied vote with all ballots in also falls to the roulette, and the
// scheduled resolution fires exactly once despite repeated duty passes.
func TestTiedVoteRouletteResolvesOnce(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	target := f.coordinator("t1", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)
	f.coordinator("a4", "CROW", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}
	host.UnmaskAgent("t1", "h1")
	target.RespondToUnmask("t1", false)
	host.VoteIncident("t1", "a3", models.VoteYes)
	host.VoteIncident("t1", "a4", models.VoteNo)

	m := f.mission()
	host.incidentDuty(&m)
	m = f.mission()
	host.incidentDuty(&m)
	host.incidentDuty(&m)
	waitFor(t, func() bool {
		return f.mission().Agents["t1"].Incident == nil
	})

	// One ±10 swing, not several
	final := f.mission()
	if got := final.Agents["h1"].Score; got != 10 {
		t.Fatalf("accuser score = %d, want exactly one +10 swing", got)
	}
	if got := final.Agents["t1"].Score; got != -10 {
		t.Fatalf("accused score = %d, want exactly one -10 swing", got)
	}
}

func TestSelfUnmaskRejected(t *testing.T) {
	f := newFixture(t, 15)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	if err := host.UnmaskAgent("h1", "h1"); err != ErrSelfUnmask {
		t.Fatalf("got %v, want ErrSelfUnmask", err)
	}
}

func TestLeaverFreesChallengeBackIntoPool(t *testing.T) {
	f := newFixture(t, 3)
	host := f.coordinator("h1", "GHOST", models.RoleHost)
	f.coordinator("a2", "VIPER", models.RoleAgent)
	f.coordinator("a3", "RAVEN", models.RoleAgent)
	if err := host.StartMission(); err != nil {
		t.Fatalf("StartMission: %v", err)
	}
	freed := f.agent("a3").Challenge.ID
	f.mem.Delete("missions/" + f.code + "/agents/a3")

	// With the pool fully dealt, the leaver's challenge is the only one
	// available for reassignment.
	if err := host.CompleteChallenge("h1"); err != nil {
		t.Fatalf("CompleteChallenge: %v", err)
	}
	if got := f.agent("h1").Challenge.ID; got != freed {
		t.Fatalf("reassigned %s, want the freed challenge %s", got, freed)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func ptr(m models.Mission) *models.Mission { return &m }
