package session

import (
	"path/filepath"
	"testing"

	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/store"
)

func newManager(t *testing.T) (*Manager, *store.Memory, string) {
	t.Helper()
	mem := store.NewMemory()
	path := filepath.Join(t.TempDir(), "identity.json")
	m, err := NewManager(mem, path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, mem, path
}

var testConfig = models.MissionConfig{
	ThreatLevel: "AGENT",
	Duration:    "45_MIN",
	Protocol:    "SOCIAL",
}

func TestCreateSessionWritesMissionRoot(t *testing.T) {
	m, mem, _ := newManager(t)

	if err := m.CreateSession("SHADOW-FOX-42", testConfig); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	v, ok := mem.Get("missions/SHADOW-FOX-42")
	if !ok {
		t.Fatal("mission root not written")
	}
	var mission models.Mission
	if err := store.Decode(v, &mission); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if mission.Status != models.StatusLobby {
		t.Fatalf("status = %s, want LOBBY", mission.Status)
	}
	if mission.ThreatLevel != "AGENT" || mission.Duration != "45_MIN" {
		t.Fatalf("config not persisted: %+v", mission)
	}

	ident := m.Identity()
	if ident == nil || ident.Role != models.RoleHost || ident.Code != "SHADOW-FOX-42" {
		t.Fatalf("identity = %+v, want host of SHADOW-FOX-42", ident)
	}
}

func TestJoinSessionMissingMission(t *testing.T) {
	m, _, _ := newManager(t)

	ok, err := m.JoinSession("GHOST-WOLF-99")
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if ok {
		t.Fatal("joining a nonexistent mission must return false")
	}
	if m.Identity() != nil {
		t.Fatal("failed join must not persist an identity")
	}
}

func TestCheckSessionExists(t *testing.T) {
	m, _, _ := newManager(t)
	m.CreateSession("IRON-HAWK-01", testConfig)

	if !m.CheckSessionExists("iron-hawk-01") {
		t.Fatal("existence probe should normalize the code")
	}
	if m.CheckSessionExists("VOID-STAR-00") {
		t.Fatal("probe found a mission that was never created")
	}
}

func TestHostNeverDowngradedByStaleJoin(t *testing.T) {
	m, _, _ := newManager(t)
	m.CreateSession("NEON-BEAR-17", testConfig)

	ok, err := m.JoinSession("NEON-BEAR-17")
	if err != nil || !ok {
		t.Fatalf("JoinSession: ok=%v err=%v", ok, err)
	}
	if ident := m.Identity(); ident.Role != models.RoleHost {
		t.Fatalf("role = %s, host must not be downgraded", ident.Role)
	}
}

func TestJoinAsAgent(t *testing.T) {
	host, mem, _ := newManager(t)
	host.CreateSession("DARK-MOON-55", testConfig)

	agentPath := filepath.Join(t.TempDir(), "identity.json")
	agent, err := NewManager(mem, agentPath)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ok, err := agent.JoinSession("DARK-MOON-55")
	if err != nil || !ok {
		t.Fatalf("JoinSession: ok=%v err=%v", ok, err)
	}
	if ident := agent.Identity(); ident.Role != models.RoleAgent {
		t.Fatalf("role = %s, want AGENT", ident.Role)
	}
}

func TestClearSessionHostGarbageCollectsEmptyMission(t *testing.T) {
	m, mem, _ := newManager(t)
	m.CreateSession("ECHO-SNAKE-23", testConfig)
	mem.Set("missions/ECHO-SNAKE-23/agents/host-1/name", "GHOST")

	if err := m.ClearSession("host-1"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, ok := mem.Get("missions/ECHO-SNAKE-23"); ok {
		t.Fatal("last host leaving an empty mission must remove the subtree")
	}
	if m.Identity() != nil {
		t.Fatal("local identity must be cleared")
	}
}

func TestClearSessionHostKeepsPopulatedMission(t *testing.T) {
	m, mem, _ := newManager(t)
	m.CreateSession("OMEGA-SUN-08", testConfig)
	mem.Set("missions/OMEGA-SUN-08/agents/host-1/name", "GHOST")
	mem.Set("missions/OMEGA-SUN-08/agents/a2/name", "VIPER")

	if err := m.ClearSession("host-1"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, ok := mem.Get("missions/OMEGA-SUN-08"); !ok {
		t.Fatal("host leaving a populated mission must not destroy it")
	}
}

func TestClearSessionAgentNeverDestroysMission(t *testing.T) {
	host, mem, _ := newManager(t)
	host.CreateSession("ALPHA-STORM-77", testConfig)

	agent, err := NewManager(mem, filepath.Join(t.TempDir(), "identity.json"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	agent.JoinSession("ALPHA-STORM-77")
	mem.Set("missions/ALPHA-STORM-77/agents/a2/name", "VIPER")

	if err := agent.ClearSession("a2"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, ok := mem.Get("missions/ALPHA-STORM-77"); !ok {
		t.Fatal("a non-host leaving must never remove the mission")
	}
	if agent.Identity() != nil {
		t.Fatal("local identity must be cleared regardless of role")
	}
}

func TestIdentitySurvivesRestart(t *testing.T) {
	m, mem, path := newManager(t)
	m.CreateSession("PRIME-TIGER-31", testConfig)

	reloaded, err := NewManager(mem, path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ident := reloaded.Identity()
	if ident == nil || ident.Code != "PRIME-TIGER-31" || ident.Role != models.RoleHost {
		t.Fatalf("identity after restart = %+v", ident)
	}
}
