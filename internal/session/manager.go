// Package session resolves the local client's relationship to a
// mission (host vs. agent), persisted across restarts.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/incognito-party/incognito/internal/models"
	"github.com/incognito-party/incognito/internal/store"
)

// ErrNoCode indicates an empty mission code.
var ErrNoCode = errors.New("session: mission code is required")

// Identity is the locally persisted session record.
type Identity struct {
	Code      string      `json:"code"`
	Role      models.Role `json:"role"`
	CreatedAt int64       `json:"createdAt"`
}

// Manager owns the local identity file and the mission-level lifecycle
// operations tied to it.
type Manager struct {
	st   store.Store
	path string
	now  func() time.Time

	mu    sync.Mutex
	ident *Identity
}

// NewManager loads any persisted identity from path and returns a
// manager bound to st.
func NewManager(st store.Store, path string) (*Manager, error) {
	m := &Manager{st: st, path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		// A corrupt identity file should not brick the app
		log.Printf("session: discarding unreadable identity file: %v", err)
		return m, nil
	}
	m.ident = &ident
	return m, nil
}

// SetClock overrides the clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Identity returns the current local identity, or nil when none is
// persisted.
func (m *Manager) Identity() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ident == nil {
		return nil
	}
	ident := *m.ident
	return &ident
}

// CreateSession writes a new mission root in LOBBY state and persists
// the caller as its host.
func (m *Manager) CreateSession(code string, cfg models.MissionConfig) error {
	code = normalizeCode(code)
	if code == "" {
		return ErrNoCode
	}
	err := m.st.Update(map[string]any{
		missionPath(code) + "/threatLevel": cfg.ThreatLevel,
		missionPath(code) + "/duration":    cfg.Duration,
		missionPath(code) + "/protocol":    cfg.Protocol,
		missionPath(code) + "/status":      string(models.StatusLobby),
		missionPath(code) + "/createdAt":   store.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("creating mission %s: %w", code, err)
	}
	return m.persist(&Identity{Code: code, Role: models.RoleHost, CreatedAt: m.nowMillis()})
}

// JoinSession persists the caller as an agent of code. It returns false
// when no mission exists at code. A host never gets downgraded by a
// stale join against their own mission.
func (m *Manager) JoinSession(code string) (bool, error) {
	code = normalizeCode(code)
	if !m.CheckSessionExists(code) {
		return false, nil
	}
	m.mu.Lock()
	if m.ident != nil && m.ident.Role == models.RoleHost && m.ident.Code == code {
		m.mu.Unlock()
		return true, nil
	}
	m.mu.Unlock()
	return true, m.persist(&Identity{Code: code, Role: models.RoleAgent, CreatedAt: m.nowMillis()})
}

// CheckSessionExists probes for a mission at code without joining it.
func (m *Manager) CheckSessionExists(code string) bool {
	code = normalizeCode(code)
	if code == "" {
		return false
	}
	_, ok := m.st.Get(missionPath(code))
	return ok
}

// ClearSession removes the caller's roster entry (when agentID is
// given), garbage-collects the mission subtree when the caller is host
// of a now-empty roster, and always clears the local identity.
func (m *Manager) ClearSession(agentID string) error {
	m.mu.Lock()
	ident := m.ident
	m.mu.Unlock()

	if ident != nil {
		if agentID != "" {
			if err := m.st.Delete(agentPath(ident.Code, agentID)); err != nil {
				return fmt.Errorf("leaving mission %s: %w", ident.Code, err)
			}
		}
		if ident.Role == models.RoleHost {
			if _, ok := m.st.Get(missionPath(ident.Code) + "/agents"); !ok {
				if err := m.st.Delete(missionPath(ident.Code)); err != nil {
					return fmt.Errorf("destroying mission %s: %w", ident.Code, err)
				}
			}
		}
	}
	return m.persist(nil)
}

func (m *Manager) persist(ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ident = ident
	if ident == nil {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clearing identity file: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	return nil
}

func (m *Manager) nowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().UnixMilli()
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func missionPath(code string) string {
	return "missions/" + code
}

func agentPath(code, agentID string) string {
	return missionPath(code) + "/agents/" + agentID
}
