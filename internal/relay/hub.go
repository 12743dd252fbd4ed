package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/incognito-party/incognito/internal/store"
)

var debug bool

func init() {
	debug = os.Getenv("DEBUG") != ""
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sendBuffer bounds the per-connection outgoing queue.
const sendBuffer = 32

// Hub exposes the authoritative store to websocket clients. Each
// connection gets its own watch set and disconnect hooks; dropping the
// socket fires the hooks, which is what self-heals the roster.
type Hub struct {
	st store.Store
}

// NewHub creates a hub serving st.
func NewHub(st store.Store) *Hub {
	return &Hub{st: st}
}

type hubConn struct {
	ws   *websocket.Conn
	send chan wsMsg

	mu      sync.Mutex
	watches map[int64]func()
	hooks   []string
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}

	c := &hubConn{
		ws:      ws,
		send:    make(chan wsMsg, sendBuffer),
		watches: make(map[int64]func()),
	}

	go c.writePump()
	h.readPump(c)
	h.teardown(c)
}

func (h *Hub) readPump(c *hubConn) {
	for {
		var msg wsMsg
		if err := c.ws.ReadJSON(&msg); err != nil {
			if debug {
				log.Printf("relay: read loop ended: %v", err)
			}
			return
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *hubConn, msg wsMsg) {
	switch msg.Type {
	case msgUpdate:
		writes := make(map[string]any, len(msg.Writes))
		for path, raw := range msg.Writes {
			var v any
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &v); err != nil {
					c.enqueue(wsMsg{Type: msgError, ID: msg.ID, Error: err.Error()})
					return
				}
			}
			writes[path] = v
		}
		if err := h.st.Update(writes); err != nil {
			c.enqueue(wsMsg{Type: msgError, ID: msg.ID, Error: err.Error()})
			return
		}
		c.enqueue(wsMsg{Type: msgAck, ID: msg.ID})

	case msgGet:
		v, ok := h.st.Get(msg.Path)
		raw, err := json.Marshal(v)
		if err != nil {
			c.enqueue(wsMsg{Type: msgError, ID: msg.ID, Error: err.Error()})
			return
		}
		c.enqueue(wsMsg{Type: msgValue, ID: msg.ID, Path: msg.Path, Value: raw, Exists: ok})

	case msgWatch:
		ch, cancel := h.st.Watch(msg.Path)
		c.mu.Lock()
		c.watches[msg.ID] = cancel
		c.mu.Unlock()
		go func(watchID int64) {
			for snap := range ch {
				raw, err := json.Marshal(snap.Value)
				if err != nil {
					continue
				}
				c.enqueue(wsMsg{Type: msgSnapshot, WatchID: watchID, Path: snap.Path, Value: raw})
			}
		}(msg.ID)
		c.enqueue(wsMsg{Type: msgAck, ID: msg.ID})

	case msgUnwatch:
		c.mu.Lock()
		cancel := c.watches[msg.WatchID]
		delete(c.watches, msg.WatchID)
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

	case msgHook:
		c.mu.Lock()
		c.hooks = append(c.hooks, msg.Path)
		c.mu.Unlock()

	default:
		c.enqueue(wsMsg{Type: msgError, ID: msg.ID, Error: "unknown message type: " + msg.Type})
	}
}

// teardown cancels the connection's watches and fires its disconnect
// hooks.
func (h *Hub) teardown(c *hubConn) {
	c.mu.Lock()
	watches := c.watches
	c.watches = map[int64]func(){}
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	for _, cancel := range watches {
		cancel()
	}
	for _, path := range hooks {
		if err := h.st.Delete(path); err != nil && debug {
			log.Printf("relay: disconnect hook %s: %v", path, err)
		}
	}
	close(c.send)
}

func (c *hubConn) enqueue(msg wsMsg) {
	defer func() {
		// teardown may close the channel while a watch goroutine is
		// still forwarding snapshots
		_ = recover()
	}()
	select {
	case c.send <- msg:
	case <-time.After(time.Second):
		// Timeout - skip this client to avoid blocking
	}
}

func (c *hubConn) writePump() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			break
		}
	}
	c.ws.Close()
}

// RunSweeper evicts agents whose lastSeen heartbeat is older than ttl,
// covering half-open sockets whose disconnect hooks never fire.
func (h *Hub) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ttl)
		}
	}
}

func (h *Hub) sweep(ttl time.Duration) {
	v, ok := h.st.Get("missions")
	if !ok {
		return
	}
	missions, ok := v.(map[string]any)
	if !ok {
		return
	}
	cutoff := float64(time.Now().Add(-ttl).UnixMilli())
	for code, mv := range missions {
		mission, ok := mv.(map[string]any)
		if !ok {
			continue
		}
		agents, ok := mission["agents"].(map[string]any)
		if !ok {
			continue
		}
		for id, av := range agents {
			agent, ok := av.(map[string]any)
			if !ok {
				continue
			}
			lastSeen, ok := agent["lastSeen"].(float64)
			if !ok || lastSeen >= cutoff {
				continue
			}
			log.Printf("relay: evicting stale agent %s from mission %s", id, code)
			h.st.Delete("missions/" + code + "/agents/" + id)
		}
	}
}
