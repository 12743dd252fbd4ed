package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/incognito-party/incognito/internal/store"
)

// ErrDisconnected is returned by operations after the relay connection
// drops.
var ErrDisconnected = errors.New("relay: disconnected")

// rpcTimeout bounds how long a round-trip to the relay may take.
const rpcTimeout = 10 * time.Second

// Client is a remote handle on the relay's store. It implements
// store.Store, so the coordinator runs identically against a local
// Memory or a relay across the network.
type Client struct {
	ws *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan wsMsg
	watches map[int64]chan store.Snapshot
	closed  bool

	writeMu sync.Mutex
}

// Dial connects to a relay's /sync endpoint.
func Dial(url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", url, err)
	}
	c := &Client{
		ws:      ws,
		pending: make(map[int64]chan wsMsg),
		watches: make(map[int64]chan store.Snapshot),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var msg wsMsg
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.teardown()
			return
		}
		switch msg.Type {
		case msgAck, msgValue, msgError:
			c.mu.Lock()
			ch := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
		case msgSnapshot:
			c.mu.Lock()
			ch := c.watches[msg.WatchID]
			c.mu.Unlock()
			if ch == nil {
				break
			}
			var v any
			if len(msg.Value) > 0 {
				if err := json.Unmarshal(msg.Value, &v); err != nil {
					log.Printf("relay: bad snapshot for %s: %v", msg.Path, err)
					break
				}
			}
			deliver(ch, store.Snapshot{Path: msg.Path, Value: v})
		}
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = map[int64]chan wsMsg{}
	watches := c.watches
	c.watches = map[int64]chan store.Snapshot{}
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- wsMsg{Type: msgError, Error: ErrDisconnected.Error()}
	}
	for _, ch := range watches {
		close(ch)
	}
	c.ws.Close()
}

func (c *Client) allocate() (int64, chan wsMsg, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, ErrDisconnected
	}
	c.nextID++
	ch := make(chan wsMsg, 1)
	c.pending[c.nextID] = ch
	return c.nextID, ch, nil
}

func (c *Client) write(msg wsMsg) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *Client) roundTrip(msg wsMsg) (wsMsg, error) {
	id, ch, err := c.allocate()
	if err != nil {
		return wsMsg{}, err
	}
	msg.ID = id
	if err := c.write(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return wsMsg{}, err
	}
	select {
	case reply := <-ch:
		if reply.Type == msgError {
			return wsMsg{}, errors.New(reply.Error)
		}
		return reply, nil
	case <-time.After(rpcTimeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return wsMsg{}, fmt.Errorf("relay: %s timed out", msg.Type)
	}
}

// Get fetches the subtree at path from the relay.
func (c *Client) Get(path string) (any, bool) {
	reply, err := c.roundTrip(wsMsg{Type: msgGet, Path: path})
	if err != nil || !reply.Exists {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(reply.Value, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Set stores value at path.
func (c *Client) Set(path string, value any) error {
	return c.Update(map[string]any{path: value})
}

// Delete removes the subtree at path.
func (c *Client) Delete(path string) error {
	return c.Update(map[string]any{path: nil})
}

// Update applies a multi-path atomic write on the relay. Sentinel
// values survive the trip as their {".sv": ...} wire forms and are
// resolved by the authority.
func (c *Client) Update(writes map[string]any) error {
	raw := make(map[string]json.RawMessage, len(writes))
	for path, v := range writes {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw[path] = b
	}
	_, err := c.roundTrip(wsMsg{Type: msgUpdate, Writes: raw})
	return err
}

// Watch subscribes to the subtree at path via the relay.
func (c *Client) Watch(path string) (<-chan store.Snapshot, func()) {
	ch := make(chan store.Snapshot, 16)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.nextID++
	id := c.nextID
	c.watches[id] = ch
	c.mu.Unlock()

	if err := c.write(wsMsg{Type: msgWatch, ID: id, Path: path}); err != nil {
		c.mu.Lock()
		delete(c.watches, id)
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.watches[id]; !ok {
			c.mu.Unlock()
			return
		}
		delete(c.watches, id)
		c.mu.Unlock()
		c.write(wsMsg{Type: msgUnwatch, WatchID: id})
		close(ch)
	}
	return ch, cancel
}

// OnDisconnectDelete arms a relay-side removal of path for when this
// connection drops.
func (c *Client) OnDisconnectDelete(path string) {
	c.write(wsMsg{Type: msgHook, Path: path})
}

// Close drops the connection, firing any armed disconnect hooks on the
// relay.
func (c *Client) Close() error {
	c.teardown()
	return nil
}

// deliver pushes the newest snapshot, evicting the oldest buffered one
// if the consumer is behind.
func deliver(ch chan store.Snapshot, snap store.Snapshot) {
	defer func() {
		// cancel may close the channel while a snapshot is in flight
		_ = recover()
	}()
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
