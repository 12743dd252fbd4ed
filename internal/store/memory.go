package store

import (
	"encoding/json"
	"sync"
	"time"
)

// Memory is the authoritative in-process implementation of Store. The
// relay hosts one instance; remote clients replicate against it.
type Memory struct {
	mu       sync.RWMutex
	root     map[string]any
	watchers map[int]*watcher
	nextID   int
	hooks    []string
	now      func() time.Time
	closed   bool
}

type watcher struct {
	path string
	segs []string
	ch   chan Snapshot
}

// watchBuffer bounds each subscriber channel; a slow consumer loses
// intermediate snapshots, never the newest one.
const watchBuffer = 16

// NewMemory creates an empty tree store.
func NewMemory() *Memory {
	return &Memory{
		root:     make(map[string]any),
		watchers: make(map[int]*watcher),
		now:      time.Now,
	}
}

// SetClock overrides the clock used to resolve ServerTimestamp writes.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get retrieves a deep copy of the subtree at path.
func (m *Memory) Get(path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := lookup(m.root, SplitPath(path))
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Set stores value at path, replacing the node wholesale.
func (m *Memory) Set(path string, value any) error {
	return m.Update(map[string]any{path: value})
}

// Delete removes the subtree at path.
func (m *Memory) Delete(path string) error {
	return m.Update(map[string]any{path: nil})
}

// Update applies every write under one lock and fires watchers once.
func (m *Memory) Update(writes map[string]any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	touched := make([][]string, 0, len(writes))
	for path, value := range writes {
		segs := SplitPath(path)
		normalized, err := toJSONValue(value)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		resolved := m.resolve(segs, normalized)
		if resolved == nil {
			deleteNode(m.root, segs)
		} else {
			setNode(m.root, segs, resolved)
		}
		touched = append(touched, segs)
	}

	// Collect notifications under the lock, send without holding it
	type delivery struct {
		ch   chan Snapshot
		snap Snapshot
	}
	var pending []delivery
	for _, w := range m.watchers {
		if !anyRelated(w.segs, touched) {
			continue
		}
		v, _ := lookup(m.root, w.segs)
		pending = append(pending, delivery{w.ch, Snapshot{Path: w.path, Value: copyValue(v)}})
	}
	m.mu.Unlock()

	for _, p := range pending {
		send(p.ch, p.snap)
	}
	return nil
}

// Watch subscribes to the subtree at path, delivering the current
// value first.
func (m *Memory) Watch(path string) (<-chan Snapshot, func()) {
	segs := SplitPath(path)
	w := &watcher{path: path, segs: segs, ch: make(chan Snapshot, watchBuffer)}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = w
	v, _ := lookup(m.root, segs)
	initial := Snapshot{Path: path, Value: copyValue(v)}
	m.mu.Unlock()

	send(w.ch, initial)

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(w.ch)
		}
		m.mu.Unlock()
	}
	return w.ch, cancel
}

// OnDisconnectDelete registers a path removed when this store handle
// closes.
func (m *Memory) OnDisconnectDelete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, path)
}

// Close fires pending disconnect hooks and tears down all watchers.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	for _, path := range hooks {
		m.Delete(path)
	}

	m.mu.Lock()
	m.closed = true
	for id, w := range m.watchers {
		delete(m.watchers, id)
		close(w.ch)
	}
	m.mu.Unlock()
	return nil
}

// resolve walks a normalized value replacing {".sv": ...} sentinel
// forms. Increments read the existing number at their exact path, so
// the caller must hold the write lock.
func (m *Memory) resolve(base []string, v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if sv, found := obj[".sv"]; found && len(obj) == 1 {
		switch s := sv.(type) {
		case string:
			if s == "timestamp" {
				return float64(m.now().UnixMilli())
			}
		case map[string]any:
			if d, ok := s["increment"]; ok {
				delta, _ := d.(float64)
				cur, _ := lookup(m.root, base)
				curNum, _ := cur.(float64)
				return curNum + delta
			}
		}
		return nil
	}
	out := make(map[string]any, len(obj))
	for k, child := range obj {
		childPath := append(append([]string(nil), base...), k)
		if r := m.resolve(childPath, child); r != nil {
			out[k] = r
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// toJSONValue round-trips arbitrary values through JSON so the tree
// only ever holds maps, strings, float64s, bools and slices.
func toJSONValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func lookup(node map[string]any, segs []string) (any, bool) {
	if len(segs) == 0 {
		if len(node) == 0 {
			return nil, false
		}
		return node, true
	}
	cur := node
	for i, seg := range segs {
		child, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(segs)-1 {
			return child, true
		}
		next, ok := child.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

func setNode(root map[string]any, segs []string, value any) {
	if len(segs) == 0 {
		for k := range root {
			delete(root, k)
		}
		if obj, ok := value.(map[string]any); ok {
			for k, v := range obj {
				root[k] = v
			}
		}
		return
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// deleteNode removes the target and prunes branches left empty.
func deleteNode(root map[string]any, segs []string) {
	if len(segs) == 0 {
		for k := range root {
			delete(root, k)
		}
		return
	}
	parents := make([]map[string]any, 0, len(segs))
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		parents = append(parents, cur)
		cur = next
	}
	delete(cur, segs[len(segs)-1])
	for i := len(parents) - 1; i >= 0; i-- {
		if len(cur) > 0 {
			break
		}
		delete(parents[i], segs[i])
		cur = parents[i]
	}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = copyValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = copyValue(child)
		}
		return out
	default:
		return v
	}
}

func anyRelated(watch []string, touched [][]string) bool {
	for _, t := range touched {
		if related(watch, t) {
			return true
		}
	}
	return false
}

// related reports whether one path is a prefix of the other.
func related(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// send delivers the newest snapshot, evicting the oldest buffered one
// if the subscriber is behind.
func send(ch chan Snapshot, snap Snapshot) {
	defer func() {
		// A watcher may be cancelled concurrently with a commit;
		// sending on its closed channel is then a no-op.
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
