package store

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrClosed is returned by writes against a closed store.
var ErrClosed = errors.New("store: closed")

// Store is the shared mutable tree every client reads and writes.
// Values are JSON-shaped: map[string]any, string, float64, bool or nil.
// Writes are last-write-wins at the deepest written path; writing nil
// deletes the node. Update applies all of its paths atomically and
// notifies watchers once per commit.
type Store interface {
	Get(path string) (any, bool)
	Set(path string, value any) error
	Update(writes map[string]any) error
	Delete(path string) error

	// Watch delivers the subtree snapshot at path after every commit
	// touching it, starting with the current value. The returned func
	// cancels the subscription.
	Watch(path string) (<-chan Snapshot, func())

	// OnDisconnectDelete arms a server-side removal of path tied to
	// this connection's lifetime (presence lease).
	OnDisconnectDelete(path string)

	Close() error
}

// Snapshot is one observed state of a watched subtree.
type Snapshot struct {
	Path  string
	Value any
}

// Decode converts a snapshot value into a typed struct via JSON.
func Decode(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// SplitPath breaks a /-separated path into segments, ignoring empty ones.
func SplitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// JoinPath is the inverse of SplitPath.
func JoinPath(segs []string) string {
	return strings.Join(segs, "/")
}

type serverTimestamp struct{}

// ServerTimestamp is a write sentinel replaced by the authority's clock
// (epoch millis) at commit time.
var ServerTimestamp serverTimestamp

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`{".sv":"timestamp"}`), nil
}

type incrementValue struct {
	delta float64
}

// Increment is a write sentinel that atomically adds delta to the
// number stored at the path. A missing node counts as zero.
func Increment(delta int) any {
	return incrementValue{float64(delta)}
}

func (v incrementValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{".sv": map[string]any{"increment": v.delta}})
}
