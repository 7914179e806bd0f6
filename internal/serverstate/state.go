// Package serverstate tracks whether the server accepts clients and how many
// are connected. The state lives in a Store so several processes can share
// it through Redis.
package serverstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaspardpetit/motionstream/internal/hub"
)

// Server status values.
const (
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
	StatusDraining = "draining"
	StatusUnknown  = "unknown"
)

// State is one consistent snapshot of the server status.
type State struct {
	Status      string    `json:"status"`
	Draining    bool      `json:"draining"`
	Connections int       `json:"connections"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists State.
type Store interface {
	Load() State
	Store(State)
}

type memoryStore struct {
	v atomic.Pointer[State]
}

// NewMemoryStore returns a process-local Store initialized to not_ready.
func NewMemoryStore() Store {
	ms := &memoryStore{}
	ms.v.Store(&State{Status: StatusNotReady})
	return ms
}

func (m *memoryStore) Load() State { return *m.v.Load() }

func (m *memoryStore) Store(s State) { m.v.Store(&s) }

// Tracker applies read-modify-write updates to a Store. It implements
// hub.Observer so the connection count follows the hub.
type Tracker struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewTracker wraps s; a nil s uses a memory store.
func NewTracker(s Store) *Tracker {
	if s == nil {
		s = NewMemoryStore()
	}
	return &Tracker{store: s, now: time.Now}
}

func (t *Tracker) update(fn func(*State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.store.Load()
	fn(&st)
	st.UpdatedAt = t.now()
	t.store.Store(st)
}

// State returns the current snapshot.
func (t *Tracker) State() State { return t.store.Load() }

// SetReady marks the server ready unless it is already draining.
func (t *Tracker) SetReady() {
	t.update(func(s *State) {
		if !s.Draining {
			s.Status = StatusReady
		}
	})
}

// StartDrain marks the server as draining. It cannot be undone.
func (t *Tracker) StartDrain() {
	t.update(func(s *State) {
		s.Draining = true
		s.Status = StatusDraining
	})
}

// IsDraining reports whether StartDrain has been called.
func (t *Tracker) IsDraining() bool { return t.store.Load().Draining }

// ConnectionsChanged records the hub's connection count.
func (t *Tracker) ConnectionsChanged(ev hub.ConnectionEvent) {
	t.update(func(s *State) { s.Connections = ev.Current })
}

var _ hub.Observer = (*Tracker)(nil)
