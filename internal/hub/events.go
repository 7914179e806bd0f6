package hub

import (
	"github.com/gaspardpetit/motionstream/internal/logx"
)

// ConnectionEvent describes a change in the number of registered connections.
type ConnectionEvent struct {
	Current      int
	Previous     int
	Connected    bool
	Disconnected bool
	// IDs and States describe the connections that were added or removed.
	IDs    []string
	States []ClientState
}

// Observer is notified whenever the connection count changes. Calls are
// serialized in the order the count changed and never made while the
// registry lock is held. An observer must not block on new connections
// being accepted or reaped.
type Observer interface {
	ConnectionsChanged(ev ConnectionEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev ConnectionEvent)

// ConnectionsChanged calls f(ev).
func (f ObserverFunc) ConnectionsChanged(ev ConnectionEvent) { f(ev) }

// LogObserver writes connection changes to the shared logger.
type LogObserver struct{}

// ConnectionsChanged logs ev.
func (LogObserver) ConnectionsChanged(ev ConnectionEvent) {
	e := logx.Log.Info().
		Int("connections", ev.Current).
		Int("previous", ev.Previous).
		Strs("conn_ids", ev.IDs)
	switch {
	case ev.Connected:
		e.Msg("client connected")
	case ev.Disconnected:
		e.Int("removed", len(ev.IDs)).Msg("clients disconnected")
	default:
		e.Msg("connections changed")
	}
}
