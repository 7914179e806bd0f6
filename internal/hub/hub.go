// Package hub broadcasts published frames to every registered websocket
// client whose subscription wants the frame's topic.
//
// One dispatcher goroutine (Run) owns delivery: it reaps dead connections,
// drains the frame queue in order, applies pending control messages and fans
// each frame out to matching clients concurrently. Each connection has its own
// read goroutine feeding a small inbox, so a silent or slow client never
// stalls the others.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaspardpetit/motionstream/internal/config"
	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/framequeue"
	"github.com/gaspardpetit/motionstream/internal/metrics"
)

// ErrClosed is returned once the hub has been shut down.
var ErrClosed = errors.New("hub: closed")

// ShutdownReason is sent with every close handshake issued on shutdown.
const ShutdownReason = "Server is shutting down."

// Options configures a Hub.
type Options struct {
	Subprotocol    string
	OriginPatterns []string
	SendTimeout    time.Duration
	CloseTimeout   time.Duration
	ReadBufferSize int
	MaxMessageSize int64
	InboxSize      int
	Decoder        StateDecoder
	Observers      []Observer
}

// OptionsFromConfig maps server configuration onto hub options.
func OptionsFromConfig(cfg config.ServerConfig) Options {
	return Options{
		Subprotocol:    cfg.Subprotocol,
		OriginPatterns: cfg.OriginPatterns,
		SendTimeout:    cfg.SendTimeout,
		CloseTimeout:   cfg.CloseTimeout,
		ReadBufferSize: cfg.ReadBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		InboxSize:      cfg.InboxSize,
	}
}

func (o *Options) setDefaults() {
	if o.Subprotocol == "" {
		o.Subprotocol = config.DefaultSubprotocol
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1024
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 4
	}
	if o.Decoder == nil {
		o.Decoder = DecodeSubscription
	}
	if o.Observers == nil {
		o.Observers = []Observer{LogObserver{}}
	}
}

// Hub ties the registry, the frame queue and the dispatcher together.
type Hub struct {
	opts  Options
	reg   *Registry
	queue *framequeue.Queue

	// notifyMu orders a registry count change with its notification, so
	// observers see events in the order the counts changed.
	notifyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	closing      atomic.Bool
	running      atomic.Bool
	runDone      chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a Hub. Call Run to start dispatching.
func New(opts Options) *Hub {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		opts:    opts,
		reg:     NewRegistry(),
		queue:   framequeue.New(),
		ctx:     ctx,
		cancel:  cancel,
		runDone: make(chan struct{}),
	}
}

// Publish queues f for broadcast. It never blocks on clients.
func (h *Hub) Publish(f frame.Frame) error {
	if h.closing.Load() || !h.queue.Enqueue(f) {
		return ErrClosed
	}
	metrics.RecordPublished(string(f.Topic))
	return nil
}

// Closing reports whether Shutdown has started.
func (h *Hub) Closing() bool { return h.closing.Load() }

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.reg }

// QueueLen returns the number of frames waiting for dispatch.
func (h *Hub) QueueLen() int { return h.queue.Len() }

func (h *Hub) notify(ev ConnectionEvent) {
	metrics.SetConnections(ev.Current)
	for _, o := range h.opts.Observers {
		o.ConnectionsChanged(ev)
	}
}

// ConnSnapshot is a point-in-time view of one connection.
type ConnSnapshot struct {
	ID           string      `json:"id"`
	RemoteAddr   string      `json:"remote_addr"`
	Status       string      `json:"status"`
	ConnectedAt  time.Time   `json:"connected_at"`
	Subscription ClientState `json:"subscription"`
	FramesSent   uint64      `json:"frames_sent"`
	SendFailures uint64      `json:"send_failures"`
}

// Snapshot describes every registered connection.
func (h *Hub) Snapshot() []ConnSnapshot {
	conns := h.reg.Snapshot()
	out := make([]ConnSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnSnapshot{
			ID:           c.ID,
			RemoteAddr:   c.RemoteAddr,
			Status:       c.Status().String(),
			ConnectedAt:  c.ConnectedAt,
			Subscription: c.State(),
			FramesSent:   c.sent.Load(),
			SendFailures: c.failed.Load(),
		})
	}
	return out
}
