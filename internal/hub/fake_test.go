package hub

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	block    chan struct{}

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	code      websocket.StatusCode
	reason    string
}

func newFake() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeTransport) Reader(ctx context.Context) (websocket.MessageType, io.Reader, error) {
	select {
	case b := <-f.in:
		return websocket.MessageText, bytes.NewReader(b), nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, _ websocket.MessageType, p []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	f.code, f.reason = code, reason
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) CloseNow() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	for i, w := range f.writes {
		out[i] = string(w)
	}
	return out
}

func (f *fakeTransport) closeInfo() (websocket.StatusCode, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.reason
}

// recorder collects connection events.
type recorder struct {
	mu     sync.Mutex
	events []ConnectionEvent
}

func (r *recorder) ConnectionsChanged(ev ConnectionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []ConnectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionEvent(nil), r.events...)
}

func newTestHub(t *testing.T, opts Options) (*Hub, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.Observers = append(opts.Observers, rec)
	if opts.CloseTimeout == 0 {
		opts.CloseTimeout = 500 * time.Millisecond
	}
	h := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h, rec
}

func addFake(h *Hub) (*Conn, *fakeTransport) {
	f := newFake()
	c := newConn(f, "pipe", h.opts.InboxSize)
	h.register(c)
	return c, f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
