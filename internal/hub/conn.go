package hub

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/logx"
	"github.com/gaspardpetit/motionstream/internal/metrics"
)

// ErrMessageTooLarge is reported when an inbound message exceeds the read limit.
var ErrMessageTooLarge = errors.New("hub: inbound message too large")

// Status is the transport state of a connection.
type Status int32

const (
	StatusOpen Status = iota
	StatusClosing
	StatusCloseReceived
	StatusClosed
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusCloseReceived:
		return "close_received"
	case StatusClosed:
		return "closed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether a connection in this status can be reaped.
func (s Status) Terminal() bool {
	return s == StatusCloseReceived || s == StatusClosed || s == StatusAborted
}

// Transport is the subset of *websocket.Conn a connection uses.
type Transport interface {
	Reader(ctx context.Context) (websocket.MessageType, io.Reader, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

type stateBox struct{ s ClientState }

// Conn is one registered client.
type Conn struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	ws     Transport
	status atomic.Int32
	state  atomic.Pointer[stateBox]
	inbox  chan ClientState

	sent     atomic.Uint64
	failed   atomic.Uint64
	readDone chan struct{}
}

func newConn(ws Transport, remote string, inboxSize int) *Conn {
	if inboxSize < 1 {
		inboxSize = 1
	}
	c := &Conn{
		ID:          uuid.NewString(),
		RemoteAddr:  remote,
		ConnectedAt: time.Now(),
		ws:          ws,
		inbox:       make(chan ClientState, inboxSize),
		readDone:    make(chan struct{}),
	}
	c.state.Store(&stateBox{})
	return c
}

// Status returns the current transport status.
func (c *Conn) Status() Status { return Status(c.status.Load()) }

// State returns the client's current preference; nil means no preference.
func (c *Conn) State() ClientState { return c.state.Load().s }

func (c *Conn) setState(s ClientState) { c.state.Store(&stateBox{s: s}) }

// advance moves the connection to a new status. Terminal statuses never
// change and only an open connection can start closing.
func (c *Conn) advance(to Status) bool {
	for {
		cur := Status(c.status.Load())
		if cur.Terminal() || cur == to {
			return false
		}
		if to == StatusClosing && cur != StatusOpen {
			return false
		}
		if c.status.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

// send writes one frame. Failures only change the connection status.
func (c *Conn) send(ctx context.Context, f frame.Frame, timeout time.Duration) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := c.ws.Write(wctx, websocket.MessageBinary, f.Payload)
	metrics.RecordSend(string(f.Topic), time.Since(start), err == nil)
	if err != nil {
		c.failed.Add(1)
		c.advance(StatusAborted)
		logx.Log.Debug().Err(err).Str("conn_id", c.ID).Str("topic", string(f.Topic)).Msg("send failed")
		return
	}
	c.sent.Add(1)
}

// readLoop decodes every complete inbound message and queues the resulting
// state until the transport fails or ctx ends.
func (c *Conn) readLoop(ctx context.Context, bufSize int, limit int64, decode StateDecoder) {
	defer close(c.readDone)
	for {
		_, r, err := c.ws.Reader(ctx)
		if err != nil {
			c.readFailed(err)
			return
		}
		msg, err := readMessage(r, bufSize, limit)
		if err != nil {
			if errors.Is(err, ErrMessageTooLarge) {
				_ = c.ws.Close(websocket.StatusMessageTooBig, "message too large")
			}
			c.readFailed(err)
			return
		}
		c.receive(msg, decode)
	}
}

func (c *Conn) readFailed(err error) {
	var ce websocket.CloseError
	switch {
	case c.Status() == StatusClosing:
		c.advance(StatusClosed)
	case errors.As(err, &ce):
		c.advance(StatusCloseReceived)
		logx.Log.Debug().Str("conn_id", c.ID).Int("code", int(ce.Code)).Str("reason", ce.Reason).Msg("peer closed")
	default:
		c.advance(StatusAborted)
		logx.Log.Debug().Err(err).Str("conn_id", c.ID).Msg("read failed")
	}
}

// receive decodes one control message and queues the state it describes. A
// message that fails to decode is dropped here, so it never displaces a
// pending valid state and the previous state stays in place.
func (c *Conn) receive(msg []byte, decode StateDecoder) {
	s, err := decode(msg)
	if err != nil {
		metrics.RecordStateUpdate("invalid")
		logx.Log.Debug().Err(err).Str("conn_id", c.ID).Int("bytes", len(msg)).Msg("ignoring control message")
		return
	}
	c.deliver(s)
}

// deliver queues s for the dispatcher. When the inbox is full the oldest
// pending state is discarded; every state replaces the whole previous one so
// only the newest matters.
func (c *Conn) deliver(s ClientState) {
	for {
		select {
		case c.inbox <- s:
			return
		default:
		}
		select {
		case <-c.inbox:
			metrics.RecordStateUpdate("superseded")
		default:
		}
	}
}

// applyPending installs every queued state in arrival order.
func (c *Conn) applyPending() {
	for {
		select {
		case s := <-c.inbox:
			c.setState(s)
			metrics.RecordStateUpdate("applied")
			logx.Log.Debug().Str("conn_id", c.ID).Interface("state", s).Msg("client state updated")
		default:
			return
		}
	}
}

// close performs the close handshake on an open connection.
// A connection already closing is left to the handshake in progress.
func (c *Conn) close(code websocket.StatusCode, reason string) {
	if !c.advance(StatusClosing) {
		if c.Status() == StatusClosing {
			return
		}
		_ = c.ws.CloseNow()
		return
	}
	_ = c.ws.Close(code, reason)
	c.advance(StatusClosed)
}

// abort tears the transport down without a handshake.
func (c *Conn) abort() {
	_ = c.ws.CloseNow()
	c.advance(StatusAborted)
}

// readMessage reads one message starting with a size byte buffer and
// doubling it until the reader reports the end of the message.
func readMessage(r io.Reader, size int, limit int64) ([]byte, error) {
	if size < 1 {
		size = 1
	}
	buf := make([]byte, size)
	n := 0
	for {
		if n == len(buf) {
			if int64(n) > limit {
				return nil, ErrMessageTooLarge
			}
			next := len(buf) * 2
			if int64(next) > limit+1 {
				next = int(limit + 1)
			}
			grown := make([]byte, next)
			copy(grown, buf[:n])
			buf = grown
		}
		m, err := r.Read(buf[n:])
		n += m
		if int64(n) > limit {
			return nil, ErrMessageTooLarge
		}
		if errors.Is(err, io.EOF) {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}
