// Package client connects to a motionstream server, selects topics and
// receives decoded frames.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/motionstream/internal/config"
	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/logx"
	"github.com/gaspardpetit/motionstream/internal/subscription"
)

// DefaultReadLimit fits a full body index frame.
const DefaultReadLimit = 16 << 20

// ErrSubprotocol is returned when the server did not agree on the subprotocol.
var ErrSubprotocol = errors.New("client: subprotocol not negotiated")

// Options configures Dial.
type Options struct {
	Subprotocol string
	Header      http.Header
	ReadLimit   int64
}

// Client is one connection to the server. Receive and Run must not be
// called concurrently.
type Client struct {
	ws *websocket.Conn

	mu     sync.RWMutex
	latest map[frame.Topic]json.RawMessage
}

// Dial opens a connection offering the motionstream subprotocol.
func Dial(ctx context.Context, url string, opts *Options) (*Client, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Subprotocol == "" {
		o.Subprotocol = config.DefaultSubprotocol
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{o.Subprotocol},
		HTTPHeader:   o.Header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if ws.Subprotocol() != o.Subprotocol {
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("%w: got %q", ErrSubprotocol, ws.Subprotocol())
	}
	ws.SetReadLimit(o.ReadLimit)
	return &Client{ws: ws, latest: map[frame.Topic]json.RawMessage{}}, nil
}

// Subscribe replaces the topic selection. No topics selects none.
func (c *Client) Subscribe(ctx context.Context, topics ...frame.Topic) error {
	req := subscription.Request{Topics: make([]string, 0, len(topics))}
	for _, t := range topics {
		req.Topics = append(req.Topics, string(t))
	}
	return c.send(ctx, req)
}

// SubscribeAll selects every topic.
func (c *Client) SubscribeAll(ctx context.Context) error {
	return c.send(ctx, subscription.Request{Topics: []string{subscription.Wildcard}})
}

func (c *Client) send(ctx context.Context, req subscription.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Receive blocks for the next frame.
func (c *Client) Receive(ctx context.Context) (frame.Envelope, error) {
	_, b, err := c.ws.Read(ctx)
	if err != nil {
		return frame.Envelope{}, err
	}
	env, err := frame.Decode(b)
	if err != nil {
		return frame.Envelope{}, err
	}
	c.mu.Lock()
	c.latest[env.Type] = env.Content
	c.mu.Unlock()
	return env, nil
}

// Run receives until the connection ends, calling fn for every frame when fn
// is not nil. A normal or going-away close from the server returns nil.
func (c *Client) Run(ctx context.Context, fn func(frame.Envelope)) error {
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logx.Log.Debug().Err(err).Msg("server closed connection")
				return nil
			}
			return err
		}
		if fn != nil {
			fn(env)
		}
	}
}

// Latest returns the content of the most recent frame received on topic.
func (c *Client) Latest(topic frame.Topic) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.latest[topic]
	return b, ok
}

// Subprotocol returns the negotiated subprotocol.
func (c *Client) Subprotocol() string { return c.ws.Subprotocol() }

// Close performs a normal close handshake.
func (c *Client) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
