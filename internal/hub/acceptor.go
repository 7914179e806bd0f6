package hub

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/motionstream/internal/logx"
	"github.com/gaspardpetit/motionstream/internal/metrics"
)

// ServeHTTP accepts websocket upgrades and registers the resulting
// connections. Every request is handled independently; a failed handshake
// never affects later ones.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordHandshake("error")
			logx.Log.Error().Interface("panic", rec).Str("remote", r.RemoteAddr).Msg("ws accept")
			http.Error(w, fmt.Sprint(rec), http.StatusInternalServerError)
		}
	}()

	if h.closing.Load() {
		metrics.RecordHandshake("unavailable")
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !isUpgradeRequest(r) {
		metrics.RecordHandshake("bad_request")
		http.Error(w, "Web socket request was expected.", http.StatusBadRequest)
		return
	}
	if !offersSubprotocol(r, h.opts.Subprotocol) {
		metrics.RecordHandshake("bad_protocol")
		http.Error(w, fmt.Sprintf("Web socket subprotocol %s is required.", h.opts.Subprotocol), http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{h.opts.Subprotocol},
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the error response.
		metrics.RecordHandshake("failed")
		logx.Log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws accept")
		return
	}
	ws.SetReadLimit(h.opts.MaxMessageSize)
	metrics.RecordHandshake("accepted")
	h.register(newConn(ws, r.RemoteAddr, h.opts.InboxSize))
}

// register adds c to the registry and starts its read loop. The read loop
// uses the hub context, not the request context, which ends when ServeHTTP
// returns.
func (h *Hub) register(c *Conn) {
	h.notifyMu.Lock()
	cur := h.reg.Add(c)
	h.notify(ConnectionEvent{
		Current:   cur,
		Previous:  cur - 1,
		Connected: true,
		IDs:       []string{c.ID},
		States:    []ClientState{c.State()},
	})
	h.notifyMu.Unlock()
	go c.readLoop(h.ctx, h.opts.ReadBufferSize, h.opts.MaxMessageSize, h.opts.Decoder)
	logx.Log.Debug().Str("conn_id", c.ID).Str("remote", c.RemoteAddr).Msg("registered")

	// Shutdown may have snapshotted the registry before c was added.
	if h.closing.Load() {
		c.close(websocket.StatusGoingAway, ShutdownReason)
	}
}

func isUpgradeRequest(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}

func offersSubprotocol(r *http.Request, proto string) bool {
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if strings.TrimSpace(p) == proto {
				return true
			}
		}
	}
	return false
}
