package hub

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/motionstream/internal/logx"
)

// Shutdown closes every open connection with a close handshake, waits at
// most CloseTimeout for the handshakes, then stops the dispatcher. It is
// idempotent; later calls return the first call's result.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.closing.Store(true)
		h.closeAll()
		h.cancel()
		h.queue.Close()

		if h.running.Load() {
			select {
			case <-h.runDone:
			case <-ctx.Done():
				h.shutdownErr = ctx.Err()
			}
		}
		h.waitReaders(ctx)
		h.reap()
		logx.Log.Info().Int("connections", h.reg.Len()).Msg("hub stopped")
	})
	return h.shutdownErr
}

func (h *Hub) closeAll() {
	conns := h.reg.Snapshot()
	if len(conns) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.close(websocket.StatusGoingAway, ShutdownReason)
		}(c)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	t := time.NewTimer(h.opts.CloseTimeout)
	defer t.Stop()
	select {
	case <-done:
		logx.Log.Debug().Int("connections", len(conns)).Msg("close handshakes complete")
	case <-t.C:
		logx.Log.Warn().Dur("timeout", h.opts.CloseTimeout).Msg("close handshakes timed out; aborting remaining connections")
		for _, c := range conns {
			if !c.Status().Terminal() {
				c.abort()
			}
		}
	}
}

func (h *Hub) waitReaders(ctx context.Context) {
	for _, c := range h.reg.Snapshot() {
		select {
		case <-c.readDone:
		case <-ctx.Done():
			return
		}
	}
}
