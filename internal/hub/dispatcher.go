package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/framequeue"
	"github.com/gaspardpetit/motionstream/internal/logx"
	"github.com/gaspardpetit/motionstream/internal/metrics"
)

// Run dispatches frames until ctx is done or the hub shuts down. It must be
// called at most once.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return fmt.Errorf("hub: Run called twice")
	}
	defer close(h.runDone)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	logx.Log.Debug().Msg("dispatcher started")
	for {
		err := h.cycle(ctx)
		if err == nil {
			continue
		}
		logx.Log.Debug().Err(err).Msg("dispatcher stopped")
		if errors.Is(err, framequeue.ErrClosed) || h.ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// cycle runs one dispatch iteration: reap, wait for frames, apply control
// messages, deliver.
func (h *Hub) cycle(ctx context.Context) error {
	h.reap()

	frames, err := h.queue.DrainAll(ctx)
	if err != nil {
		return err
	}
	metrics.ObserveBatch(len(frames))

	h.reg.ForEachOpen(func(c *Conn) { c.applyPending() })
	conns := h.reg.Snapshot()
	for _, f := range frames {
		h.broadcast(ctx, conns, f)
	}
	return nil
}

// reap removes terminal connections and reports the change.
func (h *Hub) reap() {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()
	removed, prev, cur := h.reg.RemoveDead()
	if len(removed) == 0 {
		return
	}
	if cur < 0 || prev-cur != len(removed) {
		panic(fmt.Sprintf("hub: registry count mismatch prev=%d cur=%d removed=%d", prev, cur, len(removed)))
	}
	ev := ConnectionEvent{Current: cur, Previous: prev, Disconnected: true}
	for _, c := range removed {
		ev.IDs = append(ev.IDs, c.ID)
		ev.States = append(ev.States, c.State())
		_ = c.ws.CloseNow()
	}
	h.notify(ev)
}

// broadcast writes f to every open connection that wants its topic and waits
// for all writes to finish.
func (h *Hub) broadcast(ctx context.Context, conns []*Conn, f frame.Frame) {
	var wg sync.WaitGroup
	for _, c := range conns {
		if c.Status() != StatusOpen || !wants(c.State(), f.Topic) {
			continue
		}
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.send(ctx, f, h.opts.SendTimeout)
		}(c)
	}
	wg.Wait()
}
