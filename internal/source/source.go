// Package source holds frame producers: a synthetic skeleton generator for
// running without a sensor and a host statistics sampler.
package source

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/hub"
	"github.com/gaspardpetit/motionstream/internal/logx"
)

// Publisher accepts frames for broadcast. *hub.Hub satisfies it.
type Publisher interface {
	Publish(f frame.Frame) error
}

// Producer publishes frames until its context ends.
type Producer interface {
	Name() string
	Run(ctx context.Context, pub Publisher) error
}

// RunAll runs every producer until ctx ends or one of them fails. A
// producer stopped by ctx or by hub shutdown is not an error.
func RunAll(ctx context.Context, pub Publisher, producers ...Producer) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range producers {
		g.Go(func() error {
			logx.Log.Info().Str("producer", p.Name()).Msg("producer started")
			err := p.Run(gctx, pub)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, hub.ErrClosed) {
				err = nil
			}
			logx.Log.Info().Err(err).Str("producer", p.Name()).Msg("producer stopped")
			return err
		})
	}
	return g.Wait()
}

// tick calls fn every interval until ctx ends or fn fails.
func tick(ctx context.Context, interval time.Duration, fn func(n uint64) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := fn(n); err != nil {
				return err
			}
			n++
		}
	}
}
