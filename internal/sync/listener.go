package sync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/njoerd114/itemrelay/internal/stream"
)

// ErrNoStream is returned by [Engine.RunStream] when the engine was created
// without an event stream client.
var ErrNoStream = errors.New("no event stream configured")

func newStreamBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute
	return b
}

// RunStream consumes the event stream until ctx is cancelled, merging every
// notification with [Engine.Apply]. When a session ends it opens a new one
// after an exponential backoff, which is reset by any session that delivered
// notifications.
func (e *Engine) RunStream(ctx context.Context) error {
	if e.events == nil {
		return ErrNoStream
	}

	b := e.streamBackOff()
	failed := false
	for {
		sess := stream.NewSession(e.events, e.opts.QueueSize, e.log)
		results, err := sess.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Warn("event stream connect failed", "error", err)
			failed = true
		} else {
			if failed {
				e.log.Info("event stream reconnected")
				if e.reconnected != nil {
					e.reconnected()
				}
			} else {
				e.log.Info("event stream connected")
			}
			failed = false

			err = e.consume(ctx, results)
			_ = sess.Close()
			if ctx.Err() != nil {
				e.log.Info("event stream shutting down")
				return ctx.Err()
			}
			if sess.Delivered() > 0 {
				b.Reset()
			}
			if err != nil {
				e.log.Warn("event stream failed", "error", err)
				failed = true
			} else {
				e.log.Info("event stream closed by server")
			}
		}

		wait := b.NextBackOff()
		e.log.Debug("reconnecting event stream", "in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// consume applies results until the channel closes and returns the session's
// terminal error, if any.
func (e *Engine) consume(ctx context.Context, results <-chan stream.Result) error {
	for r := range results {
		if r.Err != nil {
			return r.Err
		}
		if _, err := e.Apply(ctx, r.Notification); err != nil {
			e.log.Error("merging notification failed", "kind", r.Notification.Kind, "id", r.Notification.Item.ID, "error", err)
		}
	}
	return nil
}
