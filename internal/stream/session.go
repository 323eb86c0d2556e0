package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/njoerd114/itemrelay/internal/model"
)

// DefaultQueueSize is the buffer of the channel returned by [Session.Open].
const DefaultQueueSize = 64

// Result is one element of a session's channel. Err is set only on the final
// element of a session that ended in failure.
type Result struct {
	Notification model.Notification
	Err          error
}

// Session is a single use of a [Client]. Once its channel is closed the
// session is done; open a new one to reconnect.
type Session struct {
	client    Client
	queueSize int
	log       *slog.Logger

	mu      sync.Mutex
	opened  bool
	out     chan Result
	stop    chan struct{}
	stopped sync.Once
	closed  sync.Once
	ended   atomic.Bool

	delivered atomic.Int64
}

// NewSession wraps client. A queueSize of zero or less means
// [DefaultQueueSize].
func NewSession(client Client, queueSize int, logger *slog.Logger) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Session{
		client:    client,
		queueSize: queueSize,
		log:       logger,
		stop:      make(chan struct{}),
	}
}

// Open connects and returns the notification channel. The channel is closed
// when the connection ends, when ctx is cancelled, or on [Session.Close].
// A session can be opened once.
func (s *Session) Open(ctx context.Context) (<-chan Result, error) {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil, fmt.Errorf("stream session already opened")
	}
	s.opened = true
	s.out = make(chan Result, s.queueSize)
	s.mu.Unlock()

	select {
	case <-s.stop:
		s.finish()
		return s.out, nil
	default:
	}

	err := s.client.Open(ctx, Handlers{
		OnEvent:   s.onEvent,
		OnClosed:  s.finish,
		OnFailure: s.onFailure,
	})
	if err != nil {
		s.finish()
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
		}
		_ = s.Close()
	}()
	return s.out, nil
}

// Close ends the session. It is safe to call before Open and more than once.
func (s *Session) Close() error {
	s.stopped.Do(func() { close(s.stop) })

	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	// Once the connection has ended the client may already serve a newer
	// session.
	if !opened || s.ended.Load() {
		return nil
	}
	return s.client.Close()
}

// Delivered reports how many notifications have been handed to the channel.
func (s *Session) Delivered() int64 {
	return s.delivered.Load()
}

func (s *Session) onEvent(data []byte) {
	n, err := model.DecodeNotification(data)
	if err != nil {
		s.log.Debug("dropping malformed notification", "error", err, "bytes", len(data))
		return
	}
	select {
	case s.out <- Result{Notification: n}:
		s.delivered.Add(1)
	case <-s.stop:
	}
}

func (s *Session) onFailure(err error) {
	select {
	case s.out <- Result{Err: fmt.Errorf("event stream: %w", err)}:
	case <-s.stop:
	}
	s.finish()
}

// finish closes the channel exactly once.
func (s *Session) finish() {
	s.ended.Store(true)
	s.stopped.Do(func() { close(s.stop) })
	s.closed.Do(func() {
		s.mu.Lock()
		out := s.out
		s.mu.Unlock()
		if out != nil {
			close(out)
		}
	})
}
