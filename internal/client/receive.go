// ABOUTME: Shared receive primitive for the client role: one-shot response waits and persistent loops.
// ABOUTME: Enforces per-message and aggregate timeouts; malformed frames and handler panics never kill the loop.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/loom-gateway/internal/protocol"
)

var (
	// ErrTimeout is wrapped by both the per-message and the aggregate
	// timeout so callers can errors.Is against one sentinel.
	ErrTimeout = errors.New("receive timeout")

	// ErrConnClosed is returned once the transport has reported an error;
	// the loop is unusable afterwards.
	ErrConnClosed = errors.New("connection closed")
)

// NotifyFunc handles a notification dispatched by the receive loop.
type NotifyFunc func(msg *protocol.Message)

// ResponseFunc handles a response in persistent mode.
type ResponseFunc func(msg *protocol.Message)

type frame struct {
	data []byte
	err  error
}

// ReceiveLoop reads frames from one transport and dispatches them. It owns a
// single reader goroutine started on first use, so one-shot waits and a later
// persistent run share the same ordered stream.
type ReceiveLoop struct {
	transport Transport
	logger    *slog.Logger

	// MessageTimeout bounds the gap between consecutive frames; zero
	// disables it. AggregateTimeout caps the total duration of one
	// WaitResponse call regardless of how chatty the notification stream
	// is; zero disables it.
	MessageTimeout   time.Duration
	AggregateTimeout time.Duration

	frames  chan frame
	once    sync.Once
	errMu   sync.Mutex
	readErr error
}

// NewReceiveLoop wraps a transport. A nil logger discards.
func NewReceiveLoop(t Transport, logger *slog.Logger) *ReceiveLoop {
	if logger == nil {
		logger = slog.Default().With("component", "receive")
	}
	return &ReceiveLoop{
		transport: t,
		logger:    logger,
		frames:    make(chan frame),
	}
}

func (l *ReceiveLoop) start() {
	l.once.Do(func() { go l.read() })
}

func (l *ReceiveLoop) read() {
	for {
		data, err := l.transport.ReadFrame()
		if err != nil {
			l.errMu.Lock()
			l.readErr = err
			l.errMu.Unlock()
			close(l.frames)
			return
		}
		l.frames <- frame{data: data}
	}
}

func (l *ReceiveLoop) closeErr() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.readErr != nil {
		return fmt.Errorf("%w: %w", ErrConnClosed, l.readErr)
	}
	return ErrConnClosed
}

// WaitResponse blocks until the response with the given id arrives,
// dispatching any intervening notifications to onNotify. Responses to other
// ids are logged and dropped; they belong to callers that already timed out.
func (l *ReceiveLoop) WaitResponse(ctx context.Context, id string, onNotify NotifyFunc) (*protocol.Message, error) {
	l.start()

	var aggregate <-chan time.Time
	if l.AggregateTimeout > 0 {
		t := time.NewTimer(l.AggregateTimeout)
		defer t.Stop()
		aggregate = t.C
	}

	for {
		msg, err := l.next(ctx, aggregate)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, fmt.Errorf("waiting for response to %q: %w", id, err)
			}
			return nil, err
		}
		switch {
		case msg.IsNotification():
			l.dispatchNotify(onNotify, msg)
		case msg.IsResponse() && msg.ID == id:
			return msg, nil
		default:
			l.logger.Debug("dropping unmatched response", "id", msg.ID, "want", id)
		}
	}
}

// Run dispatches every incoming message until the connection closes or ctx is
// cancelled. A closed connection returns ErrConnClosed; cancellation returns
// ctx.Err(). The aggregate timeout does not apply here.
func (l *ReceiveLoop) Run(ctx context.Context, onNotify NotifyFunc, onResponse ResponseFunc) error {
	l.start()

	for {
		msg, err := l.next(ctx, nil)
		if err != nil {
			return err
		}
		switch {
		case msg.IsNotification():
			l.dispatchNotify(onNotify, msg)
		case msg.IsResponse():
			if onResponse != nil {
				onResponse(msg)
			}
		default:
			l.logger.Warn("unexpected request frame from server", "method", msg.Method)
		}
	}
}

// next returns the next well-formed message, skipping malformed frames.
func (l *ReceiveLoop) next(ctx context.Context, aggregate <-chan time.Time) (*protocol.Message, error) {
	for {
		var perMessage <-chan time.Time
		var timer *time.Timer
		if l.MessageTimeout > 0 {
			timer = time.NewTimer(l.MessageTimeout)
			perMessage = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil, ctx.Err()
		case <-aggregate:
			stopTimer(timer)
			return nil, fmt.Errorf("%w: aggregate limit %s exceeded", ErrTimeout, l.AggregateTimeout)
		case <-perMessage:
			return nil, fmt.Errorf("%w: no message within %s", ErrTimeout, l.MessageTimeout)
		case f, ok := <-l.frames:
			stopTimer(timer)
			if !ok {
				return nil, l.closeErr()
			}
			var msg protocol.Message
			if err := json.Unmarshal(f.data, &msg); err != nil {
				l.logger.Warn("skipping malformed frame", "error", err)
				continue
			}
			return &msg, nil
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// dispatchNotify shields the loop from a broken handler.
func (l *ReceiveLoop) dispatchNotify(fn NotifyFunc, msg *protocol.Message) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("notification handler panicked", "method", msg.Method, "panic", r)
		}
	}()
	fn(msg)
}
