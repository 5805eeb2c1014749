// ABOUTME: Exponential-backoff wrapper around one connect+handshake attempt.
// ABOUTME: Jittered delays avoid synchronized reconnection storms after a server restart.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ErrRetriesExhausted is returned when every allowed attempt failed.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// ConnState is reported to the Reconnector's observer as attempts progress.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

// Reconnector drives one connect+handshake to success or exhaustion. It
// returns after a single successful handshake; callers that want to survive
// a later mid-session drop call Run again.
type Reconnector struct {
	// Connect performs one full connect+handshake attempt. On success the
	// caller keeps whatever Connect captured; the Reconnector only cares
	// whether it succeeded.
	Connect func(ctx context.Context) error

	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// MaxRetries bounds the number of attempts; 0 means retry forever.
	MaxRetries int

	// Jitter scales each delay by a uniform factor in [0.5, 1.0].
	Jitter bool

	// Observer receives state transitions. Optional.
	Observer func(state ConnState)

	Logger *slog.Logger

	// Test seams. Nil means real sleep / math/rand.
	sleep func(ctx context.Context, d time.Duration) error
	randF func() float64
}

// Run attempts to connect until one attempt succeeds, retries are exhausted,
// or ctx is cancelled.
func (r *Reconnector) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default().With("component", "reconnect")
	}

	var lastErr error
	for attempt := 0; r.MaxRetries == 0 || attempt < r.MaxRetries; attempt++ {
		if attempt == 0 {
			r.observe(StateConnecting)
		} else {
			r.observe(StateReconnecting)
			delay := r.delay(attempt - 1)
			logger.Debug("backing off before reconnect", "attempt", attempt, "delay", delay)
			if err := r.doSleep(ctx, delay); err != nil {
				return err
			}
		}

		if err := r.Connect(ctx); err != nil {
			lastErr = err
			logger.Warn("connect attempt failed", "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		r.observe(StateConnected)
		return nil
	}

	r.observe(StateFailed)
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.MaxRetries, lastErr)
}

// delay computes initial_delay * factor^attempt capped at MaxDelay, with
// optional jitter in [50%, 100%] of the computed value.
func (r *Reconnector) delay(attempt int) time.Duration {
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}

	d := time.Duration(float64(r.InitialDelay) * math.Pow(factor, float64(attempt)))
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}

	if r.Jitter && d > 0 {
		rf := r.randF
		if rf == nil {
			rf = rand.Float64
		}
		d = time.Duration(float64(d) * (0.5 + 0.5*rf()))
	}
	return d
}

func (r *Reconnector) doSleep(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Reconnector) observe(s ConnState) {
	if r.Observer != nil {
		r.Observer(s)
	}
}
