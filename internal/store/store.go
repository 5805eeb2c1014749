// ABOUTME: The audit Store interface and the session lifecycle event shape.
// ABOUTME: Sessions themselves are never persisted; only their transitions are logged.

package store

import (
	"context"
	"time"
)

// SessionEvent is one session lifecycle transition for the audit log.
type SessionEvent struct {
	SessionID string
	ClientID  string
	Type      string // created, resumed, orphaned, expired, ended
	At        time.Time
}

// Store is the audit sink the gateway writes lifecycle events to.
type Store interface {
	RecordSessionEvent(ctx context.Context, ev *SessionEvent) error
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]*SessionEvent, error)
	Close() error
}

// NopStore discards everything; used when the audit log is disabled.
type NopStore struct{}

func (NopStore) RecordSessionEvent(context.Context, *SessionEvent) error { return nil }

func (NopStore) ListSessionEvents(context.Context, string, int) ([]*SessionEvent, error) {
	return nil, nil
}

func (NopStore) Close() error { return nil }
