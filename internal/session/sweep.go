// ABOUTME: Background sweep that expires orphaned sessions after the grace period.
// ABOUTME: Start/Stop lifecycle with a lazy-start guard; Stop awaits the goroutine.

package session

import (
	"context"
	"time"
)

// Start launches the background sweep goroutine. It is idempotent: the
// first call wins, later calls (including the lazy start from Register)
// are no-ops.
func (s *Service) Start() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})
	s.started = true
	go s.sweepLoop(ctx, s.sweepDone)

	s.logger.Debug("grace-period sweep started",
		"grace_period", s.gracePeriod,
		"sweep_interval", s.sweepInterval,
	)
}

// Stop cancels the sweep goroutine and waits for it to exit. Safe to call
// without Start and safe to call twice.
func (s *Service) Stop() {
	s.lifeMu.Lock()
	if !s.started {
		s.lifeMu.Unlock()
		return
	}
	cancel := s.sweepCancel
	done := s.sweepDone
	s.started = false
	s.lifeMu.Unlock()

	cancel()
	<-done
}

func (s *Service) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep expires every session owned by a client that has been disconnected
// longer than the grace period. The service lock is held for the entire
// scan-and-mutate step: a concurrent Resume either completes before the
// sweep and keeps the session, or arrives after and gets not-found.
func (s *Service) Sweep() {
	now := s.clock.Now()
	var events []Event

	s.mu.Lock()
	for clientID, since := range s.disconnected {
		if now.Sub(since) < s.gracePeriod {
			continue
		}
		for sid, rec := range s.sessions {
			if rec.OwnerClientID == clientID {
				delete(s.sessions, sid)
				events = append(events, Event{Type: EventExpired, SessionID: sid, ClientID: clientID, At: now})
			}
		}
		delete(s.disconnected, clientID)
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.logger.Info("session expired", "session_id", ev.SessionID, "client_id", ev.ClientID)
	}
	s.emit(events)
}
