// ABOUTME: The Service coordinating clients, session records, and the grace-period sweep.
// ABOUTME: One mutex guards all maps; the sweep holds it across its full scan-and-mutate.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/loom-gateway/internal/protocol"
)

// Session errors. Resume failures never mutate ownership.
var (
	ErrInvalidResumeToken  = errors.New("invalid resume token")
	ErrNotFoundOrExpired   = errors.New("session not found or expired")
	ErrSessionActive       = errors.New("session has an active owner")
	ErrClientNotRegistered = errors.New("client not registered")
)

// Conn is the live transport handle registered for a client. The gateway
// registers one per accepted connection; Send must be safe for concurrent use.
type Conn interface {
	Send(msg *protocol.Message) error
	Close() error
}

// Record is the durable (for the process lifetime) half of a session: it
// survives the owning connection going away.
type Record struct {
	SessionID     string
	OwnerClientID string
	Cwd           string
	CreatedAt     time.Time

	resumeToken string
	state       any
}

// EventType classifies a session lifecycle event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventResumed  EventType = "resumed"
	EventOrphaned EventType = "orphaned"
	EventExpired  EventType = "expired"
	EventEnded    EventType = "ended"
)

// Event describes one session lifecycle transition, for audit sinks.
type Event struct {
	Type      EventType
	SessionID string
	ClientID  string
	At        time.Time
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	// GracePeriod is how long a disconnected client's sessions stay resumable.
	GracePeriod time.Duration

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration

	// Clock defaults to the real clock.
	Clock Clock

	Logger *slog.Logger

	// OnEvent, if set, receives every lifecycle transition. It is invoked
	// outside the service lock and must not call back into the Service.
	OnEvent func(Event)
}

// Defaults for Options.
const (
	DefaultGracePeriod   = 5 * time.Minute
	DefaultSweepInterval = 15 * time.Second
)

// Service owns the client registry, the session records, and the
// disconnected-client map, all guarded by one mutex.
type Service struct {
	mu           sync.Mutex
	clients      map[string]Conn
	sessions     map[string]*Record
	disconnected map[string]time.Time
	nextClient   int

	gracePeriod   time.Duration
	sweepInterval time.Duration
	clock         Clock
	logger        *slog.Logger
	onEvent       func(Event)

	lifeMu      sync.Mutex
	started     bool
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewService creates a Service. The sweep goroutine is not started here;
// call Start, or let the first Register start it lazily.
func NewService(opts Options) *Service {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "session")
	}
	return &Service{
		clients:       make(map[string]Conn),
		sessions:      make(map[string]*Record),
		disconnected:  make(map[string]time.Time),
		gracePeriod:   opts.GracePeriod,
		sweepInterval: opts.SweepInterval,
		clock:         opts.Clock,
		logger:        opts.Logger,
		onEvent:       opts.OnEvent,
	}
}

// Register adds a live connection and returns its client id. Ids are
// sequential and never reused. The first registration starts the sweep
// goroutine if Start was not called explicitly.
func (s *Service) Register(conn Conn) string {
	s.mu.Lock()
	id := fmt.Sprintf("client-%d", s.nextClient)
	s.nextClient++
	s.clients[id] = conn
	total := len(s.clients)
	s.mu.Unlock()

	s.Start()

	s.logger.Info("client connected", "client_id", id, "total_clients", total)
	return id
}

// Unregister removes a live connection. Sessions the client owns are not
// deleted; the client is recorded as disconnected and its sessions become
// orphaned, resumable until the grace period elapses. Safe to call twice.
func (s *Service) Unregister(clientID string) {
	now := s.clock.Now()
	var events []Event

	s.mu.Lock()
	if _, ok := s.clients[clientID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, clientID)

	owned := 0
	for sid, rec := range s.sessions {
		if rec.OwnerClientID == clientID {
			owned++
			events = append(events, Event{Type: EventOrphaned, SessionID: sid, ClientID: clientID, At: now})
		}
	}
	if owned > 0 {
		s.disconnected[clientID] = now
	}
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("client disconnected",
		"client_id", clientID,
		"orphaned_sessions", owned,
		"total_clients", total,
	)
	s.emit(events)
}

// Resolve returns the live connection owning the session, or false if the
// session is orphaned or unknown. Notification senders drop on false.
func (s *Service) Resolve(sessionID string) (Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	conn, ok := s.clients[rec.OwnerClientID]
	return conn, ok
}

// OwnerOf returns the owning client id for a session, if it exists.
func (s *Service) OwnerOf(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return "", false
	}
	return rec.OwnerClientID, true
}

// Owns reports whether clientID currently owns sessionID. The dispatcher
// checks this before routing any session-addressed request.
func (s *Service) Owns(clientID, sessionID string) bool {
	owner, ok := s.OwnerOf(sessionID)
	return ok && owner == clientID
}

// Create mints a new Active session owned by clientID and returns the
// session id and its resume token.
func (s *Service) Create(clientID, cwd string) (sessionID, resumeToken string, err error) {
	token, err := newResumeToken()
	if err != nil {
		return "", "", err
	}
	now := s.clock.Now()
	sid := uuid.NewString()

	s.mu.Lock()
	if _, ok := s.clients[clientID]; !ok {
		s.mu.Unlock()
		return "", "", ErrClientNotRegistered
	}
	s.sessions[sid] = &Record{
		SessionID:     sid,
		OwnerClientID: clientID,
		Cwd:           cwd,
		CreatedAt:     now,
		resumeToken:   token,
	}
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", sid, "client_id", clientID)
	s.emit([]Event{{Type: EventCreated, SessionID: sid, ClientID: clientID, At: now}})
	return sid, token, nil
}

// Resume transfers ownership of an orphaned session to clientID after
// verifying the resume token. On any failure nothing is mutated.
func (s *Service) Resume(sessionID, token, clientID string) error {
	now := s.clock.Now()

	s.mu.Lock()
	if _, ok := s.clients[clientID]; !ok {
		s.mu.Unlock()
		return ErrClientNotRegistered
	}
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFoundOrExpired
	}
	if !tokenMatches(rec.resumeToken, token) {
		s.mu.Unlock()
		return ErrInvalidResumeToken
	}
	prev := rec.OwnerClientID
	if prev != clientID {
		if _, live := s.clients[prev]; live {
			s.mu.Unlock()
			return ErrSessionActive
		}
	}
	rec.OwnerClientID = clientID
	if prev != clientID && !s.ownsAnyLocked(prev) {
		delete(s.disconnected, prev)
	}
	s.mu.Unlock()

	s.logger.Info("session resumed",
		"session_id", sessionID,
		"client_id", clientID,
		"previous_owner", prev,
	)
	s.emit([]Event{{Type: EventResumed, SessionID: sessionID, ClientID: clientID, At: now}})
	return nil
}

// End removes a session explicitly (session end or shutdown). Idempotent.
func (s *Service) End(sessionID string) {
	now := s.clock.Now()

	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sessionID)
	owner := rec.OwnerClientID
	if _, disc := s.disconnected[owner]; disc && !s.ownsAnyLocked(owner) {
		delete(s.disconnected, owner)
	}
	s.mu.Unlock()

	s.logger.Info("session ended", "session_id", sessionID, "client_id", owner)
	s.emit([]Event{{Type: EventEnded, SessionID: sessionID, ClientID: owner, At: now}})
}

// SetState replaces the cached agent state for a session.
func (s *Service) SetState(sessionID string, state any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFoundOrExpired
	}
	rec.state = state
	return nil
}

// StateOf returns the cached agent state for a session.
func (s *Service) StateOf(sessionID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rec.state, true
}

// Snapshot returns a copy of a session record for read-only inspection.
func (s *Service) Snapshot(sessionID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Counts reports live clients, sessions, and orphaned sessions.
func (s *Service) Counts() (clients, sessions, orphaned int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.sessions {
		if _, live := s.clients[rec.OwnerClientID]; !live {
			orphaned++
		}
	}
	return len(s.clients), len(s.sessions), orphaned
}

// ownsAnyLocked reports whether clientID still owns any session.
// Must be called with mu held.
func (s *Service) ownsAnyLocked(clientID string) bool {
	for _, rec := range s.sessions {
		if rec.OwnerClientID == clientID {
			return true
		}
	}
	return false
}

func (s *Service) emit(events []Event) {
	if s.onEvent == nil {
		return
	}
	for _, ev := range events {
		s.onEvent(ev)
	}
}
