// ABOUTME: Gateway orchestrator wiring config, sessions, agent, auth, and the HTTP server.
// ABOUTME: Accepts websocket connections, runs per-connection read loops, routes notifications.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/loom-gateway/internal/agent"
	"github.com/2389/loom-gateway/internal/auth"
	"github.com/2389/loom-gateway/internal/config"
	"github.com/2389/loom-gateway/internal/protocol"
	"github.com/2389/loom-gateway/internal/session"
	"github.com/2389/loom-gateway/internal/store"
)

// Maximum inbound frame size. Prompts are text; anything bigger is abuse.
const maxFrameSize = 1 << 20

// AgentFactory builds the agent collaborator once the gateway can hand it
// a notifier and the session state store.
type AgentFactory func(notifier agent.Notifier, states agent.StateStore) agent.Agent

// Gateway orchestrates the loom-gateway server components: the session
// service, the agent, the audit store, and the websocket endpoint.
type Gateway struct {
	config     *config.Config
	sessions   *session.Service
	agent      agent.Agent
	dispatcher *Dispatcher
	verifier   auth.TokenVerifier
	store      store.Store
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	// droppedNotifications counts session/update pushes discarded because
	// the target session was orphaned at push time.
	droppedNotifications atomic.Int64
}

// New assembles a Gateway from config. newAgent may be nil, in which case
// the echo agent is used.
func New(cfg *config.Config, newAgent AgentFactory) (*Gateway, error) {
	logger := slog.Default().With("component", "gateway")

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:   cfg,
		verifier: verifierFromConfig(cfg),
		store:    st,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	g.sessions = session.NewService(session.Options{
		GracePeriod:   cfg.Sessions.GracePeriod,
		SweepInterval: cfg.Sessions.SweepInterval,
		OnEvent:       g.audit,
	})

	if newAgent == nil {
		newAgent = func(n agent.Notifier, s agent.StateStore) agent.Agent {
			return agent.NewEchoAgent(n, s, nil)
		}
	}
	g.agent = newAgent(g, g.sessions)
	g.dispatcher = NewDispatcher(g.sessions, g.agent, logger.With("component", "dispatcher"))

	return g, nil
}

// initStore creates the audit store, or a no-op one when disabled.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path == "" {
		return store.NopStore{}, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// verifierFromConfig picks the auth scheme: JWT wins over static token;
// neither configured means loopback mode with auth disabled.
func verifierFromConfig(cfg *config.Config) auth.TokenVerifier {
	if cfg.Server.JWTSecret != "" {
		return auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret))
	}
	if cfg.Server.AuthToken != "" {
		return auth.NewStaticVerifier(cfg.Server.AuthToken)
	}
	return auth.AllowAll{}
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	g.sessions.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", g.handleHealth)

	g.httpServer = &http.Server{
		Addr:    g.config.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		g.shutdown()
		return fmt.Errorf("http server: %w", err)
	}

	g.shutdown()
	return nil
}

// shutdown stops the HTTP server, the sweep goroutine, and the audit store.
func (g *Gateway) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if g.httpServer != nil {
		if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("http shutdown", "error", err)
		}
	}
	g.sessions.Stop()
	if err := g.store.Close(); err != nil {
		g.logger.Warn("closing store", "error", err)
	}

	g.logger.Info("gateway stopped", "dropped_notifications", g.droppedNotifications.Load())
}

// handleWS authenticates and upgrades a connection, then runs its read loop.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.FromHeader(r.Header.Get("Authorization"))
	if token == "" {
		// Browser websocket clients cannot set headers.
		token = r.URL.Query().Get("access_token")
	}
	principal, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Warn("rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newWSConn(ws)
	clientID := g.sessions.Register(conn)
	g.logger.Info("connection accepted", "client_id", clientID, "principal", principal, "remote", r.RemoteAddr)

	// Cancelling the context tells in-flight handlers the connection is
	// gone; they may finish, but their responses are unsendable.
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer g.sessions.Unregister(clientID)
	defer ws.Close()

	state := &connState{clientID: clientID, conn: conn}
	ws.SetReadLimit(maxFrameSize)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("read error", "client_id", clientID, "error", err)
			}
			return
		}
		g.dispatcher.HandleFrame(connCtx, state, raw)
	}
}

// handleHealth reports liveness plus registry counters.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	clients, sessions, orphaned := g.sessions.Counts()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":                "ok",
		"clients":               clients,
		"sessions":              sessions,
		"orphaned_sessions":     orphaned,
		"dropped_notifications": g.droppedNotifications.Load(),
	})
}

// Push implements agent.Notifier. Updates for orphaned sessions are
// dropped, not queued: unbounded buffering during a disconnect is a
// memory-safety risk, and lost in-flight updates on resume are accepted.
func (g *Gateway) Push(sessionID string, update protocol.SessionUpdate) {
	conn, ok := g.sessions.Resolve(sessionID)
	if !ok {
		g.droppedNotifications.Add(1)
		g.logger.Debug("dropping update for orphaned session", "session_id", sessionID, "kind", update.Kind)
		return
	}

	msg, err := protocol.NewNotification(protocol.MethodSessionUpdate, protocol.SessionUpdateParams{
		SessionID: sessionID,
		Update:    update,
	})
	if err != nil {
		g.logger.Error("building session update", "session_id", sessionID, "error", err)
		return
	}
	if err := conn.Send(msg); err != nil {
		g.logger.Debug("sending session update", "session_id", sessionID, "error", err)
	}
}

// audit forwards session lifecycle events to the store.
func (g *Gateway) audit(ev session.Event) {
	err := g.store.RecordSessionEvent(context.Background(), &store.SessionEvent{
		SessionID: ev.SessionID,
		ClientID:  ev.ClientID,
		Type:      string(ev.Type),
		At:        ev.At,
	})
	if err != nil {
		g.logger.Warn("recording audit event", "session_id", ev.SessionID, "error", err)
	}
}

// Sessions exposes the session service to embedding binaries (the bridge
// mode and tests).
func (g *Gateway) Sessions() *session.Service { return g.sessions }

// DroppedNotifications reports how many updates were discarded because the
// target session was orphaned.
func (g *Gateway) DroppedNotifications() int64 { return g.droppedNotifications.Load() }

// wsConn wraps a websocket connection with write serialization so handler
// responses and agent notifications never interleave mid-frame.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn { return &wsConn{ws: ws} }

func (c *wsConn) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) Close() error { return c.ws.Close() }
