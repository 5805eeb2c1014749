// ABOUTME: Per-connection JSON-RPC dispatch: parse, classify, route, isolate failures.
// ABOUTME: One bad request never kills the read loop; session requests are ownership-checked.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/loom-gateway/internal/agent"
	"github.com/2389/loom-gateway/internal/protocol"
	"github.com/2389/loom-gateway/internal/session"
)

// connState is what a handler knows about the connection a request arrived on.
type connState struct {
	clientID string
	conn     session.Conn
}

// handlerFunc executes one routed request. A non-nil ErrorObject becomes
// the error response; otherwise the result is marshaled into a success
// response.
type handlerFunc func(ctx context.Context, c *connState, params json.RawMessage) (any, *protocol.ErrorObject)

// Dispatcher routes inbound frames for one or more connections. The method
// table is built once at construction; anything outside it is rejected.
type Dispatcher struct {
	sessions *session.Service
	agent    agent.Agent
	logger   *slog.Logger
	handlers map[protocol.Method]handlerFunc
}

// NewDispatcher builds the dispatcher and its closed method table.
func NewDispatcher(sessions *session.Service, ag agent.Agent, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default().With("component", "dispatcher")
	}
	d := &Dispatcher{
		sessions: sessions,
		agent:    ag,
		logger:   logger,
	}
	d.handlers = map[protocol.Method]handlerFunc{
		protocol.MethodInitialize:    d.handleInitialize,
		protocol.MethodNewSession:    d.handleNewSession,
		protocol.MethodResumeSession: d.handleResumeSession,
		protocol.MethodPrompt:        d.handlePrompt,
		protocol.MethodCancel:        d.handleCancel,
	}
	return d
}

// HandleFrame processes one inbound frame and sends any response on the
// connection. Malformed JSON gets a parse-error response and the connection
// stays open. Send failures are logged; the caller's read loop decides
// liveness from its own reads.
func (d *Dispatcher) HandleFrame(ctx context.Context, c *connState, raw []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.logger.Debug("unparseable frame", "client_id", c.clientID, "error", err)
		d.send(c, protocol.ParseErrorResponse())
		return
	}

	switch {
	case msg.IsRequest():
		d.send(c, d.route(ctx, c, &msg))
	case msg.IsNotification():
		// Clients have no notifications in the protocol today.
		d.logger.Debug("ignoring client notification", "client_id", c.clientID, "method", msg.Method)
	default:
		d.logger.Debug("dropping unroutable frame", "client_id", c.clientID)
	}
}

// route looks the method up in the closed table and invokes the handler
// with panic isolation.
func (d *Dispatcher) route(ctx context.Context, c *connState, msg *protocol.Message) (resp *protocol.Message) {
	h, ok := d.handlers[protocol.Method(msg.Method)]
	if !ok {
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, "internal error",
			fmt.Sprintf("%s: %s", protocol.DataUnknownMethod, msg.Method))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				"client_id", c.clientID,
				"method", msg.Method,
				"panic", r,
			)
			resp = protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, "internal error", "handler panic")
		}
	}()

	result, eobj := h(ctx, c, msg.Params)
	if eobj != nil {
		return &protocol.Message{ID: msg.ID, Error: eobj}
	}
	out, err := protocol.NewResponse(msg.ID, result)
	if err != nil {
		d.logger.Error("marshaling result", "method", msg.Method, "error", err)
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, "internal error", "")
	}
	return out
}

func (d *Dispatcher) send(c *connState, msg *protocol.Message) {
	if msg == nil {
		return
	}
	if err := c.conn.Send(msg); err != nil {
		d.logger.Debug("sending response", "client_id", c.clientID, "error", err)
	}
}

func (d *Dispatcher) handleInitialize(ctx context.Context, c *connState, raw json.RawMessage) (any, *protocol.ErrorObject) {
	var params protocol.InitializeParams
	if eobj := unmarshalParams(raw, &params); eobj != nil {
		return nil, eobj
	}

	result, err := d.agent.Initialize(ctx, params)
	if err != nil {
		return nil, internalError(err.Error())
	}
	d.logger.Info("client initialized", "client_id", c.clientID, "client_name", params.ClientName)
	return result, nil
}

func (d *Dispatcher) handleNewSession(ctx context.Context, c *connState, raw json.RawMessage) (any, *protocol.ErrorObject) {
	var params protocol.NewSessionParams
	if eobj := unmarshalParams(raw, &params); eobj != nil {
		return nil, eobj
	}

	sessionID, token, err := d.sessions.Create(c.clientID, params.Cwd)
	if err != nil {
		return nil, internalError(err.Error())
	}

	if err := d.agent.NewSession(ctx, sessionID, params); err != nil {
		// The agent could not set the session up; do not leak the record.
		d.sessions.End(sessionID)
		return nil, internalError(err.Error())
	}

	return protocol.NewSessionResult{
		SessionID: sessionID,
		Meta:      &protocol.ResultMeta{ResumeToken: token},
	}, nil
}

func (d *Dispatcher) handleResumeSession(ctx context.Context, c *connState, raw json.RawMessage) (any, *protocol.ErrorObject) {
	var params protocol.ResumeSessionParams
	if eobj := unmarshalParams(raw, &params); eobj != nil {
		return nil, eobj
	}

	if err := d.sessions.Resume(params.SessionID, params.ResumeToken, c.clientID); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFoundOrExpired):
			return nil, internalError(protocol.DataNotFoundOrExpired)
		case errors.Is(err, session.ErrInvalidResumeToken):
			return nil, internalError(protocol.DataInvalidResumeToken)
		case errors.Is(err, session.ErrSessionActive):
			return nil, internalError(protocol.DataSessionActive)
		default:
			return nil, internalError(err.Error())
		}
	}

	if err := d.agent.ResumeSession(ctx, params.SessionID, params); err != nil {
		return nil, internalError(err.Error())
	}
	return protocol.ResumeSessionResult{}, nil
}

func (d *Dispatcher) handlePrompt(ctx context.Context, c *connState, raw json.RawMessage) (any, *protocol.ErrorObject) {
	var params protocol.PromptParams
	if eobj := unmarshalParams(raw, &params); eobj != nil {
		return nil, eobj
	}
	if eobj := d.checkOwnership(c, params.SessionID); eobj != nil {
		return nil, eobj
	}

	if err := d.agent.Prompt(ctx, params.SessionID, params); err != nil {
		return nil, internalError(err.Error())
	}
	return protocol.PromptResult{}, nil
}

func (d *Dispatcher) handleCancel(ctx context.Context, c *connState, raw json.RawMessage) (any, *protocol.ErrorObject) {
	var params protocol.CancelParams
	if eobj := unmarshalParams(raw, &params); eobj != nil {
		return nil, eobj
	}
	if eobj := d.checkOwnership(c, params.SessionID); eobj != nil {
		return nil, eobj
	}

	if err := d.agent.Cancel(ctx, params.SessionID); err != nil {
		return nil, internalError(err.Error())
	}
	return protocol.CancelResult{}, nil
}

// checkOwnership rejects session-addressed requests arriving on a
// connection that does not currently own the session. This is what keeps
// one client from driving another client's session.
func (d *Dispatcher) checkOwnership(c *connState, sessionID string) *protocol.ErrorObject {
	owner, ok := d.sessions.OwnerOf(sessionID)
	if !ok {
		return internalError(protocol.DataNotFoundOrExpired)
	}
	if owner != c.clientID {
		d.logger.Warn("cross-client session request rejected",
			"client_id", c.clientID,
			"session_id", sessionID,
			"owner", owner,
		)
		return internalError(protocol.DataNotSessionOwner)
	}
	return nil
}

func unmarshalParams(raw json.RawMessage, dst any) *protocol.ErrorObject {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return internalError(fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

func internalError(data string) *protocol.ErrorObject {
	return &protocol.ErrorObject{Code: protocol.CodeInternalError, Message: "internal error", Data: data}
}
