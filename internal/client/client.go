// ABOUTME: Typed request API over a transport and its receive loop.
// ABOUTME: One method per gateway RPC; prompt output streams through an update callback.

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/2389/loom-gateway/internal/protocol"
)

// UpdateFunc receives streamed session updates during a prompt.
type UpdateFunc func(update protocol.SessionUpdate)

// Client issues typed requests over one connection. Request ids are
// monotonic per client; the receive loop matches responses by id.
type Client struct {
	transport Transport
	loop      *ReceiveLoop
	logger    *slog.Logger
	nextID    atomic.Int64
}

// New wraps a transport. Timeouts on the receive loop default to zero
// (disabled); callers set them from config.
func New(t Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "client")
	}
	return &Client{
		transport: t,
		loop:      NewReceiveLoop(t, logger),
		logger:    logger,
	}
}

// Loop exposes the receive loop so callers can tune timeouts or run the
// persistent mode directly.
func (c *Client) Loop() *ReceiveLoop { return c.loop }

// Close tears down the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context, clientName string) (*protocol.InitializeResult, error) {
	var result protocol.InitializeResult
	err := c.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientName:      clientName,
	}, &result, nil)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// NewSession creates a session owned by this connection. The result carries
// the resume token; lose it and the session dies with the connection.
func (c *Client) NewSession(ctx context.Context, cwd string) (*protocol.NewSessionResult, error) {
	var result protocol.NewSessionResult
	err := c.call(ctx, protocol.MethodNewSession, protocol.NewSessionParams{Cwd: cwd}, &result, nil)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ResumeSession reclaims an orphaned session on this connection.
func (c *Client) ResumeSession(ctx context.Context, cwd, sessionID, resumeToken string) error {
	return c.call(ctx, protocol.MethodResumeSession, protocol.ResumeSessionParams{
		Cwd:         cwd,
		SessionID:   sessionID,
		ResumeToken: resumeToken,
	}, nil, nil)
}

// Prompt submits a prompt and streams session/update notifications for the
// session to onUpdate until the response arrives. Updates for other sessions
// sharing the connection are ignored here.
func (c *Client) Prompt(ctx context.Context, sessionID, prompt string, onUpdate UpdateFunc) error {
	var onNotify NotifyFunc
	if onUpdate != nil {
		onNotify = func(msg *protocol.Message) {
			if msg.Method != string(protocol.MethodSessionUpdate) {
				return
			}
			var params protocol.SessionUpdateParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				c.logger.Warn("malformed session update", "error", err)
				return
			}
			if params.SessionID != sessionID {
				return
			}
			onUpdate(params.Update)
		}
	}
	return c.call(ctx, protocol.MethodPrompt, protocol.PromptParams{
		SessionID: sessionID,
		Prompt:    prompt,
	}, nil, onNotify)
}

// Cancel aborts the in-flight prompt for a session.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.call(ctx, protocol.MethodCancel, protocol.CancelParams{SessionID: sessionID}, nil, nil)
}

// call sends one request and waits for its response. A JSON-RPC error
// response is returned as the *protocol.ErrorObject so callers can inspect
// code and data.
func (c *Client) call(ctx context.Context, method protocol.Method, params, result any, onNotify NotifyFunc) error {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	if err := c.transport.WriteFrame(raw); err != nil {
		return fmt.Errorf("sending %s request: %w", method, err)
	}

	resp, err := c.loop.WaitResponse(ctx, id, onNotify)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}
