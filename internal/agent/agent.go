// ABOUTME: The Agent collaborator boundary: business logic behind the gateway.
// ABOUTME: The gateway owns session/ownership checks; the agent owns prompt execution.

package agent

import (
	"context"

	"github.com/2389/loom-gateway/internal/protocol"
)

// Notifier is how an agent pushes session/update notifications back toward
// the owning client. If the session is orphaned the update is dropped, not
// queued; implementations must never block on a slow or absent client.
type Notifier interface {
	Push(sessionID string, update protocol.SessionUpdate)
}

// StateStore gives the agent access to the per-session cached state that
// survives disconnects and is released when the session expires.
type StateStore interface {
	SetState(sessionID string, state any) error
	StateOf(sessionID string) (any, bool)
}

// Agent is the collaborator the dispatcher delegates to after its session
// and ownership checks pass.
type Agent interface {
	Initialize(ctx context.Context, params protocol.InitializeParams) (protocol.InitializeResult, error)
	NewSession(ctx context.Context, sessionID string, params protocol.NewSessionParams) error
	ResumeSession(ctx context.Context, sessionID string, params protocol.ResumeSessionParams) error

	// Prompt must return promptly; output is streamed asynchronously via
	// the Notifier as session/update notifications.
	Prompt(ctx context.Context, sessionID string, params protocol.PromptParams) error

	Cancel(ctx context.Context, sessionID string) error
}
