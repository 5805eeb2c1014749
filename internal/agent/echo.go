// ABOUTME: A reference agent that streams staged session/update notifications.
// ABOUTME: Echoes prompts back chunk by chunk with cancel support; used by loom-cli and tests.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/loom-gateway/internal/protocol"
)

// transcript is the cached state the echo agent keeps per session.
type transcript struct {
	Prompts []string
}

// EchoAgent implements Agent by echoing each prompt back as a plan update,
// a stream of text chunks, and a final done update.
type EchoAgent struct {
	notifier Notifier
	states   StateStore
	logger   *slog.Logger

	// ChunkDelay spaces out text chunks so streaming is visible. Zero in tests.
	ChunkDelay time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewEchoAgent creates an EchoAgent pushing through the given notifier and
// caching transcripts in the given state store.
func NewEchoAgent(notifier Notifier, states StateStore, logger *slog.Logger) *EchoAgent {
	if logger == nil {
		logger = slog.Default().With("component", "echo-agent")
	}
	return &EchoAgent{
		notifier:   notifier,
		states:     states,
		logger:     logger,
		ChunkDelay: 50 * time.Millisecond,
		running:    make(map[string]context.CancelFunc),
	}
}

// Initialize answers the handshake with the agent's identity.
func (a *EchoAgent) Initialize(_ context.Context, params protocol.InitializeParams) (protocol.InitializeResult, error) {
	a.logger.Debug("initialize", "client_name", params.ClientName, "protocol_version", params.ProtocolVersion)
	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      protocol.ServerInfo{Name: "loom-echo-agent", Version: "1.0.0"},
	}, nil
}

// NewSession seeds an empty transcript for the session.
func (a *EchoAgent) NewSession(_ context.Context, sessionID string, params protocol.NewSessionParams) error {
	a.logger.Info("new session", "session_id", sessionID, "cwd", params.Cwd)
	return a.states.SetState(sessionID, &transcript{})
}

// ResumeSession checks the cached transcript is still there after a resume.
func (a *EchoAgent) ResumeSession(_ context.Context, sessionID string, _ protocol.ResumeSessionParams) error {
	state, ok := a.states.StateOf(sessionID)
	if !ok {
		return fmt.Errorf("no cached state for session %s", sessionID)
	}
	tr, _ := state.(*transcript)
	n := 0
	if tr != nil {
		n = len(tr.Prompts)
	}
	a.logger.Info("session resumed", "session_id", sessionID, "transcript_prompts", n)
	return nil
}

// Prompt starts streaming updates for the session and returns immediately.
// A prompt already in flight for the same session is cancelled first.
func (a *EchoAgent) Prompt(_ context.Context, sessionID string, params protocol.PromptParams) error {
	runCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	if prev, ok := a.running[sessionID]; ok {
		prev()
	}
	a.running[sessionID] = cancel
	a.mu.Unlock()

	go a.run(runCtx, sessionID, params.Prompt)
	return nil
}

// Cancel aborts the in-flight prompt for the session, if any. Idempotent.
func (a *EchoAgent) Cancel(_ context.Context, sessionID string) error {
	a.mu.Lock()
	cancel, ok := a.running[sessionID]
	a.mu.Unlock()

	if ok {
		cancel()
	}
	return nil
}

func (a *EchoAgent) run(ctx context.Context, sessionID, prompt string) {
	defer func() {
		a.mu.Lock()
		delete(a.running, sessionID)
		a.mu.Unlock()
	}()

	a.record(sessionID, prompt)
	a.notifier.Push(sessionID, protocol.SessionUpdate{
		Kind: protocol.UpdatePlan,
		Text: fmt.Sprintf("echoing %d words", len(strings.Fields(prompt))),
	})

	for _, word := range strings.Fields(prompt) {
		if a.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				a.notifier.Push(sessionID, protocol.SessionUpdate{Kind: protocol.UpdateCancelled, Text: "prompt cancelled"})
				return
			case <-time.After(a.ChunkDelay):
			}
		} else if ctx.Err() != nil {
			a.notifier.Push(sessionID, protocol.SessionUpdate{Kind: protocol.UpdateCancelled, Text: "prompt cancelled"})
			return
		}
		a.notifier.Push(sessionID, protocol.SessionUpdate{Kind: protocol.UpdateText, Text: word})
	}

	a.notifier.Push(sessionID, protocol.SessionUpdate{Kind: protocol.UpdateDone})
}

// record appends the prompt to the session transcript.
func (a *EchoAgent) record(sessionID, prompt string) {
	state, ok := a.states.StateOf(sessionID)
	if !ok {
		return
	}
	tr, ok := state.(*transcript)
	if !ok || tr == nil {
		tr = &transcript{}
	}
	tr.Prompts = append(tr.Prompts, prompt)
	if err := a.states.SetState(sessionID, tr); err != nil {
		a.logger.Warn("recording prompt", "session_id", sessionID, "error", err)
	}
}
