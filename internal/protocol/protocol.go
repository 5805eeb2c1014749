// ABOUTME: JSON-RPC 2.0 frame types shared by the gateway and client roles.
// ABOUTME: Defines the closed method table and typed params/results for each RPC.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version carried on every request.
const Version = "2.0"

// ProtocolVersion identifies the loom wire protocol revision negotiated
// during the initialize handshake.
const ProtocolVersion = "1"

// Method identifies a JSON-RPC method.
type Method string

// The closed set of methods the gateway dispatches. Anything outside this
// table is answered with an unknown-method error rather than routed.
const (
	MethodInitialize    Method = "initialize"
	MethodNewSession    Method = "new_session"
	MethodResumeSession Method = "resume_session"
	MethodPrompt        Method = "prompt"
	MethodCancel        Method = "cancel"

	// MethodSessionUpdate is notification-only, gateway to client.
	MethodSessionUpdate Method = "session/update"
)

// Known reports whether m is a request method the gateway accepts.
func (m Method) Known() bool {
	switch m {
	case MethodInitialize, MethodNewSession, MethodResumeSession, MethodPrompt, MethodCancel:
		return true
	}
	return false
}

// Message is the single envelope for every frame on the wire: requests,
// responses, and notifications. Which one it is depends on the presence
// of the id and method fields.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// IsRequest reports whether the message is a request (has id and method).
func (m *Message) IsRequest() bool { return m.ID != "" && m.Method != "" }

// IsResponse reports whether the message is a response to a request.
func (m *Message) IsResponse() bool { return m.ID != "" && m.Method == "" }

// IsNotification reports whether the message is a notification (method, no id).
func (m *Message) IsNotification() bool { return m.ID == "" && m.Method != "" }

// NewRequest builds a request frame, marshaling params.
func NewRequest(id string, method Method, params any) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s params: %w", method, err)
	}
	return &Message{JSONRPC: Version, ID: id, Method: string(method), Params: raw}, nil
}

// NewResponse builds a success response frame, marshaling the result.
func NewResponse(id string, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Message{ID: id, Result: raw}, nil
}

// NewNotification builds a notification frame, marshaling params.
func NewNotification(method Method, params any) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s params: %w", method, err)
	}
	return &Message{JSONRPC: Version, Method: string(method), Params: raw}, nil
}

// InitializeParams is sent by a client opening a connection.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	ClientName      string `json:"clientName,omitempty"`
}

// ServerInfo describes the gateway in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the gateway's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// MCPServerConfig names an MCP server the agent should connect for a session.
type MCPServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// NewSessionParams requests a fresh session.
type NewSessionParams struct {
	Cwd        string            `json:"cwd"`
	MCPServers []MCPServerConfig `json:"mcp_servers,omitempty"`
}

// ResultMeta carries out-of-band result fields under the _meta key.
type ResultMeta struct {
	ResumeToken string `json:"resume_token,omitempty"`
}

// NewSessionResult returns the session id plus the resume token under _meta.
// The token is the reconnection capability; the session id alone is not.
type NewSessionResult struct {
	SessionID string      `json:"sessionId"`
	Meta      *ResultMeta `json:"_meta,omitempty"`
}

// ResumeSessionParams reclaims an orphaned session on a new connection.
type ResumeSessionParams struct {
	Cwd         string `json:"cwd,omitempty"`
	SessionID   string `json:"session_id"`
	ResumeToken string `json:"resume_token"`
}

// ResumeSessionResult is empty on success.
type ResumeSessionResult struct{}

// PromptParams submits a user prompt to the agent for a session.
type PromptParams struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// PromptResult acknowledges that the prompt was accepted; output arrives
// as session/update notifications.
type PromptResult struct{}

// CancelParams aborts the in-flight prompt for a session.
type CancelParams struct {
	SessionID string `json:"session_id"`
}

// CancelResult is empty on success.
type CancelResult struct{}

// UpdateKind classifies a session/update payload.
type UpdateKind string

const (
	UpdatePlan      UpdateKind = "plan"
	UpdateText      UpdateKind = "text"
	UpdateToolUse   UpdateKind = "tool_use"
	UpdateDone      UpdateKind = "done"
	UpdateCancelled UpdateKind = "cancelled"
	UpdateError     UpdateKind = "error"
)

// SessionUpdate is the payload pushed to the owning client as work progresses.
type SessionUpdate struct {
	Kind UpdateKind `json:"kind"`
	Text string     `json:"text,omitempty"`
}

// SessionUpdateParams wraps a SessionUpdate for the session/update notification.
type SessionUpdateParams struct {
	SessionID string        `json:"session_id"`
	Update    SessionUpdate `json:"update"`
}
