// ABOUTME: Tests for frame parsing, routing, failure isolation, and ownership checks.
// ABOUTME: Drives the dispatcher directly with fake connections, no websockets involved.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-gateway/internal/agent"
	"github.com/2389/loom-gateway/internal/protocol"
	"github.com/2389/loom-gateway/internal/session"
)

// fakeConn records frames sent to one client.
type fakeConn struct {
	mu   sync.Mutex
	sent []*protocol.Message
}

func (c *fakeConn) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) frames() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) last(t *testing.T) *protocol.Message {
	t.Helper()
	frames := c.frames()
	require.NotEmpty(t, frames, "expected at least one sent frame")
	return frames[len(frames)-1]
}

// stubAgent lets tests inject per-method behavior.
type stubAgent struct {
	newSessionErr error
	promptErr     error
	promptPanic   bool
	cancelled     []string
	mu            sync.Mutex
}

func (a *stubAgent) Initialize(context.Context, protocol.InitializeParams) (protocol.InitializeResult, error) {
	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      protocol.ServerInfo{Name: "stub", Version: "0"},
	}, nil
}

func (a *stubAgent) NewSession(context.Context, string, protocol.NewSessionParams) error {
	return a.newSessionErr
}

func (a *stubAgent) ResumeSession(context.Context, string, protocol.ResumeSessionParams) error {
	return nil
}

func (a *stubAgent) Prompt(context.Context, string, protocol.PromptParams) error {
	if a.promptPanic {
		panic("stub agent exploded")
	}
	return a.promptErr
}

func (a *stubAgent) Cancel(_ context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, sessionID)
	return nil
}

type dispatcherFixture struct {
	sessions *session.Service
	agent    *stubAgent
	d        *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	sessions := session.NewService(session.Options{
		GracePeriod:   time.Minute,
		SweepInterval: time.Hour,
	})
	t.Cleanup(sessions.Stop)
	ag := &stubAgent{}
	return &dispatcherFixture{
		sessions: sessions,
		agent:    ag,
		d:        NewDispatcher(sessions, ag, nil),
	}
}

func (f *dispatcherFixture) connect() (*connState, *fakeConn) {
	conn := &fakeConn{}
	id := f.sessions.Register(conn)
	return &connState{clientID: id, conn: conn}, conn
}

func request(t *testing.T, id string, method string, params any) []byte {
	t.Helper()
	msg, err := protocol.NewRequest(id, protocol.Method(method), params)
	require.NoError(t, err)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func TestMalformedJSONThenValidRequest(t *testing.T) {
	f := newDispatcherFixture(t)
	state, conn := f.connect()
	ctx := context.Background()

	f.d.HandleFrame(ctx, state, []byte(`{"jsonrpc": nope`))

	resp := conn.last(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)
	assert.Empty(t, resp.ID)

	// The same connection still accepts a subsequent valid request.
	f.d.HandleFrame(ctx, state, request(t, "1", "initialize", protocol.InitializeParams{}))
	resp = conn.last(t)
	assert.Equal(t, "1", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestUnknownMethodNamesTheMethod(t *testing.T) {
	f := newDispatcherFixture(t)
	state, conn := f.connect()

	f.d.HandleFrame(context.Background(), state, request(t, "9", "jump_the_shark", nil))

	resp := conn.last(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Data, protocol.DataUnknownMethod)
	assert.Contains(t, resp.Error.Data, "jump_the_shark")
}

func TestClientNotificationIsIgnored(t *testing.T) {
	f := newDispatcherFixture(t)
	state, conn := f.connect()

	f.d.HandleFrame(context.Background(), state, []byte(`{"method":"session/update","params":{}}`))
	assert.Empty(t, conn.frames(), "client notifications get no response")
}

func TestNewSessionReturnsIDAndToken(t *testing.T) {
	f := newDispatcherFixture(t)
	state, conn := f.connect()

	f.d.HandleFrame(context.Background(), state, request(t, "2", "new_session", protocol.NewSessionParams{Cwd: "/work"}))

	resp := conn.last(t)
	require.Nil(t, resp.Error)
	var result protocol.NewSessionResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.NotEmpty(t, result.SessionID)
	require.NotNil(t, result.Meta)
	assert.NotEmpty(t, result.Meta.ResumeToken)
	assert.NotContains(t, result.Meta.ResumeToken, result.SessionID)

	owner, ok := f.sessions.OwnerOf(result.SessionID)
	require.True(t, ok)
	assert.Equal(t, state.clientID, owner)
}

func TestNewSessionRollsBackWhenAgentFails(t *testing.T) {
	f := newDispatcherFixture(t)
	f.agent.newSessionErr = errors.New("agent refused")
	state, conn := f.connect()

	f.d.HandleFrame(context.Background(), state, request(t, "2", "new_session", protocol.NewSessionParams{}))

	resp := conn.last(t)
	require.NotNil(t, resp.Error)

	_, sessions, _ := f.sessions.Counts()
	assert.Zero(t, sessions, "failed new_session must not leak a record")
}

func TestResumeSessionErrorMapping(t *testing.T) {
	f := newDispatcherFixture(t)
	stateA, _ := f.connect()

	sid, token, err := f.sessions.Create(stateA.clientID, "/work")
	require.NoError(t, err)

	stateB, connB := f.connect()
	ctx := context.Background()

	t.Run("active owner", func(t *testing.T) {
		f.d.HandleFrame(ctx, stateB, request(t, "1", "resume_session",
			protocol.ResumeSessionParams{SessionID: sid, ResumeToken: token}))
		resp := connB.last(t)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.DataSessionActive, resp.Error.Data)
	})

	f.sessions.Unregister(stateA.clientID)

	t.Run("wrong token", func(t *testing.T) {
		f.d.HandleFrame(ctx, stateB, request(t, "2", "resume_session",
			protocol.ResumeSessionParams{SessionID: sid, ResumeToken: "bogus"}))
		resp := connB.last(t)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.DataInvalidResumeToken, resp.Error.Data)
	})

	t.Run("unknown session", func(t *testing.T) {
		f.d.HandleFrame(ctx, stateB, request(t, "3", "resume_session",
			protocol.ResumeSessionParams{SessionID: "never", ResumeToken: token}))
		resp := connB.last(t)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.DataNotFoundOrExpired, resp.Error.Data)
	})

	t.Run("correct token succeeds", func(t *testing.T) {
		f.d.HandleFrame(ctx, stateB, request(t, "4", "resume_session",
			protocol.ResumeSessionParams{SessionID: sid, ResumeToken: token}))
		resp := connB.last(t)
		require.Nil(t, resp.Error)

		owner, ok := f.sessions.OwnerOf(sid)
		require.True(t, ok)
		assert.Equal(t, stateB.clientID, owner)
	})
}

func TestPromptOwnershipCheck(t *testing.T) {
	f := newDispatcherFixture(t)
	stateA, connA := f.connect()
	stateB, connB := f.connect()
	ctx := context.Background()

	sid, _, err := f.sessions.Create(stateA.clientID, "/work")
	require.NoError(t, err)

	// The owner may prompt.
	f.d.HandleFrame(ctx, stateA, request(t, "1", "prompt", protocol.PromptParams{SessionID: sid, Prompt: "hi"}))
	assert.Nil(t, connA.last(t).Error)

	// Another connection may not.
	f.d.HandleFrame(ctx, stateB, request(t, "1", "prompt", protocol.PromptParams{SessionID: sid, Prompt: "hi"}))
	resp := connB.last(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.DataNotSessionOwner, resp.Error.Data)

	// Unknown sessions read as not-found, not as ownership violations.
	f.d.HandleFrame(ctx, stateB, request(t, "2", "cancel", protocol.CancelParams{SessionID: "ghost"}))
	resp = connB.last(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.DataNotFoundOrExpired, resp.Error.Data)
}

func TestHandlerPanicDoesNotKillDispatch(t *testing.T) {
	f := newDispatcherFixture(t)
	f.agent.promptPanic = true
	state, conn := f.connect()
	ctx := context.Background()

	sid, _, err := f.sessions.Create(state.clientID, "/work")
	require.NoError(t, err)

	f.d.HandleFrame(ctx, state, request(t, "1", "prompt", protocol.PromptParams{SessionID: sid, Prompt: "boom"}))
	resp := conn.last(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInternalError, resp.Error.Code)

	// The dispatcher keeps serving the connection afterwards.
	f.agent.promptPanic = false
	f.d.HandleFrame(ctx, state, request(t, "2", "cancel", protocol.CancelParams{SessionID: sid}))
	assert.Nil(t, conn.last(t).Error)
}

func TestCancelDelegatesToAgent(t *testing.T) {
	f := newDispatcherFixture(t)
	state, conn := f.connect()
	ctx := context.Background()

	sid, _, err := f.sessions.Create(state.clientID, "/work")
	require.NoError(t, err)

	f.d.HandleFrame(ctx, state, request(t, "1", "cancel", protocol.CancelParams{SessionID: sid}))
	require.Nil(t, conn.last(t).Error)
	assert.Equal(t, []string{sid}, f.agent.cancelled)
}

func TestInvalidParamsRejected(t *testing.T) {
	f := newDispatcherFixture(t)
	state, conn := f.connect()

	f.d.HandleFrame(context.Background(), state,
		[]byte(`{"jsonrpc":"2.0","id":"1","method":"prompt","params":{"session_id":42}}`))

	resp := conn.last(t)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Data, "invalid params")
}

// agentInterfaceCheck pins the stub to the real interface.
var _ agent.Agent = (*stubAgent)(nil)
