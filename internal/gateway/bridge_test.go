// ABOUTME: Tests for stdio bridge mode: newline-delimited JSON over in/out pipes.
// ABOUTME: The bridge peer must see the same dispatch semantics as a websocket client.

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-gateway/internal/agent"
	"github.com/2389/loom-gateway/internal/protocol"
)

func newBridgeGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(testConfig(), func(n agent.Notifier, s agent.StateStore) agent.Agent {
		a := agent.NewEchoAgent(n, s, nil)
		a.ChunkDelay = 0
		return a
	})
	require.NoError(t, err)
	return g
}

// runBridge feeds the input lines to the bridge and returns decoded output
// frames once the input is exhausted and the bridge returns.
func runBridge(t *testing.T, g *Gateway, lines ...string) []*protocol.Message {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		err := g.RunBridge(context.Background(), in, pw)
		pw.Close()
		done <- err
	}()

	var frames []*protocol.Message
	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		var msg protocol.Message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		frames = append(frames, &msg)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not exit")
	}
	return frames
}

func TestBridgeServesRequests(t *testing.T) {
	g := newBridgeGateway(t)

	init, err := protocol.NewRequest("1", protocol.MethodInitialize, protocol.InitializeParams{ClientName: "editor"})
	require.NoError(t, err)
	rawInit, err := json.Marshal(init)
	require.NoError(t, err)

	ns, err := protocol.NewRequest("2", protocol.MethodNewSession, protocol.NewSessionParams{Cwd: "/work"})
	require.NoError(t, err)
	rawNS, err := json.Marshal(ns)
	require.NoError(t, err)

	frames := runBridge(t, g, string(rawInit), string(rawNS))

	var responses []*protocol.Message
	for _, f := range frames {
		if f.IsResponse() {
			responses = append(responses, f)
		}
	}
	require.Len(t, responses, 2)
	assert.Equal(t, "1", responses[0].ID)
	assert.Nil(t, responses[0].Error)

	var result protocol.NewSessionResult
	require.NoError(t, json.Unmarshal(responses[1].Result, &result))
	assert.NotEmpty(t, result.SessionID)
	assert.NotEmpty(t, result.Meta.ResumeToken)
}

func TestBridgeSurvivesMalformedLine(t *testing.T) {
	g := newBridgeGateway(t)

	init, err := protocol.NewRequest("1", protocol.MethodInitialize, protocol.InitializeParams{})
	require.NoError(t, err)
	raw, err := json.Marshal(init)
	require.NoError(t, err)

	frames := runBridge(t, g, "this is not json", string(raw))

	require.Len(t, frames, 2)
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, protocol.CodeParseError, frames[0].Error.Code)
	assert.Equal(t, "1", frames[1].ID)
	assert.Nil(t, frames[1].Error)
}

func TestBridgeSkipsBlankLines(t *testing.T) {
	g := newBridgeGateway(t)

	init, err := protocol.NewRequest("1", protocol.MethodInitialize, protocol.InitializeParams{})
	require.NoError(t, err)
	raw, err := json.Marshal(init)
	require.NoError(t, err)

	frames := runBridge(t, g, "", string(raw), "")
	require.Len(t, frames, 1)
	assert.Equal(t, "1", frames[0].ID)
}
