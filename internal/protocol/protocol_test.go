// ABOUTME: Tests for frame classification, construction, and error shapes.
// ABOUTME: Validates the closed method table and the data-string discriminators.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		request      bool
		response     bool
		notification bool
	}{
		{
			name:    "request has id and method",
			raw:     `{"jsonrpc":"2.0","id":"1","method":"initialize","params":{}}`,
			request: true,
		},
		{
			name:     "success response has id and no method",
			raw:      `{"id":"1","result":{}}`,
			response: true,
		},
		{
			name:     "error response has id and no method",
			raw:      `{"id":"1","error":{"code":-32603,"message":"internal error"}}`,
			response: true,
		},
		{
			name:         "notification has method and no id",
			raw:          `{"method":"session/update","params":{"update":{"kind":"text"}}}`,
			notification: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			assert.Equal(t, tt.request, msg.IsRequest())
			assert.Equal(t, tt.response, msg.IsResponse())
			assert.Equal(t, tt.notification, msg.IsNotification())
		})
	}
}

func TestMethodKnown(t *testing.T) {
	for _, m := range []Method{MethodInitialize, MethodNewSession, MethodResumeSession, MethodPrompt, MethodCancel} {
		assert.True(t, m.Known(), "method %q should be routable", m)
	}

	assert.False(t, Method("frobnicate").Known())
	assert.False(t, Method("").Known())
	// session/update is push-only, never a request method.
	assert.False(t, MethodSessionUpdate.Known())
}

func TestNewRequestRoundTrip(t *testing.T) {
	msg, err := NewRequest("42", MethodNewSession, NewSessionParams{Cwd: "/work"})
	require.NoError(t, err)
	assert.Equal(t, Version, msg.JSONRPC)
	assert.True(t, msg.IsRequest())

	var params NewSessionParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "/work", params.Cwd)
}

func TestNewSessionResultCarriesTokenUnderMeta(t *testing.T) {
	msg, err := NewResponse("7", NewSessionResult{
		SessionID: "sess-1",
		Meta:      &ResultMeta{ResumeToken: "secret"},
	})
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Result, &decoded))
	assert.Contains(t, decoded, "sessionId")
	assert.JSONEq(t, `{"resume_token":"secret"}`, string(decoded["_meta"]))
}

func TestErrorResponses(t *testing.T) {
	t.Run("parse error has no id", func(t *testing.T) {
		msg := ParseErrorResponse()
		assert.Empty(t, msg.ID)
		require.NotNil(t, msg.Error)
		assert.Equal(t, CodeParseError, msg.Error.Code)
	})

	t.Run("data string discriminates session failures", func(t *testing.T) {
		msg := NewErrorResponse("3", CodeInternalError, "internal error", DataInvalidResumeToken)
		assert.Equal(t, "3", msg.ID)
		assert.Equal(t, CodeInternalError, msg.Error.Code)
		assert.Equal(t, DataInvalidResumeToken, msg.Error.Data)
	})

	t.Run("implements error", func(t *testing.T) {
		err := &ErrorObject{Code: CodeInternalError, Message: "internal error", Data: DataNotFoundOrExpired}
		assert.Contains(t, err.Error(), "not found or expired")
	})
}
