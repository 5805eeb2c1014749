// ABOUTME: JSON-RPC error codes and the session error taxonomy on the wire.
// ABOUTME: Distinct session failures share -32603 and are told apart by the data string.

package protocol

import "fmt"

// JSON-RPC error codes. The gateway deliberately collapses the session
// error conditions onto the generic internal-error code; the data string
// is the discriminator clients key on.
const (
	CodeParseError    = -32700
	CodeInternalError = -32603
)

// Data discriminators for CodeInternalError responses.
const (
	DataUnknownMethod      = "unknown method"
	DataInvalidResumeToken = "invalid resume token"
	DataNotFoundOrExpired  = "not found or expired"
	DataNotSessionOwner    = "not session owner"
	DataSessionActive      = "session has an active owner"
)

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements the error interface so an ErrorObject can travel as a
// Go error on the client side.
func (e *ErrorObject) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("jsonrpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewErrorResponse builds an error response frame.
func NewErrorResponse(id string, code int, message, data string) *Message {
	return &Message{ID: id, Error: &ErrorObject{Code: code, Message: message, Data: data}}
}

// ParseErrorResponse answers a frame that could not be decoded as JSON.
// The request id is unknown in that case, so it is left empty.
func ParseErrorResponse() *Message {
	return NewErrorResponse("", CodeParseError, "parse error", "")
}
