// Package client implements the client role of the gateway protocol:
// connect, handshake, issue requests, and stream session updates.
//
// # Pieces
//
// Conn dials the gateway over websocket with an optional bearer token and
// frames one JSON-RPC message per websocket message. Anything message
// oriented can stand in for it via the Transport interface; tests use an
// in-memory fake.
//
// ReceiveLoop is the shared receive primitive. One-shot mode
// (WaitResponse) waits for the response matching a request id while
// dispatching intervening notifications; persistent mode (Run) dispatches
// everything until the connection closes. Both enforce an optional
// per-message timeout against a stalled transport, and one-shot waits
// additionally honor an aggregate ceiling so a chatty notification stream
// cannot postpone a timeout forever. Malformed frames are logged and
// skipped; a panicking notification handler is caught and logged, never
// fatal to the loop.
//
// Client layers the typed API (Initialize, NewSession, ResumeSession,
// Prompt, Cancel) over one transport and its loop.
//
// Reconnector wraps a connect+handshake attempt with capped exponential
// backoff and jitter. It returns after exactly one successful handshake;
// surviving a later drop means calling Run again, which is what loom-cli
// does with the resume token it kept from new_session.
package client
