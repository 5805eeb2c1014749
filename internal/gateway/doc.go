// Package gateway orchestrates the loom-gateway server components.
//
// # Overview
//
// The Gateway owns the session service, the agent collaborator, the auth
// verifier, the audit store, and the HTTP server that accepts websocket
// connections at /ws. Each accepted connection registers with the session
// service, getting a sequential client id, and runs a read loop that feeds
// frames to the Dispatcher.
//
// # Dispatcher
//
// For every inbound frame the dispatcher:
//
//  1. Parses the JSON; a parse failure is answered with -32700 and the
//     connection stays open.
//  2. Classifies the frame; only requests (id + method) are routed.
//  3. Routes by method through a table built once at construction:
//     initialize, new_session, resume_session, prompt, cancel. Unknown
//     methods get -32603 with the method name in the data string.
//  4. Catches handler errors and panics per request; one bad request never
//     kills the read loop.
//  5. Checks that session-addressed requests arrive on the connection that
//     currently owns the session before touching the record.
//
// # Notifications
//
// The Gateway implements agent.Notifier. Push resolves the session's
// current owner; if the session is orphaned the update is dropped and
// counted, never queued.
//
// # Bridge mode
//
// RunBridge serves the same dispatcher over newline-delimited JSON on
// stdin/stdout, with a single implicit client, for editors that spawn the
// gateway as a subprocess instead of dialing the websocket endpoint.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, nil)
//	err = gw.Run(ctx)   // blocks until ctx is cancelled, then shuts down
//
// Run stops the HTTP server, the grace-period sweep, and the audit store
// on the way out; the sweep goroutine is awaited, never leaked.
package gateway
