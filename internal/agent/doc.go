// Package agent defines the collaborator boundary between the gateway and
// the logic that executes prompts.
//
// # Interface
//
// The dispatcher delegates to an Agent after its session and ownership
// checks pass:
//
//	type Agent interface {
//	    Initialize(ctx, params) (InitializeResult, error)
//	    NewSession(ctx, sessionID, params) error
//	    ResumeSession(ctx, sessionID, params) error
//	    Prompt(ctx, sessionID, params) error
//	    Cancel(ctx, sessionID) error
//	}
//
// Prompt returns promptly; output streams back asynchronously through the
// Notifier as session/update notifications. The Notifier resolves the
// session's current owner at push time — updates for orphaned sessions are
// dropped, never queued.
//
// # EchoAgent
//
// EchoAgent is the reference implementation: it echoes each prompt back as
// a plan update, one text chunk per word, and a final done update, with
// per-session cancel support. It caches a prompt transcript in the session
// state store, so the transcript survives a disconnect/resume and dies
// with the session.
package agent
