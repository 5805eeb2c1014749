// Package session owns the connection registry and the session lifecycle
// state machine.
//
// # State machine
//
// A session moves through four states:
//
//	NonExistent -> Active(owner)      Create
//	Active(c)   -> Orphaned           owner disconnects (Unregister)
//	Orphaned    -> Active(c')         Resume with the correct token
//	Orphaned    -> Expired            grace period elapses (sweep)
//	Active(c)   -> Expired            End / shutdown
//
// Expired is terminal: the resume token and cached state are released and
// the session id becomes permanently unresolvable.
//
// # Ownership invariants
//
// Every session has exactly one or zero owners. The owner is either a live
// registered connection (Active) or a client id recorded in the
// disconnected map (Orphaned). The disconnected map is disjoint from the
// set of registered client ids.
//
// # Concurrency
//
// One Service is constructed per process. A single mutex guards the
// client, session, and disconnected maps; it is held only across map
// mutations, never across transport I/O, so a slow peer cannot stall
// unrelated connections. The grace-period sweep takes the same lock for
// its full scan-and-mutate step so a concurrent Resume can never reclaim
// a session the sweep is midway through deleting.
//
// # Time
//
// The Service takes an injectable Clock so grace-period expiry is testable
// without real sleeps. Resume tokens always come from crypto/rand and are
// compared in constant time.
package session
