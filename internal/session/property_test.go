// ABOUTME: Property-based and concurrency tests for ownership invariants.
// ABOUTME: Random operation sequences must never produce duplicate owners or reused ids.

package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPropertySingleOwnerUnderRandomOps drives the service with a random
// sequence of register/unregister/create/resume/sweep operations and checks
// the ownership invariants after every step.
func TestPropertySingleOwnerUnderRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		svc := newTestService(clock)
		defer svc.Stop()

		type sess struct {
			id    string
			token string
		}
		var clients []string
		var sessions []sess

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("op%d", i)) {
			case 0: // register
				clients = append(clients, svc.Register(&fakeConn{}))
			case 1: // unregister a random client
				if len(clients) > 0 {
					idx := rapid.IntRange(0, len(clients)-1).Draw(t, "unreg")
					svc.Unregister(clients[idx])
					clients = append(clients[:idx], clients[idx+1:]...)
				}
			case 2: // create a session on a random live client
				if len(clients) > 0 {
					idx := rapid.IntRange(0, len(clients)-1).Draw(t, "creator")
					id, token, err := svc.Create(clients[idx], "/work")
					require.NoError(t, err)
					sessions = append(sessions, sess{id: id, token: token})
				}
			case 3: // resume a random session from a random live client
				if len(clients) > 0 && len(sessions) > 0 {
					ci := rapid.IntRange(0, len(clients)-1).Draw(t, "resumer")
					si := rapid.IntRange(0, len(sessions)-1).Draw(t, "target")
					err := svc.Resume(sessions[si].id, sessions[si].token, clients[ci])
					if err != nil {
						declared := errors.Is(err, ErrNotFoundOrExpired) ||
							errors.Is(err, ErrInvalidResumeToken) ||
							errors.Is(err, ErrSessionActive) ||
							errors.Is(err, ErrClientNotRegistered)
						assert.True(t, declared, "undeclared resume failure: %v", err)
					}
				}
			case 4: // advance time a little
				clock.Advance(time.Duration(rapid.IntRange(1, 90).Draw(t, "secs")) * time.Second)
			case 5: // sweep
				svc.Sweep()
			}

			// Invariant: every surviving session has exactly one owner, and
			// that owner is either live or recorded as disconnected.
			svc.mu.Lock()
			for sid, rec := range svc.sessions {
				_, live := svc.clients[rec.OwnerClientID]
				_, disc := svc.disconnected[rec.OwnerClientID]
				if !live && !disc {
					svc.mu.Unlock()
					t.Fatalf("session %s owner %s neither live nor disconnected", sid, rec.OwnerClientID)
				}
				if live && disc {
					svc.mu.Unlock()
					t.Fatalf("client %s both live and disconnected", rec.OwnerClientID)
				}
			}
			svc.mu.Unlock()
		}
	})
}

// TestConcurrentCreationSingleOwner has many goroutines register clients
// and create sessions at once, then verifies client ids are unique and
// every session has exactly one owner.
func TestConcurrentCreationSingleOwner(t *testing.T) {
	const clients = 16
	const sessionsPer = 8

	svc := newTestService(newFakeClock())
	defer svc.Stop()

	var wg sync.WaitGroup
	ids := make([]string, clients)
	created := make([][]string, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := svc.Register(&fakeConn{})
			ids[i] = id
			for j := 0; j < sessionsPer; j++ {
				sid, _, err := svc.Create(id, "/work")
				if err != nil {
					t.Errorf("create: %v", err)
					return
				}
				created[i] = append(created[i], sid)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate client id %s", id)
		seen[id] = true
	}

	for i, owned := range created {
		for _, sid := range owned {
			owner, ok := svc.OwnerOf(sid)
			require.True(t, ok)
			assert.Equal(t, ids[i], owner, "session %s owned by wrong client", sid)
		}
	}

	_, total, orphaned := svc.Counts()
	assert.Equal(t, clients*sessionsPer, total)
	assert.Zero(t, orphaned)
}

// TestConcurrentResumeVsSweep races a resume against the expiry sweep at
// the grace boundary. Whichever wins, the session must end up either fully
// resumed (resolvable with state intact) or fully expired (not found) —
// never half-deleted.
func TestConcurrentResumeVsSweep(t *testing.T) {
	for i := 0; i < 50; i++ {
		clock := newFakeClock()
		svc := newTestService(clock)

		a := svc.Register(&fakeConn{})
		sid, token, err := svc.Create(a, "/work")
		require.NoError(t, err)
		require.NoError(t, svc.SetState(sid, "state"))
		svc.Unregister(a)
		b := svc.Register(&fakeConn{})

		clock.Advance(2 * time.Minute)

		var wg sync.WaitGroup
		var resumeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			resumeErr = svc.Resume(sid, token, b)
		}()
		go func() {
			defer wg.Done()
			svc.Sweep()
		}()
		wg.Wait()

		if resumeErr == nil {
			// Resume won: the session must be whole.
			conn, ok := svc.Resolve(sid)
			require.True(t, ok, "resumed session must resolve")
			require.NotNil(t, conn)
			state, ok := svc.StateOf(sid)
			require.True(t, ok)
			require.Equal(t, "state", state, "resumed session must keep its cached state")
		} else {
			require.ErrorIs(t, resumeErr, ErrNotFoundOrExpired)
			_, ok := svc.OwnerOf(sid)
			require.False(t, ok, "expired session must be gone")
		}
		svc.Stop()
	}
}
