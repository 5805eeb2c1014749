// ABOUTME: Clock abstraction so grace-period expiry is deterministic in tests.
// ABOUTME: Production code uses the real clock; tests advance a fake one.

package session

import "time"

// Clock supplies the current time to the Service.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns a Clock backed by time.Now.
func RealClock() Clock { return realClock{} }
