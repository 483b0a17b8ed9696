// Package clock re-exports clockwork.Clock under this project's own name so
// every component that needs injectable time (spec §9 design note: narrow
// interfaces for DI) imports one local, obviously-testable type rather than
// reaching for time.Now directly.
package clock

import "github.com/jonboulle/clockwork"

// Clock abstracts time so heartbeat timeout, crash-restart backoff, cron
// cadence, and alert cooldown are deterministically testable with a fake.
type Clock = clockwork.Clock

// Timer and Ticker re-export the corresponding clockwork types so callers
// never need to import clockwork directly alongside this package.
type Timer = clockwork.Timer
type Ticker = clockwork.Ticker

// New returns the real system clock.
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a fake clock pinned to an arbitrary fixed instant, for tests.
func NewFake() clockwork.FakeClock {
	return clockwork.NewFakeClock()
}
