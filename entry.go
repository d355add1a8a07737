package sfsmonitor

// entryState tracks a watch entry through its lifecycle. There is no closed
// state constant: closing erases the entry from the registry map.
type entryState int

const (
	// stateOpening reserves the path and a ceiling slot while the blocking
	// source open runs outside the registry lock. Not visible to queries.
	stateOpening entryState = iota

	// stateActive means the descriptor is open and events are delivering.
	stateActive

	// stateCancelling means Cancel has been issued but the source has not
	// yet confirmed release. Still present, still counted.
	stateCancelling
)

// watchEntry is one registry record. All fields other than path and done are
// guarded by the owning Monitor's mutex.
type watchEntry struct {
	path  string
	fd    int
	sub   Subscription
	state entryState

	// cancelRequested records a Remove that raced an in-flight open; the
	// add path cancels the subscription immediately after activation.
	cancelRequested bool

	// done closes when the entry has fully closed and left the map.
	done chan struct{}
}

func newWatchEntry(path string) *watchEntry {
	return &watchEntry{
		path:  path,
		state: stateOpening,
		done:  make(chan struct{}),
	}
}
