package sfsmonitor

import (
	"fmt"
	"strings"
	"time"
)

// EventMask is a bit set of filesystem change kinds. A mask passed to
// Monitor.Add selects which changes to subscribe to; a mask delivered to the
// Delegate describes which changes one notification carries.
type EventMask uint32

// Event mask flags, one bit per change kind.
const (
	// Rename fires when the watched path itself is renamed.
	Rename EventMask = 1 << iota

	// Write fires when the contents of a file change, or when an entry is
	// added to or removed from a watched directory.
	Write

	// Delete fires when the watched path is unlinked.
	Delete

	// AttributeChange fires when metadata (permissions, timestamps) change.
	AttributeChange

	// SizeIncrease fires when a file is extended.
	SizeIncrease

	// LinkCountChange fires when the link count of the path changes.
	LinkCountChange

	// AccessRevocation fires when access to the path is revoked or the
	// underlying filesystem is unmounted.
	AccessRevocation

	// Unlock fires when an advisory lock on the path is released.
	// Only deliverable on Darwin.
	Unlock

	// DataAvailable fires when data becomes available to read. No native
	// backend in this package can deliver it for path watches; it is kept in
	// the vocabulary so masks round-trip losslessly.
	DataAvailable
)

// AllEvents subscribes to every flag the platform can deliver for the path.
const AllEvents = Rename | Write | Delete | AttributeChange | SizeIncrease |
	LinkCountChange | AccessRevocation | Unlock | DataAvailable

// eventFlagNames holds the flag vocabulary in enumeration order.
var eventFlagNames = []struct {
	flag EventMask
	name string
}{
	{Rename, "rename"},
	{Write, "write"},
	{Delete, "delete"},
	{AttributeChange, "attribute-change"},
	{SizeIncrease, "size-increase"},
	{LinkCountChange, "link-count-change"},
	{AccessRevocation, "access-revocation"},
	{Unlock, "unlock"},
	{DataAvailable, "data-available"},
}

// Has returns true if every flag in other is set on e.
func (e EventMask) Has(other EventMask) bool {
	return e&other == other
}

// Flags splits e into its component flags, in vocabulary order.
func (e EventMask) Flags() []EventMask {
	var a []EventMask
	for _, f := range eventFlagNames {
		if e&f.flag != 0 {
			a = append(a, f.flag)
		}
	}
	return a
}

// FlagNames returns the textual names of the flags set on e, in vocabulary
// order. ParseEventMask(e.FlagNames()) returns e for any valid mask.
func (e EventMask) FlagNames() []string {
	var a []string
	for _, f := range eventFlagNames {
		if e&f.flag != 0 {
			a = append(a, f.name)
		}
	}
	return a
}

// String returns the flag names joined with "|", or "none" for the empty mask.
func (e EventMask) String() string {
	if e == 0 {
		return "none"
	}
	return strings.Join(e.FlagNames(), "|")
}

// ParseEventFlag converts a single flag name to its mask bit.
func ParseEventFlag(name string) (EventMask, error) {
	for _, f := range eventFlagNames {
		if f.name == name {
			return f.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown event flag: %q", name)
}

// ParseEventMask converts a list of flag names to a mask.
func ParseEventMask(names []string) (EventMask, error) {
	var mask EventMask
	for _, name := range names {
		flag, err := ParseEventFlag(name)
		if err != nil {
			return 0, err
		}
		mask |= flag
	}
	return mask, nil
}

// Event records one delivered notification for a watched path.
type Event struct {
	Path string
	Mask EventMask
	Time time.Time
}
