package sfsmonitor

// EventSource is the narrow interface to a platform file-event primitive.
// The Monitor owns every descriptor a source opens and closes each one
// exactly once, from the subscription's cancellation callback.
type EventSource interface {
	// Open opens the path for watching and returns a descriptor. The
	// descriptor is a backend-defined token; it is only meaningful to the
	// source that issued it.
	Open(path string) (int, error)

	// Subscribe begins event delivery for an open descriptor. The event
	// callback receives the raw platform bitmask on the source's delivery
	// goroutine. The cancelled callback runs asynchronously, once, after
	// Cancel is called and the underlying resource has stopped delivering.
	Subscribe(fd int, mask EventMask, event func(raw uint32), cancelled func()) (Subscription, error)

	// Close releases an open descriptor.
	Close(fd int) error

	// Decode converts a raw platform bitmask into an EventMask. Flags the
	// platform cannot express decode to zero.
	Decode(raw uint32) EventMask

	// Shutdown releases the source itself. All subscriptions must be
	// cancelled first.
	Shutdown() error
}

// Subscription is one active event stream for a watched path.
type Subscription interface {
	// Cancel stops delivery. It is idempotent and returns without waiting;
	// the cancelled callback passed to Subscribe signals completion.
	Cancel()
}
