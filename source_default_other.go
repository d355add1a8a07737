//go:build !linux && !freebsd && !openbsd && !netbsd && !dragonfly && !darwin

package sfsmonitor

// NewEventSource returns an fsnotify-backed source on platforms without a
// native backend.
func NewEventSource() EventSource {
	return NewFSNotifyEventSource()
}
