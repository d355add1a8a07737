// Package sfsmonitor provides a concurrent registry for watching filesystem
// paths for change events. A Monitor tracks which paths are watched, enforces
// a ceiling on open descriptors, and delivers decoded notifications to a
// Delegate. The OS event primitive sits behind the EventSource interface with
// kqueue, inotify, and fsnotify backends.
package sfsmonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/KnowMeGit/SFSMonitor/internal"
)

// DefaultMaxMonitored is the default admission ceiling. It stays well under
// typical per-process descriptor limits that also serve the rest of the
// application.
const DefaultMaxMonitored = 224

// lastEventCacheSize bounds the per-path last-event cache.
const lastEventCacheSize = 512

// Admission errors returned by Add. They wrap with path context; match with
// errors.Is.
var (
	// ErrPathInaccessible means the path was unreadable or nonexistent at
	// add time.
	ErrPathInaccessible = errors.New("path inaccessible")

	// ErrAlreadyWatched means the path is already present in the registry,
	// including entries still mid-cancellation.
	ErrAlreadyWatched = errors.New("path already watched")

	// ErrCeilingReached means the live watch count is at the configured
	// maximum.
	ErrCeilingReached = errors.New("watch ceiling reached")

	// ErrResourceUnavailable means the descriptor open or subscription
	// creation failed.
	ErrResourceUnavailable = errors.New("watch resource unavailable")

	// ErrMonitorClosed means the monitor has been closed.
	ErrMonitorClosed = errors.New("monitor closed")
)

// Delegate receives decoded notifications for watched paths. Invocations run
// on their own goroutines and may be concurrent with each other and with
// registry mutations; implementations guard their own state.
type Delegate interface {
	ReceivedNotification(mask EventMask, path string, m *Monitor)
}

// Monitor is a registry of filesystem watches. Each Monitor owns an
// independent watch set, ceiling, and event source; none of its state is
// process-global. All methods are safe for concurrent use.
type Monitor struct {
	delegate Delegate
	source   EventSource
	logger   *slog.Logger

	mu           sync.Mutex
	entries      map[string]*watchEntry
	maxMonitored int
	closed       bool

	lastEvents *lru.Cache[string, Event]

	wg sync.WaitGroup // in-flight delegate dispatches
}

// NewMonitor returns a monitor backed by the platform-default event source.
// A nil delegate is allowed; events are then only recorded in the last-event
// cache.
func NewMonitor(delegate Delegate) *Monitor {
	return NewMonitorWithSource(delegate, NewEventSource())
}

// NewMonitorWithSource returns a monitor backed by the given event source.
func NewMonitorWithSource(delegate Delegate, source EventSource) *Monitor {
	cache, _ := lru.New[string, Event](lastEventCacheSize)
	return &Monitor{
		delegate:     delegate,
		source:       source,
		logger:       slog.Default(),
		entries:      make(map[string]*watchEntry),
		maxMonitored: DefaultMaxMonitored,
		lastEvents:   cache,
	}
}

// SetLogger sets the logger used for watch lifecycle messages.
func (m *Monitor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger
}

// Add begins watching path for the events in mask. Admission checks run in
// order and short-circuit: the path must be accessible, not already watched,
// and the watch count must be below the ceiling; then the source open must
// succeed. The presence and ceiling checks plus the slot reservation are one
// atomic unit, so concurrent Adds can neither double-admit a path nor exceed
// the ceiling, while the blocking open itself runs outside the registry lock.
func (m *Monitor) Add(path string, mask EventMask) error {
	path = filepath.Clean(path)

	if _, err := os.Stat(path); err != nil {
		internal.MonitorAdmissionErrorCounterVec.WithLabelValues("path_inaccessible").Inc()
		return fmt.Errorf("watch %s: %w: %w", path, ErrPathInaccessible, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("watch %s: %w", path, ErrMonitorClosed)
	}
	if _, ok := m.entries[path]; ok {
		m.mu.Unlock()
		internal.MonitorAdmissionErrorCounterVec.WithLabelValues("already_watched").Inc()
		return fmt.Errorf("watch %s: %w", path, ErrAlreadyWatched)
	}
	if len(m.entries) >= m.maxMonitored {
		limit := m.maxMonitored
		m.mu.Unlock()
		internal.MonitorAdmissionErrorCounterVec.WithLabelValues("ceiling_reached").Inc()
		return fmt.Errorf("watch %s: %w (max %d)", path, ErrCeilingReached, limit)
	}
	e := newWatchEntry(path)
	m.entries[path] = e
	m.mu.Unlock()

	fd, err := m.source.Open(path)
	if err != nil {
		m.rollback(e)
		internal.MonitorAdmissionErrorCounterVec.WithLabelValues("resource_unavailable").Inc()
		return fmt.Errorf("watch %s: %w: %w", path, ErrResourceUnavailable, err)
	}

	sub, err := m.source.Subscribe(fd, mask, func(raw uint32) {
		m.dispatch(e, raw)
	}, func() {
		m.finalize(e)
	})
	if err != nil {
		if cerr := m.source.Close(fd); cerr != nil {
			m.logger.Error("close watch descriptor", "path", path, "error", cerr)
		}
		m.rollback(e)
		internal.MonitorAdmissionErrorCounterVec.WithLabelValues("resource_unavailable").Inc()
		return fmt.Errorf("watch %s: %w: %w", path, ErrResourceUnavailable, err)
	}

	m.mu.Lock()
	e.fd, e.sub = fd, sub
	e.state = stateActive
	cancelNow := e.cancelRequested
	if cancelNow {
		e.state = stateCancelling
	}
	m.mu.Unlock()

	internal.MonitorWatchCountGauge.Inc()
	m.logger.Debug("watch added", "path", path, "events", mask.String())

	// A Remove raced the open; honor it now that the entry is wired.
	if cancelNow {
		internal.MonitorCancelTotalCounter.Inc()
		sub.Cancel()
	}
	return nil
}

// rollback releases an opening reservation after a failed source open.
func (m *Monitor) rollback(e *watchEntry) {
	m.mu.Lock()
	if m.entries[e.path] == e {
		delete(m.entries, e.path)
	}
	m.mu.Unlock()
	close(e.done)
}

// dispatch decodes a raw source bitmask and forwards it to the delegate on a
// fresh goroutine so delivery never blocks admission or the source's
// delivery loop.
func (m *Monitor) dispatch(e *watchEntry, raw uint32) {
	mask := m.source.Decode(raw)
	if mask == 0 {
		return
	}

	ev := Event{Path: e.path, Mask: mask, Time: time.Now()}
	m.lastEvents.Add(e.path, ev)
	for _, flag := range mask.Flags() {
		internal.MonitorEventTotalCounterVec.WithLabelValues(flag.String()).Inc()
	}

	if m.delegate == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.delegate.ReceivedNotification(mask, e.path, m)
	}()
}

// finalize runs as the source's cancellation callback. It closes the
// descriptor and erases the entry; this is the only path that decrements the
// live count.
func (m *Monitor) finalize(e *watchEntry) {
	if err := m.source.Close(e.fd); err != nil {
		m.logger.Error("close watch descriptor", "path", e.path, "error", err)
	}

	m.mu.Lock()
	if m.entries[e.path] == e {
		delete(m.entries, e.path)
	}
	m.mu.Unlock()

	internal.MonitorWatchCountGauge.Dec()
	m.logger.Debug("watch removed", "path", e.path)
	close(e.done)
}

// Remove stops watching path. Removing an unwatched path is a no-op. The
// descriptor close and map erase happen asynchronously once the source
// confirms cancellation; the entry may still be present, and a re-Add may
// still fail with ErrAlreadyWatched, immediately after Remove returns.
// Callers that need the slot back poll Count or use WaitRemoved.
func (m *Monitor) Remove(path string) {
	path = filepath.Clean(path)

	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		m.mu.Unlock()
		return
	}

	var sub Subscription
	switch e.state {
	case stateOpening:
		e.cancelRequested = true
	case stateActive:
		e.state = stateCancelling
		sub = e.sub
	}
	m.mu.Unlock()

	if sub != nil {
		internal.MonitorCancelTotalCounter.Inc()
		sub.Cancel()
	}
}

// RemoveAll stops watching every path. Completion is asynchronous, as with
// Remove.
func (m *Monitor) RemoveAll() {
	m.mu.Lock()
	var subs []Subscription
	for _, e := range m.entries {
		switch e.state {
		case stateOpening:
			e.cancelRequested = true
		case stateActive:
			e.state = stateCancelling
			subs = append(subs, e.sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		internal.MonitorCancelTotalCounter.Inc()
		sub.Cancel()
	}
}

// WaitRemoved blocks until no entry exists for path or ctx is done. It
// returns immediately for paths that are not watched.
func (m *Monitor) WaitRemoved(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	m.mu.Lock()
	e, ok := m.entries[path]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return nil
	}
}

// IsWatched returns true if path has an active or cancelling watch.
func (m *Monitor) IsWatched(path string) bool {
	path = filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path]
	return ok && e.state != stateOpening
}

// Count returns the number of live watches. Entries mid-cancellation still
// count; the count drops only when the source confirms release.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.state != stateOpening {
			n++
		}
	}
	return n
}

// WatchedPaths returns the watched paths, sorted.
func (m *Monitor) WatchedPaths() []string {
	m.mu.Lock()
	a := make([]string, 0, len(m.entries))
	for path, e := range m.entries {
		if e.state != stateOpening {
			a = append(a, path)
		}
	}
	m.mu.Unlock()

	sort.Strings(a)
	return a
}

// MaxMonitored returns the admission ceiling.
func (m *Monitor) MaxMonitored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxMonitored
}

// SetMaxMonitored sets the admission ceiling. The change only affects
// subsequent Adds; already-admitted watches stay.
func (m *Monitor) SetMaxMonitored(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	m.maxMonitored = n
	m.mu.Unlock()
}

// LastEvent returns the most recent event delivered for path, if any is
// still in the cache.
func (m *Monitor) LastEvent(path string) (Event, bool) {
	return m.lastEvents.Get(filepath.Clean(path))
}

// Close cancels every watch, waits for all entries to release and all
// delegate dispatches to return, then shuts down the event source. The
// monitor cannot be reused; subsequent Adds fail with ErrMonitorClosed.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	dones := make([]chan struct{}, 0, len(m.entries))
	for _, e := range m.entries {
		dones = append(dones, e.done)
	}
	m.mu.Unlock()

	m.RemoveAll()
	for _, done := range dones {
		<-done
	}
	m.wg.Wait()

	return m.source.Shutdown()
}
