package sfsmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

var _ EventSource = (*FSNotifyEventSource)(nil)

// FSNotifyEventSource delivers events through a shared fsnotify watcher. It
// is the default backend on platforms without a native kqueue or inotify
// implementation, and is available everywhere for callers that prefer
// fsnotify's portability over the wider native flag vocabulary.
type FSNotifyEventSource struct {
	initOnce sync.Once
	initErr  error
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu     sync.Mutex
	nextFD int
	files  map[int]*os.File
	subs   map[string]*fsnotifySubscription // keyed by cleaned path

	g      errgroup.Group
	ctx    context.Context
	cancel func()
}

// NewFSNotifyEventSource returns a new instance of FSNotifyEventSource.
func NewFSNotifyEventSource() *FSNotifyEventSource {
	return &FSNotifyEventSource{
		logger: slog.Default(),
		nextFD: 1,
		files:  make(map[int]*os.File),
		subs:   make(map[string]*fsnotifySubscription),
	}
}

// init creates the fsnotify watcher and starts the forwarding goroutine on
// first use.
func (s *FSNotifyEventSource) init() error {
	s.initOnce.Do(func() {
		if s.watcher, s.initErr = fsnotify.NewWatcher(); s.initErr != nil {
			return
		}

		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.g.Go(func() error {
			s.monitor(s.ctx)
			return nil
		})
	})
	return s.initErr
}

// Open opens the path and returns a descriptor token. fsnotify registration
// is path-based; the open file pins the resource and keeps descriptor
// accounting honest across backends.
func (s *FSNotifyEventSource) Open(path string) (int, error) {
	if err := s.init(); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	fd := s.nextFD
	s.nextFD++
	s.files[fd] = f
	s.mu.Unlock()

	return fd, nil
}

// Close releases a descriptor token returned by Open.
func (s *FSNotifyEventSource) Close(fd int) error {
	s.mu.Lock()
	f, ok := s.files[fd]
	delete(s.files, fd)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("fsnotify source: unknown descriptor %d", fd)
	}
	return f.Close()
}

// Subscribe adds the path behind fd to the shared watcher.
func (s *FSNotifyEventSource) Subscribe(fd int, mask EventMask, event func(raw uint32), cancelled func()) (Subscription, error) {
	if err := s.init(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	f, ok := s.files[fd]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fsnotify source: unknown descriptor %d", fd)
	}

	path := filepath.Clean(f.Name())
	sub := &fsnotifySubscription{src: s, path: path, event: event, cancelled: cancelled}

	s.mu.Lock()
	s.subs[path] = sub
	s.mu.Unlock()

	if err := s.watcher.Add(path); err != nil {
		s.mu.Lock()
		delete(s.subs, path)
		s.mu.Unlock()
		return nil, err
	}

	return sub, nil
}

// Decode converts an fsnotify op bitmask to an EventMask. A create within a
// watched directory reads as a write to the directory, matching vnode
// semantics on the native backends.
func (s *FSNotifyEventSource) Decode(raw uint32) EventMask {
	op := fsnotify.Op(raw)

	var mask EventMask
	if op.Has(fsnotify.Write) || op.Has(fsnotify.Create) {
		mask |= Write
	}
	if op.Has(fsnotify.Remove) {
		mask |= Delete
	}
	if op.Has(fsnotify.Rename) {
		mask |= Rename
	}
	if op.Has(fsnotify.Chmod) {
		mask |= AttributeChange
	}
	return mask
}

// Shutdown stops the forwarding goroutine and closes the shared watcher.
func (s *FSNotifyEventSource) Shutdown() (err error) {
	s.initOnce.Do(func() {}) // no-op if never used
	if s.cancel == nil {
		return s.initErr
	}
	s.cancel()

	if e := s.watcher.Close(); e != nil && err == nil {
		err = e
	}
	if e := s.g.Wait(); e != nil && err == nil {
		err = e
	}
	return err
}

// unsubscribe removes the path from the watcher and schedules the cancelled
// callback.
func (s *FSNotifyEventSource) unsubscribe(sub *fsnotifySubscription) {
	s.mu.Lock()
	delete(s.subs, sub.path)
	s.mu.Unlock()

	// Removal fails once the path is already gone from the watcher, e.g.
	// after the file was deleted.
	s.watcher.Remove(sub.path)

	go sub.cancelled()
}

// monitor forwards watcher events to their subscriptions. Events for entries
// inside a watched directory route to the directory's subscription.
func (s *FSNotifyEventSource) monitor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)

			s.mu.Lock()
			sub, ok := s.subs[name]
			if !ok {
				sub, ok = s.subs[filepath.Dir(name)]
			}
			s.mu.Unlock()
			if !ok {
				continue
			}
			sub.event(uint32(ev.Op))

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("fsnotify watcher error", "error", err)
		}
	}
}

type fsnotifySubscription struct {
	src        *FSNotifyEventSource
	path       string
	event      func(raw uint32)
	cancelled  func()
	cancelOnce sync.Once
}

// Cancel stops event delivery for this subscription.
func (sub *fsnotifySubscription) Cancel() {
	sub.cancelOnce.Do(func() {
		sub.src.unsubscribe(sub)
	})
}
