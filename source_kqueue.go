//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package sfsmonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var _ EventSource = (*KqueueEventSource)(nil)

// kqueueNotes maps mask flags to their EVFILT_VNODE fflags. noteFunlock is
// zero on platforms without NOTE_FUNLOCK; zero notes are skipped on encode
// and never match on decode.
var kqueueNotes = []struct {
	flag EventMask
	note uint32
}{
	{Rename, unix.NOTE_RENAME},
	{Write, unix.NOTE_WRITE},
	{Delete, unix.NOTE_DELETE},
	{AttributeChange, unix.NOTE_ATTRIB},
	{SizeIncrease, unix.NOTE_EXTEND},
	{LinkCountChange, unix.NOTE_LINK},
	{AccessRevocation, unix.NOTE_REVOKE},
	{Unlock, noteFunlock},
}

// KqueueEventSource delivers vnode events through a single kqueue.
//
// Watcher code based on https://github.com/fsnotify/fsnotify
type KqueueEventSource struct {
	initOnce sync.Once
	initErr  error
	kq       int

	mu   sync.Mutex
	subs map[int]*kqueueSubscription

	g      errgroup.Group
	ctx    context.Context
	cancel func()
}

// NewKqueueEventSource returns a new instance of KqueueEventSource.
func NewKqueueEventSource() *KqueueEventSource {
	return &KqueueEventSource{
		subs: make(map[int]*kqueueSubscription),
	}
}

// NewEventSource returns a kqueue-backed source on BSD systems.
func NewEventSource() EventSource {
	return NewKqueueEventSource()
}

// init creates the kqueue and starts the monitor goroutine on first use.
func (s *KqueueEventSource) init() error {
	s.initOnce.Do(func() {
		if s.kq, s.initErr = unix.Kqueue(); s.initErr != nil {
			return
		}

		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.g.Go(func() error {
			if err := s.monitor(s.ctx); err != nil && s.ctx.Err() == nil {
				return err
			}
			return nil
		})
	})
	return s.initErr
}

// Open opens a descriptor suitable for EVFILT_VNODE registration.
func (s *KqueueEventSource) Open(path string) (int, error) {
	if err := s.init(); err != nil {
		return 0, err
	}
	return unix.Open(path, unix.O_NONBLOCK|unix.O_RDONLY|unix.O_CLOEXEC, 0700)
}

// Close releases a descriptor returned by Open.
func (s *KqueueEventSource) Close(fd int) error {
	return unix.Close(fd)
}

// Subscribe registers fd with the kqueue and begins delivering events.
func (s *KqueueEventSource) Subscribe(fd int, mask EventMask, event func(raw uint32), cancelled func()) (Subscription, error) {
	if err := s.init(); err != nil {
		return nil, err
	}

	fflags := encodeKqueueMask(mask)
	if fflags == 0 {
		return nil, fmt.Errorf("kqueue: no deliverable flags in mask %s", mask)
	}

	sub := &kqueueSubscription{src: s, fd: fd, event: event, cancelled: cancelled}

	s.mu.Lock()
	s.subs[fd] = sub
	s.mu.Unlock()

	// TODO: Handle return count different than 1.
	kevent := unix.Kevent_t{Fflags: fflags}
	unix.SetKevent(&kevent, fd, unix.EVFILT_VNODE, unix.EV_ADD|unix.EV_CLEAR|unix.EV_ENABLE)
	if _, err := unix.Kevent(s.kq, []unix.Kevent_t{kevent}, nil, nil); err != nil {
		s.mu.Lock()
		delete(s.subs, fd)
		s.mu.Unlock()
		return nil, err
	}

	return sub, nil
}

// Decode converts kqueue fflags to an EventMask.
func (s *KqueueEventSource) Decode(raw uint32) EventMask {
	return decodeKqueueFflags(raw)
}

// Shutdown stops the monitor goroutine and closes the kqueue.
func (s *KqueueEventSource) Shutdown() (err error) {
	s.initOnce.Do(func() {}) // no-op if never used
	if s.cancel == nil {
		return s.initErr
	}
	s.cancel()

	if e := unix.Close(s.kq); e != nil && err == nil {
		err = e
	}
	if e := s.g.Wait(); e != nil && err == nil {
		err = e
	}
	return err
}

// unsubscribe removes the kevent registration and schedules the cancelled
// callback. The descriptor itself stays open; its owner closes it.
func (s *KqueueEventSource) unsubscribe(sub *kqueueSubscription) {
	s.mu.Lock()
	delete(s.subs, sub.fd)
	s.mu.Unlock()

	// An EV_DELETE failure means the registration is already gone, e.g.
	// the kqueue dropped it when the file was deleted.
	var kevent unix.Kevent_t
	unix.SetKevent(&kevent, sub.fd, unix.EVFILT_VNODE, unix.EV_DELETE)
	unix.Kevent(s.kq, []unix.Kevent_t{kevent}, nil, nil)

	go sub.cancelled()
}

// monitor runs in a separate goroutine and drains the kqueue.
func (s *KqueueEventSource) monitor(ctx context.Context) error {
	kevents := make([]unix.Kevent_t, 10)
	timeout := unix.NsecToTimespec(int64(100 * time.Millisecond))

	for {
		n, err := unix.Kevent(s.kq, nil, kevents, &timeout)
		if err != nil && err != unix.EINTR {
			return err
		} else if n < 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		for _, kevent := range kevents[:n] {
			s.mu.Lock()
			sub, ok := s.subs[int(kevent.Ident)]
			s.mu.Unlock()
			if !ok {
				continue
			}
			sub.event(kevent.Fflags)
		}
	}
}

type kqueueSubscription struct {
	src        *KqueueEventSource
	fd         int
	event      func(raw uint32)
	cancelled  func()
	cancelOnce sync.Once
}

// Cancel stops event delivery for this subscription.
func (sub *kqueueSubscription) Cancel() {
	sub.cancelOnce.Do(func() {
		sub.src.unsubscribe(sub)
	})
}

func encodeKqueueMask(mask EventMask) uint32 {
	var fflags uint32
	for _, n := range kqueueNotes {
		if n.note != 0 && mask&n.flag != 0 {
			fflags |= n.note
		}
	}
	return fflags
}

func decodeKqueueFflags(fflags uint32) EventMask {
	var mask EventMask
	for _, n := range kqueueNotes {
		if n.note != 0 && fflags&n.note != 0 {
			mask |= n.flag
		}
	}
	return mask
}
