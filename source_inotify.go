//go:build linux

package sfsmonitor

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var _ EventSource = (*InotifyEventSource)(nil)

// inotifyBits maps mask flags to inotify self-event bits. AttributeChange and
// LinkCountChange share IN_ATTRIB; inotify folds link-count changes into
// attribute events, so a raw IN_ATTRIB decodes to AttributeChange only.
var inotifyBits = []struct {
	flag EventMask
	bit  uint32
}{
	{Rename, unix.IN_MOVE_SELF},
	{Write, unix.IN_MODIFY},
	{Delete, unix.IN_DELETE_SELF},
	{AttributeChange, unix.IN_ATTRIB},
	{LinkCountChange, unix.IN_ATTRIB},
}

// InotifyEventSource delivers events through inotify, waiting on an epoll
// instance with a wake pipe so shutdown never blocks in a read.
//
// Watcher code based on https://github.com/fsnotify/fsnotify
type InotifyEventSource struct {
	inotify struct {
		fd  int
		buf []byte
	}
	epoll struct {
		fd     int
		events []unix.EpollEvent
	}
	pipe struct {
		r int
		w int
	}

	initOnce sync.Once
	initErr  error

	mu    sync.Mutex
	paths map[int]string               // descriptor to path
	subs  map[int]*inotifySubscription // inotify wd to subscription

	g      errgroup.Group
	ctx    context.Context
	cancel func()
}

// NewInotifyEventSource returns a new instance of InotifyEventSource.
func NewInotifyEventSource() *InotifyEventSource {
	s := &InotifyEventSource{
		paths: make(map[int]string),
		subs:  make(map[int]*inotifySubscription),
	}
	s.inotify.buf = make([]byte, 4096*unix.SizeofInotifyEvent)
	s.epoll.events = make([]unix.EpollEvent, 64)
	return s
}

// NewEventSource returns an inotify-backed source on Linux systems.
func NewEventSource() EventSource {
	return NewInotifyEventSource()
}

// init sets up inotify, epoll, and the wake pipe on first use.
func (s *InotifyEventSource) init() error {
	s.initOnce.Do(func() {
		s.initErr = s.doInit()
	})
	return s.initErr
}

func (s *InotifyEventSource) doInit() (err error) {
	if s.inotify.fd, err = unix.InotifyInit1(unix.IN_CLOEXEC); err != nil {
		return fmt.Errorf("cannot init inotify: %w", err)
	}

	if s.epoll.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return fmt.Errorf("cannot create epoll: %w", err)
	}

	pipe := []int{-1, -1}
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("cannot create epoll pipe: %w", err)
	}
	s.pipe.r, s.pipe.w = pipe[0], pipe[1]

	if err := unix.EpollCtl(s.epoll.fd, unix.EPOLL_CTL_ADD, s.inotify.fd, &unix.EpollEvent{
		Fd:     int32(s.inotify.fd),
		Events: unix.EPOLLIN,
	}); err != nil {
		return fmt.Errorf("cannot add inotify to epoll: %w", err)
	}

	if err := unix.EpollCtl(s.epoll.fd, unix.EPOLL_CTL_ADD, s.pipe.r, &unix.EpollEvent{
		Fd:     int32(s.pipe.r),
		Events: unix.EPOLLIN,
	}); err != nil {
		return fmt.Errorf("cannot add pipe to epoll: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.g.Go(func() error {
		if err := s.monitor(s.ctx); err != nil && s.ctx.Err() == nil {
			return err
		}
		return nil
	})

	return nil
}

// Open opens a descriptor for the path. inotify registration is path-based,
// so the descriptor exists to pin the resource and enforce fd accounting.
func (s *InotifyEventSource) Open(path string) (int, error) {
	if err := s.init(); err != nil {
		return 0, err
	}

	fd, err := unix.Open(path, unix.O_NONBLOCK|unix.O_RDONLY|unix.O_CLOEXEC, 0700)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.paths[fd] = path
	s.mu.Unlock()

	return fd, nil
}

// Close releases a descriptor returned by Open.
func (s *InotifyEventSource) Close(fd int) error {
	s.mu.Lock()
	delete(s.paths, fd)
	s.mu.Unlock()
	return unix.Close(fd)
}

// Subscribe adds an inotify watch for the path behind fd.
func (s *InotifyEventSource) Subscribe(fd int, mask EventMask, event func(raw uint32), cancelled func()) (Subscription, error) {
	if err := s.init(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	path, ok := s.paths[fd]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inotify: unknown descriptor %d", fd)
	}

	bits := encodeInotifyMask(mask)
	if bits == 0 {
		return nil, fmt.Errorf("inotify: no deliverable flags in mask %s", mask)
	}

	wd, err := unix.InotifyAddWatch(s.inotify.fd, path, bits)
	if err != nil {
		return nil, err
	}

	sub := &inotifySubscription{src: s, wd: wd, event: event, cancelled: cancelled}

	s.mu.Lock()
	s.subs[wd] = sub
	s.mu.Unlock()

	return sub, nil
}

// Decode converts an inotify event mask to an EventMask.
func (s *InotifyEventSource) Decode(raw uint32) EventMask {
	var mask EventMask
	if raw&unix.IN_MOVE_SELF != 0 {
		mask |= Rename
	}
	if raw&unix.IN_MODIFY != 0 {
		mask |= Write
	}
	if raw&unix.IN_DELETE_SELF != 0 {
		mask |= Delete
	}
	if raw&unix.IN_ATTRIB != 0 {
		mask |= AttributeChange
	}
	return mask
}

// Shutdown stops the monitor goroutine and closes all source descriptors.
func (s *InotifyEventSource) Shutdown() (err error) {
	s.initOnce.Do(func() {}) // no-op if never used
	if s.cancel == nil {
		return s.initErr
	}
	s.cancel()

	if e := s.wake(); e != nil && err == nil {
		err = e
	}
	if e := s.g.Wait(); e != nil && err == nil {
		err = e
	}
	return err
}

// unsubscribe removes the inotify watch and schedules the cancelled callback.
func (s *InotifyEventSource) unsubscribe(sub *inotifySubscription) {
	s.mu.Lock()
	delete(s.subs, sub.wd)
	s.mu.Unlock()

	// Removal fails with EINVAL once the kernel has dropped the watch
	// itself, e.g. after IN_DELETE_SELF.
	unix.InotifyRmWatch(s.inotify.fd, uint32(sub.wd))

	go sub.cancelled()
}

// monitor runs in a separate goroutine and drains the inotify event queue.
func (s *InotifyEventSource) monitor(ctx context.Context) error {
	// Close all file descriptors once monitor exits.
	defer func() {
		unix.Close(s.inotify.fd)
		unix.Close(s.epoll.fd)
		unix.Close(s.pipe.w)
		unix.Close(s.pipe.r)
	}()

	for {
		if err := s.wait(ctx); err != nil {
			return err
		} else if err := s.read(ctx); err != nil {
			return err
		}
	}
}

// read reads from the inotify file descriptor. Automatically retry on EINTR.
func (s *InotifyEventSource) read(ctx context.Context) error {
	for {
		n, err := unix.Read(s.inotify.fd, s.inotify.buf)
		if err != nil && err != unix.EINTR {
			return err
		} else if n < 0 {
			continue
		}

		return s.recv(ctx, s.inotify.buf[:n])
	}
}

func (s *InotifyEventSource) recv(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		if len(b) == 0 {
			return nil
		} else if len(b) < unix.SizeofInotifyEvent {
			return fmt.Errorf("inotify short record: n=%d", len(b))
		}

		event := (*unix.InotifyEvent)(unsafe.Pointer(&b[0]))
		wd, mask := int(event.Wd), event.Mask
		b = b[unix.SizeofInotifyEvent+event.Len:]

		if mask&unix.IN_IGNORED != 0 || mask&unix.IN_Q_OVERFLOW != 0 {
			continue
		}

		s.mu.Lock()
		sub, ok := s.subs[wd]
		s.mu.Unlock()
		if !ok {
			continue
		}
		sub.event(mask)
	}
}

func (s *InotifyEventSource) wait(ctx context.Context) error {
	for {
		n, err := unix.EpollWait(s.epoll.fd, s.epoll.events, -1)
		if n == 0 || err == unix.EINTR {
			continue
		} else if err != nil {
			return err
		}

		// Read events to see if we have data available on inotify or if we are awaken.
		var hasData bool
		for _, event := range s.epoll.events[:n] {
			switch event.Fd {
			case int32(s.inotify.fd):
				hasData = hasData || event.Events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLIN) != 0

			case int32(s.pipe.r):
				if _, err := unix.Read(s.pipe.r, make([]byte, 1024)); err != nil && err != unix.EAGAIN {
					return fmt.Errorf("epoll pipe error: %w", err)
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		} else if hasData {
			return nil
		}
	}
}

func (s *InotifyEventSource) wake() error {
	if _, err := unix.Write(s.pipe.w, []byte{0}); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

type inotifySubscription struct {
	src        *InotifyEventSource
	wd         int
	event      func(raw uint32)
	cancelled  func()
	cancelOnce sync.Once
}

// Cancel stops event delivery for this subscription.
func (sub *inotifySubscription) Cancel() {
	sub.cancelOnce.Do(func() {
		sub.src.unsubscribe(sub)
	})
}

func encodeInotifyMask(mask EventMask) uint32 {
	var bits uint32
	for _, m := range inotifyBits {
		if mask&m.flag != 0 {
			bits |= m.bit
		}
	}
	return bits
}
