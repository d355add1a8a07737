package mock

import (
	sfsmonitor "github.com/KnowMeGit/SFSMonitor"
)

var _ sfsmonitor.EventSource = (*EventSource)(nil)

type EventSource struct {
	OpenFunc      func(path string) (int, error)
	SubscribeFunc func(fd int, mask sfsmonitor.EventMask, event func(raw uint32), cancelled func()) (sfsmonitor.Subscription, error)
	CloseFunc     func(fd int) error
	DecodeFunc    func(raw uint32) sfsmonitor.EventMask
	ShutdownFunc  func() error
}

func (s *EventSource) Open(path string) (int, error) {
	return s.OpenFunc(path)
}

func (s *EventSource) Subscribe(fd int, mask sfsmonitor.EventMask, event func(raw uint32), cancelled func()) (sfsmonitor.Subscription, error) {
	return s.SubscribeFunc(fd, mask, event, cancelled)
}

func (s *EventSource) Close(fd int) error {
	return s.CloseFunc(fd)
}

func (s *EventSource) Decode(raw uint32) sfsmonitor.EventMask {
	return s.DecodeFunc(raw)
}

func (s *EventSource) Shutdown() error {
	return s.ShutdownFunc()
}

var _ sfsmonitor.Subscription = (*Subscription)(nil)

type Subscription struct {
	CancelFunc func()
}

func (s *Subscription) Cancel() {
	s.CancelFunc()
}
