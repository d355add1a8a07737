//go:build linux

package sfsmonitor

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestInotifyEventSource_Decode(t *testing.T) {
	s := NewInotifyEventSource()

	// A combined raw bitmask decodes to exactly its component flags.
	if got, want := s.Decode(unix.IN_MODIFY|unix.IN_ATTRIB), Write|AttributeChange; got != want {
		t.Fatalf("mask=%s, want %s", got, want)
	}
	if got, want := s.Decode(unix.IN_MOVE_SELF), Rename; got != want {
		t.Fatalf("mask=%s, want %s", got, want)
	}
	if got, want := s.Decode(unix.IN_DELETE_SELF), Delete; got != want {
		t.Fatalf("mask=%s, want %s", got, want)
	}
	if got, want := s.Decode(0), EventMask(0); got != want {
		t.Fatalf("mask=%s, want %s", got, want)
	}
}

func TestInotifyEventSource_Encode(t *testing.T) {
	if got, want := encodeInotifyMask(Write|Delete), uint32(unix.IN_MODIFY|unix.IN_DELETE_SELF); got != want {
		t.Fatalf("bits=0x%x, want 0x%x", got, want)
	}

	// Link-count changes ride on IN_ATTRIB.
	if got, want := encodeInotifyMask(LinkCountChange), uint32(unix.IN_ATTRIB); got != want {
		t.Fatalf("bits=0x%x, want 0x%x", got, want)
	}

	// Flags inotify cannot express drop on encode.
	if got := encodeInotifyMask(Unlock | DataAvailable | AccessRevocation | SizeIncrease); got != 0 {
		t.Fatalf("bits=0x%x, want 0", got)
	}
}
