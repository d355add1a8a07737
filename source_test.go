package sfsmonitor_test

import (
	"os"
	"testing"
	"time"

	sfsmonitor "github.com/KnowMeGit/SFSMonitor"
)

// TestEventSource exercises the platform-default backend against a real
// file.
func TestEventSource(t *testing.T) {
	t.Run("Write", func(t *testing.T) {
		path := mkfile(t, "watched")

		ch := make(chan sfsmonitor.Event, 16)
		m := sfsmonitor.NewMonitor(delegateFunc(func(mask sfsmonitor.EventMask, path string, _ *sfsmonitor.Monitor) {
			ch <- sfsmonitor.Event{Path: path, Mask: mask}
		}))
		defer m.Close()

		if err := m.Add(path, sfsmonitor.AllEvents); err != nil {
			t.Fatal(err)
		}

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte("data")); err != nil {
			t.Fatal(err)
		}
		if err := f.Sync(); err != nil {
			t.Fatal(err)
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}

		select {
		case <-time.After(10 * time.Second):
			t.Fatal("timeout waiting for event")
		case event := <-ch:
			if got, want := event.Path, path; got != want {
				t.Fatalf("path=%s, want %s", got, want)
			}
			if !event.Mask.Has(sfsmonitor.Write) {
				t.Fatalf("mask=%s, want to contain write", event.Mask)
			}
		}
	})

	t.Run("RemoveStopsDelivery", func(t *testing.T) {
		path := mkfile(t, "watched")

		ch := make(chan sfsmonitor.Event, 16)
		m := sfsmonitor.NewMonitor(delegateFunc(func(mask sfsmonitor.EventMask, path string, _ *sfsmonitor.Monitor) {
			ch <- sfsmonitor.Event{Path: path, Mask: mask}
		}))
		defer m.Close()

		if err := m.Add(path, sfsmonitor.AllEvents); err != nil {
			t.Fatal(err)
		}

		m.Remove(path)
		waitForCount(t, m, 0)

		// Drain anything delivered before the cancellation landed.
		for {
			select {
			case <-ch:
				continue
			case <-time.After(100 * time.Millisecond):
			}
			break
		}

		if err := os.WriteFile(path, []byte("more"), 0600); err != nil {
			t.Fatal(err)
		}

		select {
		case event := <-ch:
			t.Fatalf("unexpected event after remove: %s %s", event.Path, event.Mask)
		case <-time.After(250 * time.Millisecond):
		}
	})
}
