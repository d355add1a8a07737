package sfsmonitor_test

import (
	"reflect"
	"testing"

	sfsmonitor "github.com/KnowMeGit/SFSMonitor"
)

func TestEventMask_Flags(t *testing.T) {
	mask := sfsmonitor.Write | sfsmonitor.SizeIncrease
	if got, want := mask.Flags(), []sfsmonitor.EventMask{sfsmonitor.Write, sfsmonitor.SizeIncrease}; !reflect.DeepEqual(got, want) {
		t.Fatalf("flags=%v, want %v", got, want)
	}

	// Enumeration follows vocabulary order regardless of bit construction order.
	mask = sfsmonitor.DataAvailable | sfsmonitor.Rename
	if got, want := mask.Flags(), []sfsmonitor.EventMask{sfsmonitor.Rename, sfsmonitor.DataAvailable}; !reflect.DeepEqual(got, want) {
		t.Fatalf("flags=%v, want %v", got, want)
	}
}

func TestEventMask_RoundTrip(t *testing.T) {
	mask := sfsmonitor.Write | sfsmonitor.SizeIncrease

	names := mask.FlagNames()
	if got, want := names, []string{"write", "size-increase"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("names=%v, want %v", got, want)
	}

	parsed, err := sfsmonitor.ParseEventMask(names)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != mask {
		t.Fatalf("parsed=%v, want %v", parsed, mask)
	}

	// Every mask over the full vocabulary round-trips losslessly.
	all := sfsmonitor.AllEvents
	parsed, err = sfsmonitor.ParseEventMask(all.FlagNames())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != all {
		t.Fatalf("parsed=%v, want %v", parsed, all)
	}
	if got, want := len(all.Flags()), 9; got != want {
		t.Fatalf("flag count=%d, want %d", got, want)
	}
}

func TestEventMask_String(t *testing.T) {
	if got, want := (sfsmonitor.Write | sfsmonitor.SizeIncrease).String(), "write|size-increase"; got != want {
		t.Fatalf("string=%q, want %q", got, want)
	}
	if got, want := sfsmonitor.EventMask(0).String(), "none"; got != want {
		t.Fatalf("string=%q, want %q", got, want)
	}
}

func TestEventMask_Has(t *testing.T) {
	mask := sfsmonitor.Write | sfsmonitor.Delete
	if !mask.Has(sfsmonitor.Write) {
		t.Fatal("expected mask to contain write")
	}
	if !mask.Has(sfsmonitor.Write | sfsmonitor.Delete) {
		t.Fatal("expected mask to contain write|delete")
	}
	if mask.Has(sfsmonitor.Rename) {
		t.Fatal("expected mask to not contain rename")
	}
}

func TestParseEventFlag_Unknown(t *testing.T) {
	if _, err := sfsmonitor.ParseEventFlag("no-such-flag"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := sfsmonitor.ParseEventMask([]string{"write", "no-such-flag"}); err == nil {
		t.Fatal("expected error")
	}
}
