//go:build darwin

package sfsmonitor

import "golang.org/x/sys/unix"

const noteFunlock = unix.NOTE_FUNLOCK
