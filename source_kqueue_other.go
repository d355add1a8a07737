//go:build freebsd || openbsd || netbsd || dragonfly

package sfsmonitor

// NOTE_FUNLOCK only exists on Darwin.
const noteFunlock = 0
