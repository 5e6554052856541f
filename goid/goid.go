// Package goid resolves the identifier of the calling goroutine.
//
// Goroutine ids are process-local, never reused while the goroutine lives,
// and are the natural ownership token for primitives that must distinguish
// "the goroutine that locked me" from everyone else. The runtime does not
// expose the id directly; ID parses it from the header line of
// [runtime.Stack], which has the stable form "goroutine N [status]:".
package goid

import (
	"runtime"
	"strconv"
)

// ID returns the id of the calling goroutine.
//
// The lookup costs one shallow stack capture (a single frame); it is intended
// for ownership bookkeeping on slow paths such as lock acquisition, not for
// per-iteration hot loops.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse extracts N from a "goroutine N [...]:" header. Returns 0 if the
// header is malformed, which the runtime does not produce in practice.
func parse(header []byte) uint64 {
	const prefix = "goroutine "
	if len(header) <= len(prefix) || string(header[:len(prefix)]) != prefix {
		return 0
	}
	rest := header[len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	id, err := strconv.ParseUint(string(rest[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
