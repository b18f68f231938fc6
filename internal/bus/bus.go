// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"errors"
	"fmt"
)

// Session is an open channel to the receiver. Only one goroutine may use a
// Session at a time.
type Session interface {
	// ReadByte reads a single byte from the device at addr. Transport
	// failures are returned as *IOError.
	ReadByte(addr uint16) (byte, error)
	Close() error
}

// OpenFunc opens a new Session on the numbered bus.
type OpenFunc func(bus int) (Session, error)

// IOError is a transport-level failure (disconnect, NACK, closed port). The
// read loop recovers from it by replacing the Session.
type IOError struct {
	Op   string
	Bus  int
	Addr uint16
	Err  error
}

func (e *IOError) Error() string {
	if e.Op == "open" {
		return fmt.Sprintf("bus %d: open: %v", e.Bus, e.Err)
	}
	return fmt.Sprintf("bus %d addr 0x%02X: %s: %v", e.Bus, e.Addr, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOFault reports whether err (or anything it wraps) is an *IOError.
func IsIOFault(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// ErrClosed is wrapped in an IOError when a closed Session is read.
var ErrClosed = errors.New("session closed")
