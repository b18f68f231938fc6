// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"io"

	serial "github.com/jacobsa/go-serial/serial"
)

// SerialOpener returns an OpenFunc for receivers wired to a UART instead of
// I2C. The bus number and device address are ignored by the returned
// sessions; they only appear in errors.
func SerialOpener(port string, baud uint) OpenFunc {
	return func(n int) (Session, error) {
		opts := serial.OpenOptions{
			PortName:              port,
			BaudRate:              baud,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		}
		p, err := serial.Open(opts)
		if err != nil {
			return nil, &IOError{Op: "open", Bus: n, Err: err}
		}
		return NewStreamSession(p, n), nil
	}
}

// StreamSession reads bytes from any stream, one at a time.
type StreamSession struct {
	rc  io.ReadCloser
	n   int
	buf [1]byte
}

func NewStreamSession(rc io.ReadCloser, n int) *StreamSession {
	return &StreamSession{rc: rc, n: n}
}

func (s *StreamSession) ReadByte(addr uint16) (byte, error) {
	if s.rc == nil {
		return 0, &IOError{Op: "read", Bus: s.n, Addr: addr, Err: ErrClosed}
	}
	if _, err := io.ReadFull(s.rc, s.buf[:]); err != nil {
		return 0, &IOError{Op: "read", Bus: s.n, Addr: addr, Err: err}
	}
	return s.buf[0], nil
}

func (s *StreamSession) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	if err != nil {
		return &IOError{Op: "close", Bus: s.n, Err: err}
	}
	return nil
}
