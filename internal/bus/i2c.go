// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads periph's host drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// OpenI2C opens I2C bus number n (/dev/i2c-n on Linux) through periph's
// registry. It satisfies OpenFunc.
func OpenI2C(n int) (Session, error) {
	if err := initHost(); err != nil {
		return nil, &IOError{Op: "open", Bus: n, Err: fmt.Errorf("periph host init: %w", err)}
	}

	b, err := i2creg.Open(strconv.Itoa(n))
	if err != nil {
		return nil, &IOError{Op: "open", Bus: n, Err: err}
	}
	return NewI2CSession(b, n), nil
}

// I2CSession reads the receiver one byte per transaction, like an SMBus
// "receive byte" command.
type I2CSession struct {
	bus i2c.BusCloser
	n   int
	buf [1]byte
}

// NewI2CSession wraps an already opened bus. n is only used in errors.
func NewI2CSession(b i2c.BusCloser, n int) *I2CSession {
	return &I2CSession{bus: b, n: n}
}

func (s *I2CSession) ReadByte(addr uint16) (byte, error) {
	if s.bus == nil {
		return 0, &IOError{Op: "read", Bus: s.n, Addr: addr, Err: ErrClosed}
	}
	if err := s.bus.Tx(addr, nil, s.buf[:]); err != nil {
		return 0, &IOError{Op: "read", Bus: s.n, Addr: addr, Err: err}
	}
	return s.buf[0], nil
}

func (s *I2CSession) Close() error {
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus = nil
	if err != nil {
		return &IOError{Op: "close", Bus: s.n, Err: err}
	}
	return nil
}
