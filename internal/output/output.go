// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Sink receives every validated sentence.
type Sink interface {
	Emit(sentence string) error
}

// LineWriter writes one sentence per line.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

func (l *LineWriter) Emit(sentence string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintln(l.w, sentence); err != nil {
		return fmt.Errorf("output: write: %w", err)
	}
	return nil
}

// Fanout emits to every sink in order. A failing sink does not stop the
// others; all errors are joined.
type Fanout []Sink

func (f Fanout) Emit(sentence string) error {
	var errs []error
	for _, s := range f {
		if err := s.Emit(sentence); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
