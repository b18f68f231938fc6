// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Wire-level byte values of an NMEA-0183 stream read from the receiver.
const (
	FrameStart     byte = '$'
	ChecksumDelim  byte = '*'
	Terminator     byte = '\n'
	CarriageReturn byte = '\r'

	// NotReady is returned by the receiver in place of a payload byte when
	// its transmit buffer is empty.
	NotReady byte = 0xFF
)

// MaxSentenceLength is the longest line accepted, counted without the
// terminating newline. A line of exactly this length passes.
const MaxSentenceLength = 83

const (
	minPrintable = 32
	maxPrintable = 122
)

// DefaultErrorMarkers are substrings the receiver firmware emits when it fails
// to allocate its transmit buffer. Both spellings have been seen in the field.
var DefaultErrorMarkers = []string{"txbuf", "txtbuf"}

// Reject names the first check a line failed.
type Reject int

const (
	RejectNone Reject = iota
	RejectFrame
	RejectLength
	RejectCharset
	RejectErrorMarker
	RejectSplit
	RejectChecksum
)

func (r Reject) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectFrame:
		return "frame"
	case RejectLength:
		return "length"
	case RejectCharset:
		return "charset"
	case RejectErrorMarker:
		return "error_marker"
	case RejectSplit:
		return "split"
	case RejectChecksum:
		return "checksum"
	default:
		return fmt.Sprintf("reject(%d)", int(r))
	}
}

// Validator decides whether a raw line read from the receiver is a
// well-formed NMEA sentence. It holds no state between calls.
type Validator struct {
	// MaxLength overrides MaxSentenceLength when > 0.
	MaxLength int
	// ErrorMarkers overrides DefaultErrorMarkers when non-nil.
	ErrorMarkers []string
}

// Validate returns the sentence and true when line passes every check.
func (v Validator) Validate(line []byte) (string, bool) {
	s, r := v.Check(line)
	return s, r == RejectNone
}

// Check runs the checks in order and stops at the first failure.
func (v Validator) Check(line []byte) (string, Reject) {
	// 1. exactly one '$', and it leads the line
	if len(line) == 0 || line[0] != FrameStart || bytes.Count(line, []byte{FrameStart}) != 1 {
		return "", RejectFrame
	}

	// 2. length bound
	if len(line) > v.maxLength() {
		return "", RejectLength
	}

	// 3. printable ASCII plus CR, all or nothing
	for _, c := range line {
		if (c < minPrintable || c > maxPrintable) && c != CarriageReturn {
			return "", RejectCharset
		}
	}

	text := string(line)

	// 4. firmware error payloads
	for _, m := range v.errorMarkers() {
		if m != "" && strings.Contains(text, m) {
			return "", RejectErrorMarker
		}
	}

	// 5. body and a single trailing checksum field
	body, field, ok := strings.Cut(text, string(ChecksumDelim))
	if !ok || strings.IndexByte(field, ChecksumDelim) >= 0 {
		return "", RejectSplit
	}

	// 6. XOR of everything between '$' and '*'
	want, ok := parseChecksumField(field)
	if !ok || Checksum([]byte(body[1:])) != want {
		return "", RejectChecksum
	}

	return strings.TrimRight(text, "\r"), RejectNone
}

func (v Validator) maxLength() int {
	if v.MaxLength > 0 {
		return v.MaxLength
	}
	return MaxSentenceLength
}

func (v Validator) errorMarkers() []string {
	if v.ErrorMarkers != nil {
		return v.ErrorMarkers
	}
	return DefaultErrorMarkers
}

// parseChecksumField accepts exactly two hex digits, optionally followed by
// carriage returns.
func parseChecksumField(field string) (byte, bool) {
	field = strings.TrimRight(field, "\r")
	if len(field) != 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(field, 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(n), true
}

// Checksum is the NMEA 8-bit XOR over body. body must not include the
// leading '$' or the '*' delimiter.
func Checksum(body []byte) byte {
	var sum byte
	for _, c := range body {
		sum ^= c
	}
	return sum
}

// AppendChecksum frames body as "$body*HH".
func AppendChecksum(body string) string {
	return fmt.Sprintf("%c%s%c%02X", FrameStart, body, ChecksumDelim, Checksum([]byte(body)))
}
