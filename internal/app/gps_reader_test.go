// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_i2c/internal/bus"
	"github.com/relabs-tech/gps_i2c/internal/gps"
)

type step struct {
	b     byte
	err   error
	panic bool
}

func text(s string) []step {
	out := make([]step, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, step{b: s[i]})
	}
	return out
}

func seq(parts ...[]step) []step {
	var out []step
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// fakeSession replays steps and cancels the test context once it runs dry,
// so Run returns after the script is consumed.
type fakeSession struct {
	steps  []step
	cancel context.CancelFunc
	addrs  []uint16
	closed bool
}

func (f *fakeSession) ReadByte(addr uint16) (byte, error) {
	f.addrs = append(f.addrs, addr)
	if len(f.steps) == 0 {
		f.cancel()
		return 0, &bus.IOError{Op: "read", Addr: addr, Err: io.EOF}
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	if s.panic {
		panic("decoder exploded")
	}
	return s.b, s.err
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type openResult struct {
	session *fakeSession
	err     error
}

type fakeOpener struct {
	results []openResult
	buses   []int
}

func (o *fakeOpener) open(n int) (bus.Session, error) {
	o.buses = append(o.buses, n)
	if len(o.results) == 0 {
		return nil, &bus.IOError{Op: "open", Bus: n, Err: errors.New("no more sessions")}
	}
	res := o.results[0]
	o.results = o.results[1:]
	if res.err != nil {
		return nil, res.err
	}
	return res.session, nil
}

type recordingSink struct {
	got []string
	err error
}

func (r *recordingSink) Emit(s string) error {
	r.got = append(r.got, s)
	return r.err
}

func newReader(opener *fakeOpener, sink *recordingSink) *Reader {
	return &Reader{
		Open: opener.open,
		Bus:  1,
		Addr: 0x42,
		Sink: sink,
		Log:  zerolog.Nop(),
	}
}

var (
	gga = gps.AppendChecksum("GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,")
	rmc = gps.AppendChecksum("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
)

func runScript(t *testing.T, sessions ...openResult) (*Reader, *fakeOpener, *recordingSink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, s := range sessions {
		if s.session != nil {
			s.session.cancel = cancel
		}
	}
	opener := &fakeOpener{results: sessions}
	sink := &recordingSink{}
	r := newReader(opener, sink)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	return r, opener, sink
}

func TestReader_EmitsValidatedSentences(t *testing.T) {
	s := &fakeSession{steps: text(gga + "\r\n" + rmc + "\r\n")}
	r, opener, sink := runScript(t, openResult{session: s})

	assert.Equal(t, []string{gga, rmc}, sink.got)
	assert.Equal(t, []int{1}, opener.buses)
	assert.Equal(t, uint16(0x42), s.addrs[0])
	assert.True(t, s.closed, "session closed on shutdown")
	assert.Equal(t, uint64(2), r.Stats.Emitted.Load())
	assert.Zero(t, r.Stats.IOFaults.Load(), "cancellation is not a bus fault")
	assert.Zero(t, r.Stats.Reopens.Load())
}

func TestReader_DropsInvalidLines(t *testing.T) {
	s := &fakeSession{steps: text(
		"$GP$GGA*00\n" +
			gps.AppendChecksum("GPTXT,01,01,02,txbuf alloc") + "\n" +
			gga[:len(gga)-2] + "00\n" +
			rmc + "\n",
	)}
	r, _, sink := runScript(t, openResult{session: s})

	assert.Equal(t, []string{rmc}, sink.got)
	assert.Equal(t, uint64(4), r.Stats.Lines.Load())
	assert.Equal(t, uint64(1), r.Stats.Rejected(gps.RejectFrame))
	assert.Equal(t, uint64(1), r.Stats.Rejected(gps.RejectErrorMarker))
	assert.Equal(t, uint64(1), r.Stats.Rejected(gps.RejectChecksum))
}

func TestReader_NotReadyAbandonsLine(t *testing.T) {
	s := &fakeSession{steps: seq(
		text("$GPGGA,0927"),
		[]step{{b: gps.NotReady}},
		text(rmc+"\n"),
	)}
	r, _, sink := runScript(t, openResult{session: s})

	assert.Equal(t, []string{rmc}, sink.got)
	assert.Equal(t, uint64(1), r.Stats.NotReady.Load())
	assert.Equal(t, uint64(1), r.Stats.Lines.Load())
}

func TestReader_EmptyLineNotValidated(t *testing.T) {
	s := &fakeSession{steps: text("\n\n" + gga + "\n")}
	r, _, sink := runScript(t, openResult{session: s})

	assert.Equal(t, []string{gga}, sink.got)
	assert.Equal(t, uint64(1), r.Stats.Lines.Load())
}

func TestReader_IOFaultRecreatesSessionOnce(t *testing.T) {
	ioErr := &bus.IOError{Op: "read", Bus: 1, Addr: 0x42, Err: errors.New("remote I/O error")}
	first := &fakeSession{steps: seq(text("$GPGGA,09"), []step{{err: ioErr}})}
	second := &fakeSession{steps: text(gga + "\n")}

	r, opener, sink := runScript(t, openResult{session: first}, openResult{session: second})

	assert.Equal(t, []int{1, 1}, opener.buses)
	assert.True(t, first.closed)
	assert.Equal(t, []string{gga}, sink.got)
	assert.Equal(t, uint64(1), r.Stats.IOFaults.Load())
	assert.Equal(t, uint64(1), r.Stats.Reopens.Load())
}

func TestReader_ReopenFailureRetries(t *testing.T) {
	ioErr := &bus.IOError{Op: "read", Err: errors.New("nack")}
	first := &fakeSession{steps: []step{{err: ioErr}}}
	second := &fakeSession{steps: text(rmc + "\n")}

	r, opener, sink := runScript(t,
		openResult{session: first},
		openResult{err: &bus.IOError{Op: "open", Bus: 1, Err: errors.New("no such device")}},
		openResult{session: second},
	)

	assert.Len(t, opener.buses, 3)
	assert.Equal(t, []string{rmc}, sink.got)
	assert.Equal(t, uint64(1), r.Stats.OpenFailures.Load())
	assert.Equal(t, uint64(1), r.Stats.Reopens.Load())
}

func TestReader_UnclassifiedFaultKeepsSession(t *testing.T) {
	s := &fakeSession{steps: seq(
		text("$GPG"),
		[]step{{err: errors.New("bad decode")}},
		text(gga+"\n"),
		text("$GPR"),
		[]step{{panic: true}},
		text(rmc+"\n"),
	)}
	r, opener, sink := runScript(t, openResult{session: s})

	assert.Len(t, opener.buses, 1, "no reopen for unclassified faults")
	assert.Equal(t, []string{gga, rmc}, sink.got)
	assert.Equal(t, uint64(2), r.Stats.Faults.Load())
	assert.Zero(t, r.Stats.IOFaults.Load())
}

func TestReader_SinkErrorDoesNotStopLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &fakeSession{steps: text(gga + "\n" + rmc + "\n"), cancel: cancel}
	sink := &recordingSink{err: errors.New("broker gone")}
	r := newReader(&fakeOpener{results: []openResult{{session: s}}}, sink)

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, []string{gga, rmc}, sink.got)
	assert.Equal(t, uint64(2), r.Stats.Faults.Load())
	assert.Zero(t, r.Stats.Emitted.Load(), "failed writes are not counted as emitted")
	assert.Equal(t, uint64(2), r.Stats.Lines.Load())
}

func TestReader_OverlongLineRejected(t *testing.T) {
	s := &fakeSession{steps: text("$" + strings.Repeat("A", maxLineBuffer+10) + "\n" + gga + "\n")}
	r, _, sink := runScript(t, openResult{session: s})

	assert.Equal(t, []string{gga}, sink.got)
	assert.Equal(t, uint64(1), r.Stats.Rejected(gps.RejectLength))
}

func TestReader_InitialOpenFailure(t *testing.T) {
	opener := &fakeOpener{results: []openResult{{err: &bus.IOError{Op: "open", Bus: 1, Err: errors.New("no such file")}}}}
	r := newReader(opener, &recordingSink{})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, bus.IsIOFault(err))
	assert.Contains(t, err.Error(), "open bus 1")
}

func TestReader_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &fakeSession{cancel: cancel}
	r := newReader(&fakeOpener{results: []openResult{{session: s}}}, &recordingSink{})

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Empty(t, s.addrs)
	assert.True(t, s.closed)
}
