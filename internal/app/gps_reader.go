// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/gps_i2c/internal/bus"
	"github.com/relabs-tech/gps_i2c/internal/config"
	"github.com/relabs-tech/gps_i2c/internal/gps"
	"github.com/relabs-tech/gps_i2c/internal/output"
)

// maxLineBuffer caps memory for a line that never terminates. Anything this
// long is far past MaxSentenceLength and would be rejected anyway.
const maxLineBuffer = 4096

// Stats counts what the reader has seen since it started.
type Stats struct {
	Lines        atomic.Uint64 // non-empty lines handed to the validator
	Emitted      atomic.Uint64
	NotReady     atomic.Uint64
	IOFaults     atomic.Uint64
	Reopens      atomic.Uint64
	OpenFailures atomic.Uint64
	Faults       atomic.Uint64 // unclassified

	rejected [gps.RejectChecksum + 1]atomic.Uint64
}

// Rejected returns how many lines failed the given check.
func (s *Stats) Rejected(r gps.Reject) uint64 {
	if r <= gps.RejectNone || int(r) >= len(s.rejected) {
		return 0
	}
	return s.rejected[r].Load()
}

func (s *Stats) reject(r gps.Reject) {
	if r > gps.RejectNone && int(r) < len(s.rejected) {
		s.rejected[r].Add(1)
	}
}

// Log writes the counters as one structured event.
func (s *Stats) Log(e *zerolog.Event) {
	e = e.Uint64("lines", s.Lines.Load()).
		Uint64("emitted", s.Emitted.Load()).
		Uint64("not_ready", s.NotReady.Load()).
		Uint64("io_faults", s.IOFaults.Load()).
		Uint64("reopens", s.Reopens.Load()).
		Uint64("open_failures", s.OpenFailures.Load()).
		Uint64("faults", s.Faults.Load())
	for r := gps.RejectFrame; r <= gps.RejectChecksum; r++ {
		e = e.Uint64("rejected_"+r.String(), s.Rejected(r))
	}
	e.Msg("gps reader stats")
}

// Reader pulls bytes from the receiver one at a time, assembles lines and
// emits those that validate. It owns the single bus session; Run must not be
// called concurrently.
type Reader struct {
	Open      bus.OpenFunc
	Bus       int
	Addr      uint16
	Validator gps.Validator
	Sink      output.Sink
	Log       zerolog.Logger

	Stats Stats

	session bus.Session
	line    []byte
}

// Run opens the session and loops until ctx is cancelled, returning ctx's
// error. Only the initial open can fail Run; every later fault is absorbed.
func (r *Reader) Run(ctx context.Context) error {
	s, err := r.Open(r.Bus)
	if err != nil {
		return fmt.Errorf("gps: open bus %d: %w", r.Bus, err)
	}
	r.session = s
	defer r.closeSession()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.iterate(ctx)
	}
}

// iterate reads at most one line. Whatever goes wrong, the partial line is
// dropped and the next call starts clean.
func (r *Reader) iterate(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.Stats.Faults.Add(1)
			r.Log.Error().Interface("panic", p).Msg("unexpected fault, line dropped")
		}
	}()

	if r.session == nil && !r.reopen() {
		return
	}

	line, err := r.readLine(ctx)
	switch {
	case err == nil:
		if line != nil {
			r.handleLine(line)
		}
	case ctx.Err() != nil:
		// shutting down; not a bus fault
	case bus.IsIOFault(err):
		r.Stats.IOFaults.Add(1)
		r.Log.Warn().Err(err).Msg("bus fault, reopening session")
		r.reopen()
	default:
		r.Stats.Faults.Add(1)
		r.Log.Error().Err(err).Msg("unexpected fault, line dropped")
	}
}

// readLine returns the bytes before the next newline. A nil line with a nil
// error means the line was abandoned (receiver not ready, or overflow).
func (r *Reader) readLine(ctx context.Context) ([]byte, error) {
	r.line = r.line[:0]
	overflow := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := r.session.ReadByte(r.Addr)
		if err != nil {
			return nil, err
		}

		switch b {
		case gps.NotReady:
			r.Stats.NotReady.Add(1)
			return nil, nil
		case gps.Terminator:
			if overflow {
				r.Stats.Lines.Add(1)
				r.Stats.reject(gps.RejectLength)
				return nil, nil
			}
			return r.line, nil
		}

		if len(r.line) >= maxLineBuffer {
			overflow = true
			continue
		}
		r.line = append(r.line, b)
	}
}

func (r *Reader) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	r.Stats.Lines.Add(1)

	sentence, reason := r.Validator.Check(line)
	if reason != gps.RejectNone {
		r.Stats.reject(reason)
		r.Log.Trace().Stringer("reason", reason).Bytes("line", line).Msg("line rejected")
		return
	}

	if err := r.Sink.Emit(sentence); err != nil {
		r.Stats.Faults.Add(1)
		r.Log.Error().Err(err).Msg("emit failed")
		return
	}
	r.Stats.Emitted.Add(1)
}

// reopen drops the current session and installs a fresh one. On failure the
// reader is left without a session and the next iteration tries again.
func (r *Reader) reopen() bool {
	r.closeSession()

	s, err := r.Open(r.Bus)
	if err != nil {
		r.Stats.OpenFailures.Add(1)
		r.Log.Warn().Err(err).Msg("bus reopen failed")
		return false
	}
	r.session = s
	r.Stats.Reopens.Add(1)
	r.Log.Debug().Msg("bus session reopened")
	return true
}

func (r *Reader) closeSession() {
	if r.session == nil {
		return
	}
	if err := r.session.Close(); err != nil {
		r.Log.Debug().Err(err).Msg("bus close failed")
	}
	r.session = nil
}

// RunGPSReader builds the reader described by cfg and runs it until ctx is
// cancelled. Validated sentences go to stdout and, when a broker is
// configured, to MQTT.
func RunGPSReader(ctx context.Context, cfg *config.Config, logger zerolog.Logger, stdout io.Writer) error {
	log := logger.With().Str("component", "gps").Logger()

	var open bus.OpenFunc
	switch cfg.Transport {
	case config.TransportSerial:
		open = bus.SerialOpener(cfg.SerialPort, uint(cfg.SerialBaud))
		log.Info().Str("port", cfg.SerialPort).Int("baud", cfg.SerialBaud).Msg("gps reader using serial transport")
	default:
		open = bus.OpenI2C
		log.Info().Int("bus", cfg.I2CBus).Str("addr", fmt.Sprintf("0x%02X", cfg.I2CAddress)).Msg("gps reader using i2c transport")
	}

	sinks := output.Fanout{output.NewLineWriter(stdout)}
	if cfg.MQTTBroker != "" {
		pub, disconnect, err := output.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			return err
		}
		defer disconnect()
		sinks = append(sinks, pub)
		log.Info().Str("broker", cfg.MQTTBroker).Str("topic", cfg.MQTTTopic).Msg("publishing sentences to MQTT")
	}

	r := &Reader{
		Open:      open,
		Bus:       cfg.I2CBus,
		Addr:      cfg.I2CAddress,
		Validator: cfg.Validator(),
		Sink:      sinks,
		Log:       log,
	}
	err := r.Run(ctx)
	r.Stats.Log(log.Info())
	return err
}
