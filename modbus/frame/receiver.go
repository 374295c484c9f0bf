// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
)

const (
	DefaultResponseTimeout     = 500 * time.Millisecond
	DefaultBeginOfFrameTimeout = 5 * time.Second
	DefaultEndOfFrameTimeout   = 500 * time.Millisecond
)

const (
	stateFunction = iota
	stateByte
	stateComplete
)

// TimedReader is a byte stream whose reads wait at most a given duration.
// A read that times out with nothing received must return an error matching
// modbus.ErrTimeout or os.ErrDeadlineExceeded.
type TimedReader interface {
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
}

// Receiver assembles complete frames from a TimedReader.
type Receiver struct {
	Framer Framer
	Reader TimedReader

	// ResponseTimeout bounds the wait for the first byte of a frame of
	// known length.
	ResponseTimeout time.Duration
	// BeginOfFrameTimeout bounds the wait for the first byte of a frame of
	// undefined length.
	BeginOfFrameTimeout time.Duration
	// EndOfFrameTimeout bounds the silence between two segments of a frame.
	EndOfFrameTimeout time.Duration
}

// Receive reads one frame travelling in direction dir. With length set to
// LengthUndefined the frame is sized from its function code and byte count
// as it arrives; otherwise exactly length bytes are expected, or fewer when
// the frame turns out to be an exception response.
//
// A timeout striking when exactly ExceptionLength bytes have arrived yields
// those bytes as a complete frame. RTU frames are checked against their CRC
// before being returned.
func (r *Receiver) Receive(dir Direction, length int) ([]byte, error) {
	f := r.Framer
	offset := f.HeaderLength()
	exceptionLength := ExceptionLength(f)
	buf := make([]byte, f.MaxADULength())

	var (
		state    int
		expected int
		timeout  time.Duration
	)
	if length == LengthUndefined {
		state = stateFunction
		expected = offset + 1
		timeout = durationOr(r.BeginOfFrameTimeout, DefaultBeginOfFrameTimeout)
	} else {
		if length > len(buf) {
			return nil, fmt.Errorf("%w: expected length %d exceeds %d", modbus.ErrInvalidData, length, len(buf))
		}
		state = stateComplete
		expected = length
		timeout = durationOr(r.ResponseTimeout, DefaultResponseTimeout)
	}

	got := 0
	for {
		n, err := r.read(buf[got:expected], timeout)
		got += n
		if err != nil {
			if errors.Is(err, modbus.ErrTimeout) && got == exceptionLength && got < expected {
				slog.Debug("frame timed out at exception length", "dir", dir, "adu", hex.EncodeToString(buf[:got]))
				return r.finish(dir, buf[:got])
			}
			return nil, err
		}

		if state == stateComplete && got > offset && buf[offset]&modbus.ExceptionFlag != 0 && expected > exceptionLength {
			expected = exceptionLength
		}

		for got >= expected {
			switch state {
			case stateFunction:
				expected += headerExtra(dir, buf[offset])
				state = stateByte
			case stateByte:
				expected += dataLength(dir, buf[:got], offset) + f.ChecksumLength()
				if expected > len(buf) {
					return nil, fmt.Errorf("%w: %s of %d bytes exceeds %d", modbus.ErrInvalidData, dir, expected, len(buf))
				}
				state = stateComplete
			case stateComplete:
				return r.finish(dir, buf[:expected])
			}
		}
		timeout = durationOr(r.EndOfFrameTimeout, DefaultEndOfFrameTimeout)
	}
}

func (r *Receiver) finish(dir Direction, adu []byte) ([]byte, error) {
	slog.Debug("received", "dir", dir, "mode", r.Framer.Mode(), "adu", hex.EncodeToString(adu))
	if err := r.Framer.Verify(adu); err != nil {
		return nil, err
	}
	return adu, nil
}

// read performs one wait on the stream. Interrupted waits are re-armed.
func (r *Receiver) read(p []byte, timeout time.Duration) (int, error) {
	for {
		n, err := r.Reader.ReadTimeout(p, timeout)
		switch {
		case err == nil && n == 0:
			return 0, modbus.ErrConnectionClosed
		case err == nil:
			return n, nil
		case n > 0:
			// Keep the bytes; the next wait reports the condition again.
			return n, nil
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, modbus.ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
			return 0, modbus.ErrTimeout
		case errors.Is(err, io.EOF), errors.Is(err, modbus.ErrConnectionClosed):
			return 0, modbus.ErrConnectionClosed
		default:
			return 0, fmt.Errorf("%w: %v", modbus.ErrTransportFailure, err)
		}
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
