// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"bytes"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/crc"
)

type chunk struct {
	data []byte
	err  error
}

// scriptedReader hands out one chunk per wait. Once the script is exhausted
// every wait fails with end, or times out when end is nil.
type scriptedReader struct {
	chunks   []chunk
	end      error
	timeouts []time.Duration
}

func (s *scriptedReader) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	s.timeouts = append(s.timeouts, timeout)
	if len(s.chunks) == 0 {
		if s.end != nil {
			return 0, s.end
		}
		return 0, modbus.ErrTimeout
	}
	c := s.chunks[0]
	if c.err != nil {
		s.chunks = s.chunks[1:]
		return 0, c.err
	}
	n := copy(p, c.data)
	if n < len(c.data) {
		s.chunks[0].data = c.data[n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func chunks(parts ...[]byte) []chunk {
	cs := make([]chunk, len(parts))
	for i, p := range parts {
		cs[i] = chunk{data: p}
	}
	return cs
}

func newReceiver(f Framer, r TimedReader) *Receiver {
	return &Receiver{
		Framer:              f,
		Reader:              r,
		ResponseTimeout:     200 * time.Millisecond,
		BeginOfFrameTimeout: time.Second,
		EndOfFrameTimeout:   50 * time.Millisecond,
	}
}

func TestReceiveFixedLength(t *testing.T) {
	adu := crc.Append([]byte{0x01, 0x03, 0x04, 0x00, 0x0A, 0x00, 0x0B})
	reader := &scriptedReader{chunks: chunks(adu[:2], adu[2:5], adu[5:]), end: io.ErrUnexpectedEOF}

	got, err := newReceiver(NewRTUFramer(), reader).Receive(DirResponse, len(adu))
	if err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}
	if !bytes.Equal(got, adu) {
		t.Errorf("Receive() = % X, want % X", got, adu)
	}
	want := []time.Duration{200 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}
	if len(reader.timeouts) != len(want) {
		t.Fatalf("waits = %v, want %v", reader.timeouts, want)
	}
	for i := range want {
		if reader.timeouts[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, reader.timeouts[i], want[i])
		}
	}
}

func TestReceiveUndefinedRequest(t *testing.T) {
	tests := []struct {
		name   string
		framer Framer
		adu    []byte
		split  []int
	}{
		{
			name:   "RTUWriteMultipleRegisters",
			framer: NewRTUFramer(),
			adu:    crc.Append([]byte{0x11, 0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}),
			split:  []int{1, 3, 7},
		},
		{
			name:   "RTUReadCoils",
			framer: NewRTUFramer(),
			adu:    crc.Append([]byte{0x01, 0x01, 0x00, 0x13, 0x00, 0x0D}),
			split:  []int{4},
		},
		{
			name:   "RTUReadExceptionStatus",
			framer: NewRTUFramer(),
			adu:    crc.Append([]byte{0x01, 0x07}),
		},
		{
			name:   "TCPReadHoldingRegisters",
			framer: NewTCPFramer(),
			adu:    []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x6B, 0x00, 0x03},
			split:  []int{6},
		},
		{
			name:   "TCPWriteMultipleCoils",
			framer: NewTCPFramer(),
			adu:    []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x09, 0x01, 0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parts [][]byte
			prev := 0
			for _, s := range tt.split {
				parts = append(parts, tt.adu[prev:s])
				prev = s
			}
			parts = append(parts, tt.adu[prev:])
			// Bytes of a following frame must stay unread.
			parts = append(parts, []byte{0xEE, 0xEE})
			reader := &scriptedReader{chunks: chunks(parts...)}

			got, err := newReceiver(tt.framer, reader).Receive(DirRequest, LengthUndefined)
			if err != nil {
				t.Fatalf("Receive() failed: %v", err)
			}
			if !bytes.Equal(got, tt.adu) {
				t.Errorf("Receive() = % X, want % X", got, tt.adu)
			}
			if reader.timeouts[0] != time.Second {
				t.Errorf("first wait = %v, want begin of frame timeout", reader.timeouts[0])
			}
			for i, d := range reader.timeouts[1:] {
				if d != 50*time.Millisecond {
					t.Errorf("wait %d = %v, want end of frame timeout", i+1, d)
				}
			}
		})
	}
}

func TestReceiveUndefinedResponse(t *testing.T) {
	adu := crc.Append([]byte{0x01, 0x11, 0x03, 0x01, 0xFF, 0x55})
	reader := &scriptedReader{chunks: chunks(adu[:3], adu[3:])}

	got, err := newReceiver(NewRTUFramer(), reader).Receive(DirResponse, LengthUndefined)
	if err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}
	if !bytes.Equal(got, adu) {
		t.Errorf("Receive() = % X, want % X", got, adu)
	}
}

func TestReceiveException(t *testing.T) {
	t.Run("FlaggedFunctionCode", func(t *testing.T) {
		adu := crc.Append([]byte{0x01, 0x83, 0x02})
		// Expected a 9 byte response; the stream fails hard if read further.
		reader := &scriptedReader{chunks: chunks(adu), end: io.ErrUnexpectedEOF}
		got, err := newReceiver(NewRTUFramer(), reader).Receive(DirResponse, 9)
		if err != nil {
			t.Fatalf("Receive() failed: %v", err)
		}
		if !bytes.Equal(got, adu) {
			t.Errorf("Receive() = % X, want % X", got, adu)
		}
	})

	t.Run("TimeoutAtExceptionLength", func(t *testing.T) {
		adu := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01, 0x03, 0x02}
		reader := &scriptedReader{chunks: chunks(adu[:4], adu[4:])}
		got, err := newReceiver(NewTCPFramer(), reader).Receive(DirResponse, 17)
		if err != nil {
			t.Fatalf("Receive() failed: %v", err)
		}
		if !bytes.Equal(got, adu) {
			t.Errorf("Receive() = % X, want % X", got, adu)
		}
	})

	t.Run("TimeoutElsewhere", func(t *testing.T) {
		adu := crc.Append([]byte{0x01, 0x03, 0x04, 0x00, 0x0A, 0x00, 0x0B})
		reader := &scriptedReader{chunks: chunks(adu[:6])}
		_, err := newReceiver(NewRTUFramer(), reader).Receive(DirResponse, len(adu))
		if !errors.Is(err, modbus.ErrTimeout) {
			t.Errorf("Receive() err = %v, want ErrTimeout", err)
		}
	})
}

func TestReceiveErrors(t *testing.T) {
	tests := []struct {
		name    string
		framer  Framer
		dir     Direction
		length  int
		reader  *scriptedReader
		wantErr error
	}{
		{
			name:    "Silence",
			framer:  NewRTUFramer(),
			dir:     DirResponse,
			length:  8,
			reader:  &scriptedReader{},
			wantErr: modbus.ErrTimeout,
		},
		{
			name:    "CRCMismatch",
			framer:  NewRTUFramer(),
			dir:     DirResponse,
			length:  8,
			reader:  &scriptedReader{chunks: chunks([]byte{0x01, 0x06, 0x00, 0x01, 0x00, 0x03, 0x00, 0x00})},
			wantErr: modbus.ErrInvalidCRC,
		},
		{
			name:    "Oversize",
			framer:  NewRTUFramer(),
			dir:     DirRequest,
			length:  LengthUndefined,
			reader:  &scriptedReader{chunks: chunks([]byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x7F, 0xFE})},
			wantErr: modbus.ErrInvalidData,
		},
		{
			name:    "MBAPLengthMismatch",
			framer:  NewTCPFramer(),
			dir:     DirRequest,
			length:  LengthUndefined,
			reader:  &scriptedReader{chunks: chunks([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03, 0x00, 0x00, 0x00, 0x02})},
			wantErr: modbus.ErrInvalidData,
		},
		{
			name:    "LengthBeyondMaximum",
			framer:  NewTCPFramer(),
			dir:     DirResponse,
			length:  MaxADULengthTCP + 1,
			reader:  &scriptedReader{},
			wantErr: modbus.ErrInvalidData,
		},
		{
			name:    "PeerClosed",
			framer:  NewTCPFramer(),
			dir:     DirRequest,
			length:  LengthUndefined,
			reader:  &scriptedReader{end: io.EOF},
			wantErr: modbus.ErrConnectionClosed,
		},
		{
			name:    "StreamFailure",
			framer:  NewTCPFramer(),
			dir:     DirRequest,
			length:  LengthUndefined,
			reader:  &scriptedReader{end: syscall.ECONNRESET},
			wantErr: modbus.ErrTransportFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newReceiver(tt.framer, tt.reader).Receive(tt.dir, tt.length)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Receive() err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReceiveInterrupted(t *testing.T) {
	adu := crc.Append([]byte{0x01, 0x05, 0x00, 0xAC, 0xFF, 0x00})
	reader := &scriptedReader{chunks: []chunk{{err: syscall.EINTR}, {data: adu[:3]}, {err: syscall.EINTR}, {data: adu[3:]}}}

	got, err := newReceiver(NewRTUFramer(), reader).Receive(DirResponse, len(adu))
	if err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}
	if !bytes.Equal(got, adu) {
		t.Errorf("Receive() = % X, want % X", got, adu)
	}
}
