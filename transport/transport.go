// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the byte stream the Modbus engines run on and
// the recovery policy applied when a stream misbehaves.
package transport

import (
	"context"
	"io"
	"time"
)

// Stream is one end of a byte stream carrying Modbus frames.
//
// ReadTimeout waits at most timeout for data and returns what arrived. A wait
// that expires with nothing received returns an error matching
// modbus.ErrTimeout; a peer that closed the stream yields io.EOF or
// modbus.ErrConnectionClosed.
type Stream interface {
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
	io.Writer
	// Flush discards queued unread bytes.
	Flush() error
}

// Connector opens and closes the resource behind a stream.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// Link is a stream that can be re-established, as held by a master.
type Link interface {
	Stream
	Connector
}

// Handler serves one connected stream until it closes or ctx is done.
type Handler func(ctx context.Context, stream Stream) error

// Server accepts streams and hands each to a Handler.
type Server interface {
	// Serve blocks until ctx is done or the server fails.
	Serve(ctx context.Context, handler Handler) error
	Close() error
}
