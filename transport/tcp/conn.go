// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/frame"
)

// flushWait is how long Flush waits for more garbage before giving up.
const flushWait = time.Millisecond

// Conn adapts a net.Conn to transport.Stream using read deadlines.
type Conn struct {
	net.Conn
}

// NewConn wraps conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{Conn: conn}
}

// ReadTimeout reads into p, waiting at most timeout for the first byte.
func (c *Conn) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("%w: %v", modbus.ErrTransportFailure, err)
	}
	n, err := c.Conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, fmt.Errorf("%w after %v", modbus.ErrTimeout, timeout)
	}
	return n, err
}

// Flush drains whatever the peer has already sent.
func (c *Conn) Flush() error {
	buf := make([]byte, frame.MaxADULengthTCP)
	flushed := 0
	defer func() {
		if flushed > 0 {
			slog.Debug("bytes flushed", "addr", c.Conn.RemoteAddr(), "n", flushed)
		}
	}()
	for {
		if err := c.Conn.SetReadDeadline(time.Now().Add(flushWait)); err != nil {
			return err
		}
		n, err := c.Conn.Read(buf)
		flushed += n
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
