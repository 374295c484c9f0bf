// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
)

// drainTimeout bounds each read collecting the tail of a raw answer.
const drainTimeout = 10 * time.Millisecond

// ParseFrame parses a frame written as comma separated hex bytes, for
// example "01,03,00,00,00,02". Whitespace around bytes is ignored.
func ParseFrame(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty frame")
	}
	fields := strings.Split(s, ",")
	adu := make([]byte, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(field)), "0x")
		b, err := strconv.ParseUint(field, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid frame byte %q: %w", field, err)
		}
		adu = append(adu, byte(b))
	}
	return adu, nil
}

// SendRaw sends a caller-built frame through the normal send path, so RTU
// frames get their CRC and TCP frames their MBAP length, then collects the
// answer in one shot: it waits at most firstByte for data, lets settle pass
// and reads whatever is available. RTU answers are checked against their
// CRC; the answer is not otherwise interpreted.
func (c *Client) SendRaw(ctx context.Context, adu []byte, firstByte, settle time.Duration) ([]byte, error) {
	if len(adu) <= c.Framer.HeaderLength() {
		return nil, fmt.Errorf("%w: raw frame of %d bytes has no function code", modbus.ErrInvalidData, len(adu))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	request := make([]byte, len(adu), c.Framer.MaxADULength())
	copy(request, adu)
	if _, err := c.Send(ctx, request); err != nil {
		return nil, err
	}

	buf := make([]byte, c.Framer.MaxADULength())
	n, err := c.Link.ReadTimeout(buf, firstByte)
	if n == 0 {
		if err == nil {
			err = modbus.ErrConnectionClosed
		}
		return nil, rawError(err)
	}

	if settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(settle):
		}
	}
	for n < len(buf) {
		m, err := c.Link.ReadTimeout(buf[n:], drainTimeout)
		n += m
		if err != nil || m == 0 {
			break
		}
	}

	answer := buf[:n]
	slog.Debug("raw answer", "mode", c.Framer.Mode(), "adu", hex.EncodeToString(answer))
	if err := c.Framer.Verify(answer); err != nil {
		return answer, err
	}
	return answer, nil
}

func rawError(err error) error {
	switch {
	case errors.Is(err, modbus.ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		return modbus.ErrTimeout
	case errors.Is(err, io.EOF), errors.Is(err, modbus.ErrConnectionClosed):
		return modbus.ErrConnectionClosed
	}
	return fmt.Errorf("%w: %v", modbus.ErrTransportFailure, err)
}
