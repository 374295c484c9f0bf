// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ffutop/modbus-tool/modbus"
)

// ErrorHandling selects how much recovery the engines attempt on their own.
type ErrorHandling int

const (
	// FlushOrReconnectOnError flushes on corrupt frames and reconnects on
	// broken streams.
	FlushOrReconnectOnError ErrorHandling = iota
	// NopOnError leaves all recovery to the caller.
	NopOnError
)

func (h ErrorHandling) String() string {
	if h == NopOnError {
		return "nop"
	}
	return "flush_or_reconnect"
}

// ParseErrorHandling maps "flush_or_reconnect" and "nop" to an ErrorHandling.
func ParseErrorHandling(s string) (ErrorHandling, error) {
	switch strings.ToLower(s) {
	case "", "flush_or_reconnect", "flush-or-reconnect":
		return FlushOrReconnectOnError, nil
	case "nop", "none":
		return NopOnError, nil
	}
	return 0, fmt.Errorf("unknown error handling %q", s)
}

// Recovery is the transport action a failure calls for.
type Recovery int

const (
	RecoveryNone Recovery = iota
	RecoveryFlush
	RecoveryReconnect
)

func (r Recovery) String() string {
	switch r {
	case RecoveryFlush:
		return "flush"
	case RecoveryReconnect:
		return "reconnect"
	}
	return "none"
}

// Classify maps an error to the recovery it calls for. Corrupt frames leave
// stale bytes behind and need a flush; a closed or failed stream needs a new
// connection. Device exceptions and timeouts need nothing.
func Classify(err error) Recovery {
	switch {
	case err == nil, modbus.IsException(err):
		return RecoveryNone
	case errors.Is(err, modbus.ErrInvalidCRC),
		errors.Is(err, modbus.ErrInvalidData),
		errors.Is(err, modbus.ErrInvalidExceptionCode):
		return RecoveryFlush
	case errors.Is(err, modbus.ErrTransportFailure),
		errors.Is(err, modbus.ErrConnectionClosed):
		return RecoveryReconnect
	}
	return RecoveryNone
}

// Treat applies the recovery err calls for to stream. Reconnecting needs a
// Connector; a plain stream is left alone. The returned error reports a
// failed recovery only, never err itself.
func (h ErrorHandling) Treat(ctx context.Context, stream Stream, err error) error {
	if h == NopOnError {
		return nil
	}
	recovery := Classify(err)
	if recovery == RecoveryNone {
		return nil
	}
	slog.Warn("modbus error, recovering", "err", err, "action", recovery)

	switch recovery {
	case RecoveryFlush:
		if ferr := stream.Flush(); ferr != nil {
			return fmt.Errorf("flush after %v: %w", err, ferr)
		}
	case RecoveryReconnect:
		conn, ok := stream.(Connector)
		if !ok {
			return nil
		}
		if cerr := conn.Close(); cerr != nil {
			slog.Debug("close before reconnect failed", "err", cerr)
		}
		if cerr := conn.Connect(ctx); cerr != nil {
			return fmt.Errorf("reconnect after %v: %w", err, cerr)
		}
	}
	return nil
}
