// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/frame"
	"github.com/ffutop/modbus-tool/transport"
)

// Server runs the receive and dispatch loop of one connection.
type Server struct {
	Mode       modbus.Mode
	Dispatcher *Dispatcher

	BeginOfFrameTimeout time.Duration
	EndOfFrameTimeout   time.Duration

	ErrorHandling transport.ErrorHandling
}

// NewServer creates a Server with the default frame timeouts.
func NewServer(mode modbus.Mode, d *Dispatcher) *Server {
	return &Server{
		Mode:                mode,
		Dispatcher:          d,
		BeginOfFrameTimeout: frame.DefaultBeginOfFrameTimeout,
		EndOfFrameTimeout:   frame.DefaultEndOfFrameTimeout,
	}
}

// Serve answers requests arriving on stream until the stream closes or ctx
// is done. A bad request never ends the loop. Serve has the signature of a
// transport.Handler, so one Server can serve every connection of a
// listener.
func (s *Server) Serve(ctx context.Context, stream transport.Stream) error {
	f := frame.New(s.Mode)
	recv := &frame.Receiver{
		Framer:              f,
		Reader:              stream,
		BeginOfFrameTimeout: s.BeginOfFrameTimeout,
		EndOfFrameTimeout:   s.EndOfFrameTimeout,
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		adu, err := recv.Receive(frame.DirRequest, frame.LengthUndefined)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, modbus.ErrTimeout) {
				continue
			}
			if transport.Classify(err) == transport.RecoveryReconnect {
				if _, ok := stream.(transport.Connector); !ok || s.ErrorHandling == transport.NopOnError {
					return err
				}
			}
			slog.Warn("failed to receive request", "mode", s.Mode, "err", err)
			if terr := s.ErrorHandling.Treat(ctx, stream, err); terr != nil {
				return terr
			}
			continue
		}

		resp := s.Dispatcher.Handle(f, adu)
		if resp == nil {
			continue
		}
		if _, err := frame.Send(stream, f, resp); err != nil {
			slog.Error("failed to send response", "mode", s.Mode, "err", err)
			return err
		}
	}
}
