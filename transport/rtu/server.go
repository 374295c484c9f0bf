// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ffutop/modbus-tool/internal/config"
	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/transport"
)

// Server serves a single serial line. It acts as a Slave on the bus,
// waiting for requests from an external Master.
type Server struct {
	Port *Port
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	port := NewPort(cfg)
	// A slave keeps the line open.
	port.IdleTimeout = 0
	return &Server{Port: port}
}

// Serve opens the serial port and runs handler on it until ctx is done.
func (s *Server) Serve(ctx context.Context, handler transport.Handler) error {
	if err := s.Port.Connect(ctx); err != nil {
		return err
	}
	defer s.Port.Close()
	slog.Info("RTU Server listening", "device", s.Port.Config.Address)

	stop := context.AfterFunc(ctx, func() { s.Port.Close() })
	defer stop()

	err := handler(ctx, s.Port)
	if ctx.Err() != nil || errors.Is(err, modbus.ErrConnectionClosed) {
		return nil
	}
	return err
}

func (s *Server) Close() error {
	return s.Port.Close()
}
