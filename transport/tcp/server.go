// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/transport"
)

// Server accepts TCP connections and serves each on its own goroutine.
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Listen binds the listening socket. Serve calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("Modbus TCP server listening", "addr", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done and runs handler for each.
func (s *Server) Serve(ctx context.Context, handler transport.Handler) error {
	if err := s.Listen(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn, handler)
		}()
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.Handler) {
	defer conn.Close()
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	// Unblock pending reads on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err := handler(ctx, NewConn(conn))
	switch {
	case err == nil, errors.Is(err, modbus.ErrConnectionClosed), ctx.Err() != nil:
		slog.Info("TCP client disconnected", "addr", conn.RemoteAddr())
	default:
		slog.Error("TCP connection failed", "addr", conn.RemoteAddr(), "err", err)
	}
}
