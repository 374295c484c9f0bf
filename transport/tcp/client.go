// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
)

const (
	tcpTimeout = 10 * time.Second
)

// Client is a transport.Link to a remote Modbus slave over TCP. The
// connection is kept open between requests.
type Client struct {
	Address string
	// Timeout bounds connection establishment.
	Timeout time.Duration

	mu   sync.Mutex
	conn *Conn
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Connect dials the remote slave unless already connected.
func (mb *Client) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: mb.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", mb.Address)
	if err != nil {
		return fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}
	slog.Info("connected to modbus tcp slave", "addr", conn.RemoteAddr())
	mb.conn = NewConn(conn)
	return nil
}

// Close closes the connection if open.
func (mb *Client) Close() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.conn != nil {
		err = mb.conn.Close()
		mb.conn = nil
	}
	return
}

func (mb *Client) current() (*Conn, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.conn == nil {
		return nil, modbus.ErrConnectionClosed
	}
	return mb.conn, nil
}

func (mb *Client) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	conn, err := mb.current()
	if err != nil {
		return 0, err
	}
	return conn.ReadTimeout(p, timeout)
}

func (mb *Client) Write(p []byte) (int, error) {
	conn, err := mb.current()
	if err != nil {
		return 0, err
	}
	return conn.Write(p)
}

func (mb *Client) Flush() error {
	conn, err := mb.current()
	if err != nil {
		return err
	}
	return conn.Flush()
}
