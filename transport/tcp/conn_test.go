// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/transport"
)

// startServer serves handler on a loopback port until the test ends.
func startServer(t *testing.T, handler transport.Handler) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0")
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx, handler)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return server
}

func TestConnReadTimeout(t *testing.T) {
	server := startServer(t, func(ctx context.Context, stream transport.Stream) error {
		<-ctx.Done()
		return nil
	})

	client := NewClient(server.Addr().String())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	start := time.Now()
	_, err := client.ReadTimeout(make([]byte, 8), 200*time.Millisecond)
	if !errors.Is(err, modbus.ErrTimeout) {
		t.Fatalf("ReadTimeout() err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("ReadTimeout() returned after %v", elapsed)
	}
}

func TestConnFlush(t *testing.T) {
	got := make(chan []byte, 1)
	server := startServer(t, func(ctx context.Context, stream transport.Stream) error {
		time.Sleep(100 * time.Millisecond)
		if err := stream.Flush(); err != nil {
			return err
		}
		if _, err := stream.Write([]byte{0xAC}); err != nil {
			return err
		}
		buf := make([]byte, 8)
		n, err := stream.ReadTimeout(buf, time.Second)
		if err != nil {
			return err
		}
		got <- buf[:n]
		return nil
	})

	client := NewClient(server.Addr().String())
	client.Timeout = time.Second
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatal(err)
	}
	// Wait for the flush to complete before sending the real byte.
	ack := make([]byte, 1)
	if _, err := client.ReadTimeout(ack, time.Second); err != nil {
		t.Fatalf("no ack: %v", err)
	}
	if _, err := client.Write([]byte{0x01}); err != nil {
		t.Fatal(err)
	}

	select {
	case b := <-got:
		if len(b) != 1 || b[0] != 0x01 {
			t.Errorf("after flush read % X, want 01", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server handler did not finish")
	}
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient("127.0.0.1:1")
	if _, err := client.Write([]byte{0x01}); !errors.Is(err, modbus.ErrConnectionClosed) {
		t.Errorf("Write() err = %v, want ErrConnectionClosed", err)
	}
	if _, err := client.ReadTimeout(make([]byte, 1), time.Millisecond); !errors.Is(err, modbus.ErrConnectionClosed) {
		t.Errorf("ReadTimeout() err = %v, want ErrConnectionClosed", err)
	}
}

func TestServerClosesConnectionsOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, func(ctx context.Context, stream transport.Stream) error {
			_, err := stream.ReadTimeout(make([]byte, 1), time.Minute)
			return err
		})
	}()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
