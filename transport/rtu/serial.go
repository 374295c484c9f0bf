// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-tool/internal/config"
	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/frame"
	"github.com/grid-x/serial"
)

const (
	// Poll interval of the background reader.
	serialTimeout     = 100 * time.Millisecond
	serialIdleTimeout = 60 * time.Second
	// Chunks buffered between the background reader and ReadTimeout.
	readQueueSize = 64
)

type readResult struct {
	data []byte
	err  error
}

// Port is a transport.Link over a serial line. A background goroutine polls
// the device so that every ReadTimeout can use its own wait window. The
// port is opened on demand and closed again after IdleTimeout without
// traffic.
type Port struct {
	// Serial port configuration.
	serial.Config

	IdleTimeout time.Duration

	// open is replaced in tests.
	open func(*serial.Config) (io.ReadWriteCloser, error)

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port         io.ReadWriteCloser
	results      chan readResult
	done         chan struct{}
	pending      []byte
	lastActivity time.Time
	closeTimer   *time.Timer
}

// NewPort allocates a Port for the serial settings in cfg.
func NewPort(cfg config.SerialConfig) *Port {
	p := &Port{
		IdleTimeout: serialIdleTimeout,
		open: func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.Open(c)
		},
	}
	p.Config.Address = cfg.Device
	p.Config.BaudRate = cfg.BaudRate
	p.Config.DataBits = cfg.DataBits
	p.Config.StopBits = cfg.StopBits
	p.Config.Parity = cfg.Parity
	p.Config.Timeout = serialTimeout
	if cfg.RS485 {
		p.Config.RS485.Enabled = true
		p.Config.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		p.Config.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		p.Config.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		p.Config.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		p.Config.RS485.RxDuringTx = cfg.RxDuringTx
	}
	if cfg.IdleTimeout > 0 {
		p.IdleTimeout = cfg.IdleTimeout
	}
	return p
}

func (mb *Port) Connect(ctx context.Context) (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.connect(ctx)
}

// connect opens the serial port if it is not open. Caller must hold the mutex.
func (mb *Port) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if mb.port == nil {
		port, err := mb.open(&mb.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", mb.Config.Address, err)
		}
		mb.port = port
		mb.results = make(chan readResult, readQueueSize)
		mb.done = make(chan struct{})
		mb.pending = nil
		go readLoop(port, mb.results, mb.done)
		slog.Debug("serial port opened", "device", mb.Config.Address)
	}
	return nil
}

func (mb *Port) Close() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.close()
}

// close closes the serial port if it is open. Caller must hold the mutex.
func (mb *Port) close() (err error) {
	if mb.port != nil {
		close(mb.done)
		err = mb.port.Close()
		mb.port = nil
		mb.results = nil
		mb.pending = nil
	}
	return
}

// readLoop copies everything the device produces into results until the
// port fails or done is closed.
func readLoop(port io.Reader, results chan<- readResult, done <-chan struct{}) {
	buf := make([]byte, frame.MaxADULengthRTU)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			select {
			case results <- readResult{data: append([]byte(nil), buf[:n]...)}:
			case <-done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			select {
			case results <- readResult{err: err}:
			case <-done:
			}
			return
		}
		if n == 0 {
			select {
			case <-done:
				return
			default:
			}
		}
	}
}

// ReadTimeout returns bytes already queued or waits up to timeout for more.
func (mb *Port) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	mb.mu.Lock()
	if len(mb.pending) > 0 {
		n := copy(p, mb.pending)
		mb.pending = mb.pending[n:]
		mb.mu.Unlock()
		return n, nil
	}
	results, done := mb.results, mb.done
	mb.mu.Unlock()
	if results == nil {
		return 0, modbus.ErrConnectionClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r, ok := <-results:
		if !ok {
			return 0, modbus.ErrConnectionClosed
		}
		if r.err != nil {
			return 0, fmt.Errorf("%w: %v", modbus.ErrTransportFailure, r.err)
		}
		mb.mu.Lock()
		defer mb.mu.Unlock()
		mb.lastActivity = time.Now()
		n := copy(p, r.data)
		if n < len(r.data) {
			mb.pending = append(mb.pending, r.data[n:]...)
		}
		return n, nil
	case <-done:
		return 0, modbus.ErrConnectionClosed
	case <-timer.C:
		return 0, fmt.Errorf("%w after %v", modbus.ErrTimeout, timeout)
	}
}

// Write sends p, opening the port first when it was closed for idleness.
// It returns after the line has been silent for a frame delay.
func (mb *Port) Write(p []byte) (int, error) {
	mb.mu.Lock()
	if err := mb.connect(context.Background()); err != nil {
		mb.mu.Unlock()
		return 0, err
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()
	port := mb.port
	mb.mu.Unlock()

	n, err := port.Write(p)
	if err != nil {
		return n, err
	}
	time.Sleep(mb.calculateDelay(len(p)))
	return n, nil
}

// Flush discards bytes received but not yet read.
func (mb *Port) Flush() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	flushed := len(mb.pending)
	mb.pending = nil
	if mb.results != nil {
	drain:
		for {
			select {
			case r := <-mb.results:
				flushed += len(r.data)
			default:
				break drain
			}
		}
	}
	if flushed > 0 {
		slog.Debug("bytes flushed", "device", mb.Config.Address, "n", flushed)
	}
	return nil
}

func (mb *Port) startCloseTimer() {
	if mb.IdleTimeout <= 0 {
		return
	}
	if mb.closeTimer == nil {
		mb.closeTimer = time.AfterFunc(mb.IdleTimeout, mb.closeIdle)
	} else {
		mb.closeTimer.Reset(mb.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (mb *Port) closeIdle() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(mb.lastActivity); idle >= mb.IdleTimeout {
		slog.Debug("modbus: closing connection due to idle timeout", "idle", idle)
		mb.close()
	}
}

// calculateDelay calculates the needed delay to separate frames.
func (mb *Port) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.BaudRate
		frameDelay = 35000000 / mb.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
