// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package runner

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-tool/internal/config"
	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/master"
)

// Request is a master request ready to run.
type Request struct {
	Function string
	Address  uint16
	Count    uint16
	Width    modbus.DataWidth
	Values   []uint16
}

// ParseRequests checks configured requests and converts their values.
func ParseRequests(cfgs []config.RequestConfig) ([]Request, error) {
	requests := make([]Request, 0, len(cfgs))
	for i, rc := range cfgs {
		width, err := modbus.ParseDataWidth(rc.Width)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		r := Request{Function: rc.Function, Address: rc.Address, Count: rc.Count, Width: width}
		for _, v := range rc.Values {
			if v < 0 || v > 0xFFFF {
				return nil, fmt.Errorf("request %d: value %d out of range", i, v)
			}
			r.Values = append(r.Values, uint16(v))
		}

		switch r.Function {
		case "write_single_coil", "write_single_register":
			if len(r.Values) != 1 {
				return nil, fmt.Errorf("request %d: %s needs exactly one value", i, r.Function)
			}
		case "write_multiple_coils", "write_multiple_registers":
			if len(r.Values) == 0 {
				return nil, fmt.Errorf("request %d: %s needs values", i, r.Function)
			}
		}
		requests = append(requests, r)
	}
	return requests, nil
}

// Execute runs r on c and returns what the slave answered: decoded values
// for reads, nil for writes.
func Execute(ctx context.Context, c *master.Client, r Request) (any, error) {
	switch r.Function {
	case "read_coils":
		return c.ReadCoils(ctx, r.Address, r.Count)
	case "read_discrete_inputs":
		return c.ReadDiscreteInputs(ctx, r.Address, r.Count)
	case "read_holding_registers":
		return c.ReadHoldingRegisters(ctx, r.Address, r.Count, r.Width)
	case "read_input_registers":
		return c.ReadInputRegisters(ctx, r.Address, r.Count, r.Width)
	case "write_single_coil":
		return nil, c.WriteSingleCoil(ctx, r.Address, r.Values[0] != 0)
	case "write_single_register":
		return nil, c.WriteSingleRegister(ctx, r.Address, r.Values[0])
	case "write_multiple_coils":
		coils := make([]bool, len(r.Values))
		for i, v := range r.Values {
			coils[i] = v != 0
		}
		return nil, c.WriteMultipleCoils(ctx, r.Address, coils)
	case "write_multiple_registers":
		return nil, c.WriteMultipleRegisters(ctx, r.Address, r.Values)
	case "report_slave_id":
		data, err := c.ReportSlaveID(ctx)
		if err != nil {
			return nil, err
		}
		return hex.EncodeToString(data), nil
	case "read_exception_status":
		return c.ReadExceptionStatus(ctx)
	}
	return nil, fmt.Errorf("unknown function %q", r.Function)
}

// RunMaster polls the configured requests, one round every interval, until
// the configured number of rounds is done or ctx is. Failed requests are
// logged and do not stop the poll.
func RunMaster(ctx context.Context, cfg *config.Config) error {
	requests, err := ParseRequests(cfg.Master.Requests)
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	slog.Info("Starting master", "mode", cfg.Mode, "endpoint", endpoint(cfg), "slaveID", cfg.SlaveID, "requests", len(requests))
	connect(ctx, c, cfg)

	for round := 0; cfg.Master.Repeat == 0 || round < cfg.Master.Repeat; round++ {
		if round > 0 && !sleep(ctx, cfg.Master.Interval) {
			return nil
		}
		for _, r := range requests {
			if ctx.Err() != nil {
				return nil
			}
			result, err := Execute(ctx, c, r)
			switch {
			case err == nil:
				slog.Info("Request done", "round", round, "function", r.Function, "address", r.Address, "result", result)
			case modbus.IsException(err):
				slog.Warn("Slave answered with an exception", "round", round, "function", r.Function, "address", r.Address, "err", err)
			default:
				slog.Error("Request failed", "round", round, "function", r.Function, "address", r.Address, "err", err)
			}
		}
	}
	return nil
}

// RunRaw sends the configured raw frame repeat times and logs each answer.
func RunRaw(ctx context.Context, cfg *config.Config) error {
	adu, err := master.ParseFrame(cfg.Raw.Frame)
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	connect(ctx, c, cfg)
	for i := 0; i < cfg.Raw.Repeat; i++ {
		if i > 0 && !sleep(ctx, cfg.Raw.SpaceTime) {
			return nil
		}
		answer, err := c.SendRaw(ctx, adu, cfg.Raw.SelectTime, cfg.Raw.WaitTime)
		if err != nil {
			slog.Error("Raw exchange failed", "round", i, "err", err, "answer", hex.EncodeToString(answer))
			continue
		}
		slog.Info("Raw answer", "round", i, "adu", hex.EncodeToString(answer))
	}
	return nil
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
