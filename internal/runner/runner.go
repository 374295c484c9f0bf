// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package runner wires configuration to the Modbus engines and runs one
// role: a slave serving a register map, a master polling a list of
// requests, or the raw frame tool.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-tool/internal/config"
	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/master"
	"github.com/ffutop/modbus-tool/modbus/slave"
	"github.com/ffutop/modbus-tool/modbus/slave/model"
	"github.com/ffutop/modbus-tool/transport"
	"github.com/ffutop/modbus-tool/transport/rtu"
	"github.com/ffutop/modbus-tool/transport/tcp"
)

// Run runs the role selected in cfg. Slaves run until ctx is done; masters
// and the raw tool return once their rounds are over.
func Run(ctx context.Context, cfg *config.Config) error {
	switch cfg.Role {
	case config.RoleSlave:
		return RunSlave(ctx, cfg)
	case config.RoleMaster:
		return RunMaster(ctx, cfg)
	case config.RoleRaw:
		return RunRaw(ctx, cfg)
	}
	return fmt.Errorf("unknown role %q", cfg.Role)
}

// framing returns the frame format of a configured mode. RTU over TCP uses
// RTU frames on a TCP stream.
func framing(mode string) modbus.Mode {
	if mode == config.ModeTCP {
		return modbus.ModeTCP
	}
	return modbus.ModeRTU
}

func newLink(cfg *config.Config) transport.Link {
	if cfg.Mode == config.ModeRTU {
		return rtu.NewPort(cfg.Serial)
	}
	return tcp.NewClient(cfg.Tcp.Address)
}

func newServer(cfg *config.Config) transport.Server {
	if cfg.Mode == config.ModeRTU {
		return rtu.NewServer(cfg.Serial)
	}
	return tcp.NewServer(cfg.Tcp.Address)
}

func endpoint(cfg *config.Config) string {
	if cfg.Mode == config.ModeRTU {
		return cfg.Serial.Device
	}
	return cfg.Tcp.Address
}

// RunSlave serves a freshly allocated register map until ctx is done.
func RunSlave(ctx context.Context, cfg *config.Config) error {
	handling, err := transport.ParseErrorHandling(cfg.ErrorHandling)
	if err != nil {
		return err
	}
	alloc, err := model.NewAllocator(cfg.Mapping.Allocator)
	if err != nil {
		return err
	}
	m, err := model.New(model.Sizes{
		Coils:            cfg.Mapping.Coils,
		DiscreteInputs:   cfg.Mapping.DiscreteInputs,
		HoldingRegisters: cfg.Mapping.HoldingRegisters,
		InputRegisters:   cfg.Mapping.InputRegisters,
	}, alloc)
	if err != nil {
		return err
	}
	defer m.Close()

	s := slave.NewServer(framing(cfg.Mode), slave.NewDispatcher(byte(cfg.SlaveID), m))
	s.BeginOfFrameTimeout = cfg.Timeouts.BeginOfFrame
	s.EndOfFrameTimeout = cfg.Timeouts.EndOfFrame
	s.ErrorHandling = handling

	server := newServer(cfg)
	defer server.Close()

	slog.Info("Starting slave", "mode", cfg.Mode, "endpoint", endpoint(cfg), "slaveID", cfg.SlaveID, "allocator", cfg.Mapping.Allocator)
	return server.Serve(ctx, s.Serve)
}

// newClient builds a master client from cfg.
func newClient(cfg *config.Config) (*master.Client, error) {
	handling, err := transport.ParseErrorHandling(cfg.ErrorHandling)
	if err != nil {
		return nil, err
	}
	c := master.NewClient(newLink(cfg), framing(cfg.Mode), byte(cfg.SlaveID))
	c.ResponseTimeout = cfg.Timeouts.Response
	c.BeginOfFrameTimeout = cfg.Timeouts.BeginOfFrame
	c.EndOfFrameTimeout = cfg.Timeouts.EndOfFrame
	c.ErrorHandling = handling
	c.RetryOnTimeout = cfg.Master.RetryOnTimeout
	return c, nil
}

// connect opens the link of c. A failure is only logged; the error policy
// reconnects once requests start failing.
func connect(ctx context.Context, c *master.Client, cfg *config.Config) {
	if err := c.Connect(ctx); err != nil {
		slog.Error("Failed to connect", "mode", cfg.Mode, "endpoint", endpoint(cfg), "err", err)
	}
}
