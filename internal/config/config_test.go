// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
role: master
mode: rtu
slave_id: 3
serial:
  device: /dev/ttyS1
  baud_rate: 9600
  parity: e
  rs485: true
  delay_rts_before_send: 2ms
timeouts:
  response: 1s
master:
  interval: 250ms
  repeat: 4
  requests:
    - function: READ_HOLDING_REGISTERS
      address: 10
      count: 2
      width: int32
    - function: write_multiple_registers
      address: 20
      values: [1, 2, 3]
log:
  level: debug
`)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Role != RoleMaster || cfg.Mode != ModeRTU || cfg.SlaveID != 3 {
		t.Errorf("role/mode/slave = %s/%s/%d", cfg.Role, cfg.Mode, cfg.SlaveID)
	}
	if cfg.Serial.Device != "/dev/ttyS1" || cfg.Serial.BaudRate != 9600 || cfg.Serial.Parity != "E" {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.Serial.DataBits != 8 || cfg.Serial.StopBits != 1 {
		t.Errorf("serial defaults not applied: %+v", cfg.Serial)
	}
	if !cfg.Serial.RS485 || cfg.Serial.DelayRtsBeforeSend != 2*time.Millisecond {
		t.Errorf("rs485 = %v, delay = %v", cfg.Serial.RS485, cfg.Serial.DelayRtsBeforeSend)
	}
	if cfg.Timeouts.Response != time.Second || cfg.Timeouts.BeginOfFrame != 5*time.Second || cfg.Timeouts.EndOfFrame != 500*time.Millisecond {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Master.Interval != 250*time.Millisecond || cfg.Master.Repeat != 4 {
		t.Errorf("master = %+v", cfg.Master)
	}
	if len(cfg.Master.Requests) != 2 {
		t.Fatalf("requests = %+v", cfg.Master.Requests)
	}
	r := cfg.Master.Requests[0]
	if r.Function != "read_holding_registers" || r.Address != 10 || r.Count != 2 || r.Width != "int32" {
		t.Errorf("request 0 = %+v", r)
	}
	r = cfg.Master.Requests[1]
	if r.Width != "uint16" || len(r.Values) != 3 || r.Values[2] != 3 {
		t.Errorf("request 1 = %+v", r)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
role: slave
mode: tcp
tcp:
  address: 127.0.0.1:1502
mapping:
  holding_registers: 10
  allocator: MMAP
`)
	fs, err := ParseFlags("modbus-tool", []string{"-c", path, "--mode", "rtu-over-tcp", "-s", "7"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("", fs)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Mode != ModeRTUOverTCP || cfg.SlaveID != 7 {
		t.Errorf("mode/slave = %s/%d, want flag values", cfg.Mode, cfg.SlaveID)
	}
	if cfg.Tcp.Address != "127.0.0.1:1502" {
		t.Errorf("tcp address = %q, want the file value", cfg.Tcp.Address)
	}
	if cfg.Mapping.HoldingRegisters != 10 || cfg.Mapping.Coils != 500 || cfg.Mapping.Allocator != "mmap" {
		t.Errorf("mapping = %+v", cfg.Mapping)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	t.Setenv("HOME", dir)

	fs, err := ParseFlags("modbus-tool", []string{"--role", "raw", "-m", "rtu", "-f", "01,03,00,00,00,02"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig("", fs)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Role != RoleRaw || cfg.Raw.Frame != "01,03,00,00,00,02" || cfg.Raw.Repeat != 1 {
		t.Errorf("raw = %+v", cfg.Raw)
	}
	if cfg.Raw.SelectTime != 5*time.Second || cfg.Raw.SpaceTime != 50*time.Millisecond {
		t.Errorf("raw timing = %+v", cfg.Raw)
	}
	if cfg.Tcp.Address != "0.0.0.0:502" {
		t.Errorf("tcp address = %q, want 0.0.0.0:502", cfg.Tcp.Address)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("LoadConfig() of a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown role", "role: gateway", "unknown role"},
		{"unknown mode", "mode: udp", "unknown mode"},
		{"broadcast slave", "slave_id: 0", "broadcast"},
		{"slave id", "slave_id: 300", "out of range"},
		{"parity", "serial:\n  parity: x", "unknown parity"},
		{"mapping", "mapping:\n  coils: 70000", "mapping.coils"},
		{"no requests", "role: master", "at least one request"},
		{"bad function", "role: master\nmaster:\n  requests:\n    - function: read_fifo", "unknown function"},
		{"no frame", "role: raw", "needs a frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content), nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
