// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/modbus-tool/modbus"
)

// Roles
const (
	RoleSlave  = "slave"
	RoleMaster = "master"
	RoleRaw    = "raw"
)

// Modes
const (
	ModeRTU        = "rtu"
	ModeTCP        = "tcp"
	ModeRTUOverTCP = "rtu-over-tcp"
)

// Config defines the global configuration structure
type Config struct {
	Role          string `mapstructure:"role"`           // "slave", "master", "raw"
	Mode          string `mapstructure:"mode"`           // "rtu", "tcp", "rtu-over-tcp"
	SlaveID       int    `mapstructure:"slave_id"`       // Local id (slave) or target id (master)
	ErrorHandling string `mapstructure:"error_handling"` // "flush_or_reconnect", "nop"

	Tcp      TcpConfig     `mapstructure:"tcp"`    // Used if Mode is "tcp" or "rtu-over-tcp"
	Serial   SerialConfig  `mapstructure:"serial"` // Used if Mode is "rtu"
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Mapping  MappingConfig `mapstructure:"mapping"` // Used by the slave role
	Master   MasterConfig  `mapstructure:"master"`
	Raw      RawConfig     `mapstructure:"raw"`
	Log      LogConfig     `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502" or "192.168.1.100:502"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	Parity      string        `mapstructure:"parity"`
	StopBits    int           `mapstructure:"stop_bits"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // Close the port after this long without traffic

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// TimeoutConfig defines the frame receive windows
type TimeoutConfig struct {
	Response     time.Duration `mapstructure:"response"`       // First byte of a response of known length
	BeginOfFrame time.Duration `mapstructure:"begin_of_frame"` // First byte of a frame of unknown length
	EndOfFrame   time.Duration `mapstructure:"end_of_frame"`   // Silence inside a frame
}

// MappingConfig defines the register map served by the slave role
type MappingConfig struct {
	Coils            int    `mapstructure:"coils"`
	DiscreteInputs   int    `mapstructure:"discrete_inputs"`
	HoldingRegisters int    `mapstructure:"holding_registers"`
	InputRegisters   int    `mapstructure:"input_registers"`
	Allocator        string `mapstructure:"allocator"` // "heap", "mmap"
}

// MasterConfig defines the requests polled by the master role
type MasterConfig struct {
	Interval       time.Duration   `mapstructure:"interval"` // Pause between two rounds
	Repeat         int             `mapstructure:"repeat"`   // Rounds to run, 0 runs until stopped
	RetryOnTimeout bool            `mapstructure:"retry_on_timeout"`
	Requests       []RequestConfig `mapstructure:"requests"`
}

// RequestConfig defines a single master request
type RequestConfig struct {
	Function string `mapstructure:"function"` // e.g. "read_holding_registers"
	Address  uint16 `mapstructure:"address"`
	Count    uint16 `mapstructure:"count"`
	Width    string `mapstructure:"width"`  // Register reads only, e.g. "uint16", "int32"
	Values   []int  `mapstructure:"values"` // Writes only
}

// RawConfig defines the raw frame tool
type RawConfig struct {
	Frame      string        `mapstructure:"frame"`       // Comma separated hex bytes, checksum excluded
	Repeat     int           `mapstructure:"repeat"`      // Times to send the frame
	SpaceTime  time.Duration `mapstructure:"space_time"`  // Pause between two sends
	SelectTime time.Duration `mapstructure:"select_time"` // Wait for the first byte of the answer
	WaitTime   time.Duration `mapstructure:"wait_time"`   // Settle time before reading the answer
}

// DefaultTCPAddress listens on every interface at the Modbus/TCP port.
var DefaultTCPAddress = fmt.Sprintf("0.0.0.0:%d", modbus.TCPDefaultPort)

// Functions understood in RequestConfig.Function.
var Functions = []string{
	"read_coils",
	"read_discrete_inputs",
	"read_holding_registers",
	"read_input_registers",
	"write_single_coil",
	"write_single_register",
	"write_multiple_coils",
	"write_multiple_registers",
	"report_slave_id",
	"read_exception_status",
}

// NewFlagSet defines the command line flags. Flag names are config keys, so
// a flag given on the command line overrides the config file.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("role", "r", RoleSlave, "Role to run (slave, master, raw).")
	fs.StringP("mode", "m", ModeTCP, "Transport mode (rtu, tcp, rtu-over-tcp).")
	fs.IntP("slave_id", "s", 1, "Local slave id, or the slave id a master talks to.")
	fs.StringP("tcp.address", "A", DefaultTCPAddress, "TCP address to listen on or connect to.")
	fs.StringP("serial.device", "p", "/dev/ttyUSB0", "Serial port device name.")
	fs.IntP("serial.baud_rate", "b", 19200, "Serial port speed.")
	fs.StringP("raw.frame", "f", "", "Raw frame as comma separated hex bytes.")
	fs.IntP("raw.repeat", "n", 1, "Times to send the raw frame.")
	fs.StringP("log.level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log.file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	return fs
}

// ParseFlags parses args with the flags of NewFlagSet.
func ParseFlags(name string, args []string) (*pflag.FlagSet, error) {
	fs := NewFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs, nil
}

// LoadConfig loads configuration from file. Flags in fs, when not nil,
// override file values; the file is the one named by configFile or, when
// empty, the one named by the "config" flag or found in the search path.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("role", RoleSlave)
	v.SetDefault("mode", ModeTCP)
	v.SetDefault("slave_id", 1)
	v.SetDefault("error_handling", "flush_or_reconnect")
	v.SetDefault("tcp.address", DefaultTCPAddress)
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 19200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("timeouts.response", 500*time.Millisecond)
	v.SetDefault("timeouts.begin_of_frame", 5*time.Second)
	v.SetDefault("timeouts.end_of_frame", 500*time.Millisecond)
	v.SetDefault("mapping.coils", 500)
	v.SetDefault("mapping.discrete_inputs", 500)
	v.SetDefault("mapping.holding_registers", 500)
	v.SetDefault("mapping.input_registers", 500)
	v.SetDefault("mapping.allocator", "heap")
	v.SetDefault("master.interval", time.Second)
	v.SetDefault("raw.repeat", 1)
	v.SetDefault("raw.space_time", 50*time.Millisecond)
	v.SetDefault("raw.select_time", 5*time.Second)
	v.SetDefault("log.level", "info")

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
		if configFile == "" {
			configFile = v.GetString("config")
		}
	}

	searching := configFile == ""
	if searching {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbustool/")
		v.AddConfigPath("$HOME/.modbustool")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Everything can come from flags and defaults.
		if !searching || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixup(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixup(c *Config) {
	c.Role = strings.ToLower(c.Role)
	c.Mode = strings.ToLower(c.Mode)
	c.Mapping.Allocator = strings.ToLower(c.Mapping.Allocator)
	c.Serial.Parity = strings.ToUpper(c.Serial.Parity)
	if c.Timeouts.Response == 0 {
		c.Timeouts.Response = 500 * time.Millisecond
	}
	if c.Timeouts.BeginOfFrame == 0 {
		c.Timeouts.BeginOfFrame = 5 * time.Second
	}
	if c.Timeouts.EndOfFrame == 0 {
		c.Timeouts.EndOfFrame = 500 * time.Millisecond
	}
	if c.Raw.Repeat <= 0 {
		c.Raw.Repeat = 1
	}
	if c.Raw.SelectTime == 0 {
		c.Raw.SelectTime = 5 * time.Second
	}
	for i := range c.Master.Requests {
		r := &c.Master.Requests[i]
		r.Function = strings.ToLower(r.Function)
		if r.Width == "" {
			r.Width = "uint16"
		}
	}
}

// Validate checks settings that cannot be fixed up.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleSlave, RoleMaster, RoleRaw:
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	switch c.Mode {
	case ModeRTU, ModeTCP, ModeRTUOverTCP:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.SlaveID < 0 || c.SlaveID > 255 {
		return fmt.Errorf("slave id out of range: %d", c.SlaveID)
	}
	if c.Role == RoleSlave && c.SlaveID == 0 {
		return errors.New("a slave cannot use the broadcast address")
	}
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("unknown parity %q", c.Serial.Parity)
	}

	switch c.Role {
	case RoleSlave:
		for name, size := range map[string]int{
			"coils":             c.Mapping.Coils,
			"discrete_inputs":   c.Mapping.DiscreteInputs,
			"holding_registers": c.Mapping.HoldingRegisters,
			"input_registers":   c.Mapping.InputRegisters,
		} {
			if size < 0 || size > 65536 {
				return fmt.Errorf("mapping.%s out of range: %d", name, size)
			}
		}
	case RoleMaster:
		if len(c.Master.Requests) == 0 {
			return errors.New("master role needs at least one request")
		}
		for i, r := range c.Master.Requests {
			if !knownFunction(r.Function) {
				return fmt.Errorf("master.requests[%d]: unknown function %q", i, r.Function)
			}
		}
	case RoleRaw:
		if strings.TrimSpace(c.Raw.Frame) == "" {
			return errors.New("raw role needs a frame")
		}
	}
	return nil
}

func knownFunction(name string) bool {
	for _, f := range Functions {
		if f == name {
			return true
		}
	}
	return false
}
