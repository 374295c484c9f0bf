// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave answers Modbus requests from a register map.
package slave

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/frame"
	"github.com/ffutop/modbus-tool/modbus/slave/model"
)

// Request quantity limits of the Modbus application protocol.
const (
	maxReadBits       = 2000
	maxReadRegisters  = 125
	maxWriteCoils     = 1968
	maxWriteRegisters = 123
)

// Dispatcher implements the Modbus protocol logic on top of a register map.
// It keeps no state between requests.
type Dispatcher struct {
	SlaveID byte
	Map     *model.Map
}

// NewDispatcher creates a Dispatcher answering as slaveID.
func NewDispatcher(slaveID byte, m *model.Map) *Dispatcher {
	return &Dispatcher{SlaveID: slaveID, Map: m}
}

// Handle executes one complete request frame against the map and returns
// the response frame to send, not yet finalized. It returns nil when
// nothing must be sent: requests for other slaves, broadcasts and functions
// the slave does not answer.
func (d *Dispatcher) Handle(f frame.Framer, adu []byte) []byte {
	h, err := frame.ParseHeader(f, adu)
	if err != nil {
		slog.Warn("dropping malformed request", "err", err)
		return nil
	}
	broadcast := h.SlaveID == modbus.BroadcastAddress
	if h.SlaveID != d.SlaveID && !broadcast {
		slog.Debug("request for another slave", "slave_id", h.SlaveID)
		return nil
	}

	var resp modbus.ProtocolDataUnit
	req, err := frame.DecodeRequest(f, adu)
	if err != nil {
		slog.Warn("invalid request", "function", modbus.FunctionName(h.FunctionCode), "err", err)
		resp = exception(h.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	} else {
		var ok bool
		if resp, ok = d.Process(req); !ok {
			return nil
		}
	}
	if broadcast {
		return nil
	}

	h.FunctionCode = resp.FunctionCode
	return append(f.ResponseHeader(h), resp.Data...)
}

// Process executes the function of req against the map. The second result
// is false when the function produces no response.
func (d *Dispatcher) Process(req *frame.Request) (modbus.ProtocolDataUnit, bool) {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return d.readBits(req, d.Map.ReadCoils), true
	case modbus.FuncCodeReadDiscreteInputs:
		return d.readBits(req, d.Map.ReadDiscreteInputs), true
	case modbus.FuncCodeReadHoldingRegisters:
		return d.readRegisters(req, d.Map.ReadHoldingRegisters), true
	case modbus.FuncCodeReadInputRegisters:
		return d.readRegisters(req, d.Map.ReadInputRegisters), true
	case modbus.FuncCodeWriteSingleCoil:
		return d.echo(req, d.Map.WriteSingleCoil(req.Address, req.Quantity)), true
	case modbus.FuncCodeWriteSingleRegister:
		return d.echo(req, d.Map.WriteSingleRegister(req.Address, req.Quantity)), true
	case modbus.FuncCodeWriteMultipleCoils:
		return d.writeMultiple(req, maxWriteCoils, (int(req.Quantity)+7)/8, d.Map.WriteMultipleCoils), true
	case modbus.FuncCodeWriteMultipleRegisters:
		return d.writeMultiple(req, maxWriteRegisters, int(req.Quantity)*2, d.Map.WriteMultipleRegisters), true
	case modbus.FuncCodeReadExceptionStatus, modbus.FuncCodeReportSlaveID:
		slog.Info("function not implemented on the slave, no response", "function", modbus.FunctionName(req.FunctionCode))
		return modbus.ProtocolDataUnit{}, false
	default:
		slog.Warn("illegal function", "function", modbus.FunctionName(req.FunctionCode))
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction), true
	}
}

func (d *Dispatcher) readBits(req *frame.Request, read func(address, quantity uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if req.Quantity < 1 || req.Quantity > maxReadBits {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	data, err := read(req.Address, req.Quantity)
	if err != nil {
		return failure(req, err)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte{byte(len(data))}, data...),
	}
}

func (d *Dispatcher) readRegisters(req *frame.Request, read func(address, quantity uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if req.Quantity < 1 || req.Quantity > maxReadRegisters {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	data, err := read(req.Address, req.Quantity)
	if err != nil {
		return failure(req, err)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte{byte(len(data))}, data...),
	}
}

// echo answers a single write with its own address and value.
func (d *Dispatcher) echo(req *frame.Request, err error) modbus.ProtocolDataUnit {
	if err != nil {
		return failure(req, err)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         addressQuantity(req),
	}
}

func (d *Dispatcher) writeMultiple(req *frame.Request, max uint16, byteCount int, write func(address, quantity uint16, data []byte) error) modbus.ProtocolDataUnit {
	if req.Quantity < 1 || req.Quantity > max || len(req.Values) != byteCount {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := write(req.Address, req.Quantity, req.Values); err != nil {
		return failure(req, err)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         addressQuantity(req),
	}
}

func addressQuantity(req *frame.Request) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], req.Address)
	binary.BigEndian.PutUint16(data[2:4], req.Quantity)
	return data
}

// failure turns a map error into an exception response.
func failure(req *frame.Request, err error) modbus.ProtocolDataUnit {
	var code modbus.ExceptionCode
	if !errors.As(err, &code) {
		code = modbus.ExceptionCodeServerDeviceFailure
	}
	slog.Debug("request refused", "function", modbus.FunctionName(req.FunctionCode),
		"address", req.Address, "quantity", req.Quantity, "err", err)
	return exception(req.FunctionCode, code)
}

func exception(funcCode byte, code modbus.ExceptionCode) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionFlag,
		Data:         []byte{byte(code)},
	}
}
