// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol vocabulary shared by the framing,
// master and slave packages: function codes, transport modes, data widths,
// exception codes and the error taxonomy.
package modbus

import "fmt"

// Function codes.
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeReadExceptionStatus    = 0x07
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeReportSlaveID          = 0x11

	// ExceptionFlag is OR-ed into the function code of an exception response.
	ExceptionFlag = 0x80
)

const (
	// BroadcastAddress addresses every slave on an RTU line. Broadcast
	// requests are never answered.
	BroadcastAddress = 0

	// TCPDefaultPort is the registered Modbus/TCP port.
	TCPDefaultPort = 502

	// MaxStatus is the largest number of bits a single request may carry.
	MaxStatus = 800
	// MaxRegisters is the largest number of values a single request may carry.
	MaxRegisters = 100

	// CoilOn and CoilOff are the only legal values of a single coil write.
	CoilOn  = 0xFF00
	CoilOff = 0x0000
)

// FunctionName returns a human readable name of a function code.
func FunctionName(code byte) string {
	switch code &^ ExceptionFlag {
	case FuncCodeReadCoils:
		return "read coils"
	case FuncCodeReadDiscreteInputs:
		return "read discrete inputs"
	case FuncCodeReadHoldingRegisters:
		return "read holding registers"
	case FuncCodeReadInputRegisters:
		return "read input registers"
	case FuncCodeWriteSingleCoil:
		return "write single coil"
	case FuncCodeWriteSingleRegister:
		return "write single register"
	case FuncCodeReadExceptionStatus:
		return "read exception status"
	case FuncCodeWriteMultipleCoils:
		return "write multiple coils"
	case FuncCodeWriteMultipleRegisters:
		return "write multiple registers"
	case FuncCodeReportSlaveID:
		return "report slave id"
	}
	return fmt.Sprintf("function 0x%02X", code)
}

// ProtocolDataUnit (PDU) = Function code + Data.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Mode selects the framing used on a connection. It is fixed for the
// lifetime of the connection.
type Mode int

const (
	ModeRTU Mode = iota
	ModeTCP
)

func (m Mode) String() string {
	switch m {
	case ModeRTU:
		return "rtu"
	case ModeTCP:
		return "tcp"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// DataWidth describes how register bytes of a read response decode into
// values.
type DataWidth int

const (
	Int8 DataWidth = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var widthNames = [...]string{"int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64", "float32", "float64"}

func (w DataWidth) String() string {
	if w >= 0 && int(w) < len(widthNames) {
		return widthNames[w]
	}
	return fmt.Sprintf("width(%d)", int(w))
}

// ParseDataWidth maps a width name ("uint16", "int32", ...) to a DataWidth.
func ParseDataWidth(s string) (DataWidth, error) {
	for i, name := range widthNames {
		if name == s {
			return DataWidth(i), nil
		}
	}
	return 0, fmt.Errorf("modbus: unknown data width %q", s)
}

// Size returns the number of wire bytes one value occupies in a read
// response. Declared but unsupported widths are sized as one register so a
// response length can still be predicted; they are rejected when decoding.
func (w DataWidth) Size() int {
	switch w {
	case Int8, Uint8:
		return 1
	case Int32, Uint32:
		return 4
	}
	return 2
}

// Supported reports whether values of this width can be decoded.
func (w DataWidth) Supported() bool {
	return w >= Int8 && w <= Uint32
}

// Signed reports whether the width decodes to two's complement values.
func (w DataWidth) Signed() bool {
	return w == Int8 || w == Int16 || w == Int32 || w == Int64
}
