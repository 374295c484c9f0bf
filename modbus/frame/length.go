// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"encoding/binary"

	"github.com/ffutop/modbus-tool/modbus"
)

// LengthUndefined asks the receiver to size a frame from its own contents.
const LengthUndefined = -1

// Direction tells the receiver which side of an exchange a frame belongs to.
// Requests and responses of the same function code are laid out differently.
type Direction int

const (
	DirRequest Direction = iota
	DirResponse
)

func (d Direction) String() string {
	if d == DirRequest {
		return "request"
	}
	return "response"
}

// ResponseLength predicts the total length of the normal response to
// request. Register reads are sized with width. It returns LengthUndefined
// for responses whose length is only known from their contents.
func ResponseLength(f Framer, request []byte, width modbus.DataWidth) int {
	offset := f.HeaderLength()
	var length int
	switch request[offset] {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		// Header + nb values (code from write_bits)
		count := int(binary.BigEndian.Uint16(request[offset+3:]))
		length = 2 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		count := int(binary.BigEndian.Uint16(request[offset+3:]))
		length = 2 + width.Size()*count
	case modbus.FuncCodeReadExceptionStatus:
		// Function code and the status byte.
		length = 2
	case modbus.FuncCodeReportSlaveID:
		return LengthUndefined
	default:
		// Writes echo address and value/quantity.
		length = 5
	}
	return offset + length + f.ChecksumLength()
}

// headerExtra returns the bytes following the function code that must be
// read before the data length of a frame is known.
func headerExtra(dir Direction, function byte) int {
	if function&modbus.ExceptionFlag != 0 {
		return 1
	}
	switch function {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if dir == DirRequest {
			return 4
		}
		return 1
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		return 4
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		if dir == DirRequest {
			// Address, quantity and byte count.
			return 5
		}
		return 4
	case modbus.FuncCodeReadExceptionStatus:
		if dir == DirRequest {
			return 0
		}
		return 1
	case modbus.FuncCodeReportSlaveID:
		if dir == DirRequest {
			return 0
		}
		return 1
	}
	return 0
}

// dataLength returns the bytes left to read once the extra header of adu
// is in, checksum excluded.
func dataLength(dir Direction, adu []byte, offset int) int {
	function := adu[offset]
	if function&modbus.ExceptionFlag != 0 {
		return 0
	}
	switch function {
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		if dir == DirRequest {
			return int(adu[offset+5])
		}
	case modbus.FuncCodeReportSlaveID:
		if dir == DirResponse {
			return int(adu[offset+1])
		}
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if dir == DirResponse {
			return int(adu[offset+1])
		}
	}
	return 0
}
