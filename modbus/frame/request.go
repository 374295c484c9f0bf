// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-tool/modbus"
)

// Request is a decoded request frame.
type Request struct {
	Header
	// Address is the first data address. Unused by report slave id and read
	// exception status.
	Address uint16
	// Quantity is the number of items for reads and multi-writes, or the
	// written value for single writes.
	Quantity uint16
	// Values holds the data bytes of a multi-write.
	Values []byte
}

// DecodeRequest parses a complete request frame. Frames whose layout does not
// match their function code fail with modbus.ErrInvalidData. Unknown function
// codes decode to their header only.
func DecodeRequest(f Framer, adu []byte) (*Request, error) {
	h, err := ParseHeader(f, adu)
	if err != nil {
		return nil, err
	}
	req := &Request{Header: h}
	offset := f.HeaderLength()
	end := len(adu) - f.ChecksumLength()
	if end <= offset {
		return nil, fmt.Errorf("%w: frame length %d leaves no room for the function code", modbus.ErrInvalidData, len(adu))
	}
	body := adu[offset+1 : end]

	switch h.FunctionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		if len(body) != 4 {
			return nil, fmt.Errorf("%w: %s request carries %d data bytes, want 4", modbus.ErrInvalidData, modbus.FunctionName(h.FunctionCode), len(body))
		}
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		if len(body) < 5 || int(body[4]) != len(body)-5 {
			return nil, fmt.Errorf("%w: %s request byte count does not match its length %d", modbus.ErrInvalidData, modbus.FunctionName(h.FunctionCode), len(body))
		}
		req.Values = body[5:]
	default:
		return req, nil
	}
	req.Address = binary.BigEndian.Uint16(body[0:])
	req.Quantity = binary.BigEndian.Uint16(body[2:])
	return req, nil
}
