// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package frame builds, sizes, receives and sends Modbus application data
// units (ADUs) for the RTU and TCP transport modes.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-tool/modbus"
)

const (
	// HeaderLengthRTU is the slave address preceding the function code.
	HeaderLengthRTU = 1
	// HeaderLengthTCP is the MBAP header (unit id included).
	HeaderLengthTCP = 7

	ChecksumLengthRTU = 2
	ChecksumLengthTCP = 0

	// max MODBUS RS232/RS485 ADU = 253 bytes + Server address (1 byte) + CRC (2 bytes) = 256 bytes
	MaxADULengthRTU = 256
	// max MODBUS TCP ADU = 253 bytes + MBAP (7 bytes) = 260 bytes.
	MaxADULengthTCP = 260

	// Length of a request header built by RequestHeader.
	PresetQueryLengthRTU = 6
	PresetQueryLengthTCP = 12

	// mbapPrefix is the part of the MBAP header not counted by its length field.
	mbapPrefix = 6
)

// Framer encodes the transport specific parts of an ADU. Frames handled by
// a Framer always start with HeaderLength bytes of header, the last of which
// is the slave (unit) id, followed by the function code.
type Framer interface {
	Mode() modbus.Mode
	HeaderLength() int
	ChecksumLength() int
	MaxADULength() int

	// RequestHeader returns a new buffer holding the header, function code,
	// address and quantity (or value) of a request. The buffer has room for
	// a maximum sized ADU.
	RequestHeader(slaveID, function byte, address, quantity uint16) []byte
	// ResponseHeader returns a new buffer holding the header and function
	// code of a response carrying the identity in h.
	ResponseHeader(h Header) []byte
	// Finalize completes an outbound frame once its payload is written. It
	// must be called exactly once per frame.
	Finalize(adu []byte) []byte
	// Verify validates a complete inbound frame.
	Verify(adu []byte) error
}

// New returns the framer of a transport mode.
func New(mode modbus.Mode) Framer {
	if mode == modbus.ModeTCP {
		return NewTCPFramer()
	}
	return NewRTUFramer()
}

// ExceptionLength returns the length of an exception response: header,
// function code, exception code and checksum. It is the shortest frame the
// protocol defines.
func ExceptionLength(f Framer) int {
	return f.HeaderLength() + 2 + f.ChecksumLength()
}

// Header is the identity carried by every frame.
type Header struct {
	TransactionID uint16 // TCP only
	SlaveID       byte
	FunctionCode  byte
}

// ParseHeader extracts the identity of a frame.
func ParseHeader(f Framer, adu []byte) (Header, error) {
	offset := f.HeaderLength()
	if len(adu) <= offset {
		return Header{}, fmt.Errorf("%w: frame length %d does not reach the function code", modbus.ErrInvalidData, len(adu))
	}
	h := Header{
		SlaveID:      adu[offset-1],
		FunctionCode: adu[offset],
	}
	if f.Mode() == modbus.ModeTCP {
		h.TransactionID = binary.BigEndian.Uint16(adu[0:])
	}
	return h, nil
}

// PDU returns the function code and data of a frame, checksum excluded.
func PDU(f Framer, adu []byte) (modbus.ProtocolDataUnit, error) {
	offset := f.HeaderLength()
	end := len(adu) - f.ChecksumLength()
	if end <= offset {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("%w: frame length %d does not reach the function code", modbus.ErrInvalidData, len(adu))
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: adu[offset],
		Data:         adu[offset+1 : end],
	}, nil
}
