// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/ffutop/modbus-tool/modbus"
)

// TCPFramer frames PDUs behind an MBAP header:
//
//	Transaction ID  : 2 bytes
//	Protocol ID     : 2 bytes (0x0000)
//	Length          : 2 bytes (bytes following)
//	Unit ID         : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//
// Every framer owns its transaction counter, so independent connections
// never share transaction ids.
type TCPFramer struct {
	transactionID uint32 // Atomic counter
}

// NewTCPFramer allocates a TCP framer whose first request carries
// transaction id 1.
func NewTCPFramer() *TCPFramer {
	return &TCPFramer{}
}

func (*TCPFramer) Mode() modbus.Mode   { return modbus.ModeTCP }
func (*TCPFramer) HeaderLength() int   { return HeaderLengthTCP }
func (*TCPFramer) ChecksumLength() int { return ChecksumLengthTCP }
func (*TCPFramer) MaxADULength() int   { return MaxADULengthTCP }

// NextTransactionID advances the counter, wrapping from 65535 to 0.
func (f *TCPFramer) NextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&f.transactionID, 1))
}

// RequestHeader builds the MBAP header with a fresh transaction id. The
// length field is left for Finalize.
func (f *TCPFramer) RequestHeader(slaveID, function byte, address, quantity uint16) []byte {
	adu := make([]byte, PresetQueryLengthTCP, MaxADULengthTCP)
	binary.BigEndian.PutUint16(adu[0:], f.NextTransactionID())
	adu[6] = slaveID
	adu[7] = function
	binary.BigEndian.PutUint16(adu[8:], address)
	binary.BigEndian.PutUint16(adu[10:], quantity)
	return adu
}

// ResponseHeader echoes the request's transaction id.
func (*TCPFramer) ResponseHeader(h Header) []byte {
	adu := make([]byte, HeaderLengthTCP+1, MaxADULengthTCP)
	binary.BigEndian.PutUint16(adu[0:], h.TransactionID)
	adu[6] = h.SlaveID
	adu[7] = h.FunctionCode
	return adu
}

// Finalize writes the MBAP length field.
func (*TCPFramer) Finalize(adu []byte) []byte {
	binary.BigEndian.PutUint16(adu[4:], uint16(len(adu)-mbapPrefix))
	return adu
}

// Verify checks the protocol id and the MBAP length field. Integrity is
// left to TCP.
func (*TCPFramer) Verify(adu []byte) error {
	if len(adu) < HeaderLengthTCP+1 {
		return fmt.Errorf("%w: frame length %d is shorter than the MBAP header", modbus.ErrInvalidData, len(adu))
	}
	if protocolID := binary.BigEndian.Uint16(adu[2:]); protocolID != 0 {
		return fmt.Errorf("%w: protocol id %d is not modbus", modbus.ErrInvalidData, protocolID)
	}
	if length := int(binary.BigEndian.Uint16(adu[4:])); length != len(adu)-mbapPrefix {
		return fmt.Errorf("%w: MBAP length %d, frame carries %d", modbus.ErrInvalidData, length, len(adu)-mbapPrefix)
	}
	return nil
}
