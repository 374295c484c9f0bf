// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/crc"
)

// RTUFramer frames PDUs for a serial line:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
type RTUFramer struct{}

// NewRTUFramer allocates an RTU framer.
func NewRTUFramer() *RTUFramer {
	return &RTUFramer{}
}

func (*RTUFramer) Mode() modbus.Mode   { return modbus.ModeRTU }
func (*RTUFramer) HeaderLength() int   { return HeaderLengthRTU }
func (*RTUFramer) ChecksumLength() int { return ChecksumLengthRTU }
func (*RTUFramer) MaxADULength() int   { return MaxADULengthRTU }

func (*RTUFramer) RequestHeader(slaveID, function byte, address, quantity uint16) []byte {
	adu := make([]byte, PresetQueryLengthRTU, MaxADULengthRTU)
	adu[0] = slaveID
	adu[1] = function
	adu[2] = byte(address >> 8)
	adu[3] = byte(address)
	adu[4] = byte(quantity >> 8)
	adu[5] = byte(quantity)
	return adu
}

func (*RTUFramer) ResponseHeader(h Header) []byte {
	adu := make([]byte, 2, MaxADULengthRTU)
	adu[0] = h.SlaveID
	adu[1] = h.FunctionCode
	return adu
}

// Finalize appends the CRC of the frame.
func (*RTUFramer) Finalize(adu []byte) []byte {
	return crc.Append(adu)
}

// Verify checks the trailing CRC.
func (*RTUFramer) Verify(adu []byte) error {
	_, err := crc.Verify(adu)
	return err
}
