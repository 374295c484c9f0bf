// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned when the peer closed the stream.
	ErrConnectionClosed = errors.New("modbus: connection closed")
	// ErrTransportFailure wraps read/write failures of the underlying stream,
	// short writes included.
	ErrTransportFailure = errors.New("modbus: transport failure")
	// ErrTimeout is returned when no data arrived within the wait window.
	ErrTimeout = errors.New("modbus: request timed out")
	// ErrInvalidCRC is returned when an RTU frame fails checksum validation.
	ErrInvalidCRC = errors.New("modbus: invalid crc")
	// ErrInvalidData covers quantity mismatches and malformed frames.
	ErrInvalidData = errors.New("modbus: invalid data")
	// ErrInvalidExceptionCode is returned for exception responses carrying a
	// code outside the defined table.
	ErrInvalidExceptionCode = errors.New("modbus: invalid exception code")
	// ErrUnsupportedWidth is returned when register values of a declared but
	// unimplemented width are requested.
	ErrUnsupportedWidth = errors.New("modbus: unsupported data width")
	// ErrAllocation is returned when a register map cannot be allocated.
	ErrAllocation = errors.New("modbus: allocation failure")
	// ErrTooManyData is returned before anything is sent when a request asks
	// for more values than a single frame may carry.
	ErrTooManyData = errors.New("modbus: too many data")
)

// ExceptionCode is the code a remote device returns when it cannot service
// a request. It implements error so that device exceptions travel through
// the same return path as local failures.
type ExceptionCode byte

const (
	ExceptionCodeIllegalFunction                    ExceptionCode = 0x01
	ExceptionCodeIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionCodeIllegalDataValue                   ExceptionCode = 0x03
	ExceptionCodeServerDeviceFailure                ExceptionCode = 0x04
	ExceptionCodeAcknowledge                        ExceptionCode = 0x05
	ExceptionCodeServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionCodeNegativeAcknowledge                ExceptionCode = 0x07
	ExceptionCodeMemoryParityError                  ExceptionCode = 0x08
	ExceptionCodeGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

const undefinedExceptionText = "Not defined in modbus specification"

var exceptionText = [...]string{
	0x00: undefinedExceptionText,
	0x01: "Illegal function code",
	0x02: "Illegal data address",
	0x03: "Illegal data value",
	0x04: "Slave device or server failure",
	0x05: "Acknowledge",
	0x06: "Slave device or server busy",
	0x07: "Negative acknowledge",
	0x08: "Memory parity error",
	0x09: undefinedExceptionText,
	0x0A: "Gateway path unavailable",
	0x0B: "Target device failed to respond",
}

// Defined reports whether the code lies inside the exception table (1-11).
func (e ExceptionCode) Defined() bool {
	return e >= 1 && int(e) < len(exceptionText)
}

func (e ExceptionCode) Error() string {
	if int(e) < len(exceptionText) {
		return fmt.Sprintf("modbus: exception %d (%s)", byte(e), exceptionText[e])
	}
	return fmt.Sprintf("modbus: exception %d (%s)", byte(e), undefinedExceptionText)
}

// IsException reports whether err carries a device exception. Exceptions are
// informational: they need no recovery on the transport.
func IsException(err error) bool {
	var code ExceptionCode
	return errors.As(err, &code)
}
