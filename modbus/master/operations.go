// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/frame"
)

// ReadCoils reads quantity coils starting at address.
func (c *Client) ReadCoils(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, modbus.FuncCodeReadCoils, address, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, modbus.FuncCodeReadDiscreteInputs, address, quantity)
}

// ReadHoldingRegisters reads quantity values of the given width starting at
// address.
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16, width modbus.DataWidth) ([]int64, error) {
	return c.readRegisters(ctx, modbus.FuncCodeReadHoldingRegisters, address, quantity, width)
}

// ReadInputRegisters reads quantity values of the given width starting at
// address.
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16, width modbus.DataWidth) ([]int64, error) {
	return c.readRegisters(ctx, modbus.FuncCodeReadInputRegisters, address, quantity, width)
}

// WriteSingleCoil turns the coil at address on or off.
func (c *Client) WriteSingleCoil(ctx context.Context, address uint16, on bool) error {
	value := uint16(modbus.CoilOff)
	if on {
		value = modbus.CoilOn
	}
	request := c.Framer.RequestHeader(c.SlaveID, modbus.FuncCodeWriteSingleCoil, address, value)
	_, err := c.execute(ctx, request, modbus.Uint16)
	return err
}

// WriteSingleRegister writes value to the holding register at address.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	request := c.Framer.RequestHeader(c.SlaveID, modbus.FuncCodeWriteSingleRegister, address, value)
	_, err := c.execute(ctx, request, modbus.Uint16)
	return err
}

// WriteMultipleCoils writes values to consecutive coils starting at address.
func (c *Client) WriteMultipleCoils(ctx context.Context, address uint16, values []bool) error {
	if len(values) > modbus.MaxStatus {
		return fmt.Errorf("%w: %d coils exceed %d", modbus.ErrTooManyData, len(values), modbus.MaxStatus)
	}
	request := c.Framer.RequestHeader(c.SlaveID, modbus.FuncCodeWriteMultipleCoils, address, uint16(len(values)))
	byteCount := (len(values) + 7) / 8
	request = append(request, byte(byteCount))
	for pos := 0; pos < len(values); pos += 8 {
		request = append(request, GetByteFromBits(values, pos, min(8, len(values)-pos)))
	}
	_, err := c.execute(ctx, request, modbus.Uint16)
	return err
}

// WriteMultipleRegisters writes values to consecutive holding registers
// starting at address.
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	if len(values) > modbus.MaxRegisters {
		return fmt.Errorf("%w: %d registers exceed %d", modbus.ErrTooManyData, len(values), modbus.MaxRegisters)
	}
	request := c.Framer.RequestHeader(c.SlaveID, modbus.FuncCodeWriteMultipleRegisters, address, uint16(len(values)))
	request = append(request, byte(len(values)*2))
	for _, v := range values {
		request = binary.BigEndian.AppendUint16(request, v)
	}
	_, err := c.execute(ctx, request, modbus.Uint16)
	return err
}

// ReportSlaveID returns the device specific data a slave reports about
// itself, byte count excluded.
func (c *Client) ReportSlaveID(ctx context.Context) ([]byte, error) {
	resp, err := c.execute(ctx, c.bareRequest(modbus.FuncCodeReportSlaveID), modbus.Uint16)
	if err != nil {
		return nil, err
	}
	return resp.PDU.Data[1:], nil
}

// ReadExceptionStatus returns the eight exception status outputs of a
// serial line device.
func (c *Client) ReadExceptionStatus(ctx context.Context) (byte, error) {
	resp, err := c.execute(ctx, c.bareRequest(modbus.FuncCodeReadExceptionStatus), modbus.Uint16)
	if err != nil {
		return 0, err
	}
	return resp.PDU.Data[0], nil
}

// bareRequest builds a request made of a function code only.
func (c *Client) bareRequest(function byte) []byte {
	request := c.Framer.RequestHeader(c.SlaveID, function, 0, 0)
	return request[:c.Framer.HeaderLength()+1]
}

func (c *Client) readBits(ctx context.Context, function byte, address, quantity uint16) ([]bool, error) {
	if quantity > modbus.MaxStatus {
		return nil, fmt.Errorf("%w: %d bits exceed %d", modbus.ErrTooManyData, quantity, modbus.MaxStatus)
	}
	request := c.Framer.RequestHeader(c.SlaveID, function, address, quantity)
	resp, err := c.execute(ctx, request, modbus.Uint16)
	if err != nil {
		return nil, err
	}
	values := make([]bool, quantity)
	SetBitsFromBytes(values, 0, int(quantity), resp.PDU.Data[1:])
	return values, nil
}

func (c *Client) readRegisters(ctx context.Context, function byte, address, quantity uint16, width modbus.DataWidth) ([]int64, error) {
	if quantity > modbus.MaxRegisters {
		return nil, fmt.Errorf("%w: %d registers exceed %d", modbus.ErrTooManyData, quantity, modbus.MaxRegisters)
	}
	if !width.Supported() {
		return nil, fmt.Errorf("%w: %s", modbus.ErrUnsupportedWidth, width)
	}
	request := c.Framer.RequestHeader(c.SlaveID, function, address, quantity)
	if length := frame.ResponseLength(c.Framer, request, width); length > c.Framer.MaxADULength() {
		return nil, fmt.Errorf("%w: %d %s values need a %d byte response", modbus.ErrTooManyData, quantity, width, length)
	}
	resp, err := c.execute(ctx, request, width)
	if err != nil {
		return nil, err
	}
	return DecodeRegisters(resp.PDU.Data[1:], resp.Count, width)
}

// execute runs one request/response exchange. Broadcast requests are sent
// without waiting, since no slave answers them.
func (c *Client) execute(ctx context.Context, request []byte, width modbus.DataWidth) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	broadcast := c.Framer.Mode() == modbus.ModeRTU && c.SlaveID == modbus.BroadcastAddress
	function := request[c.Framer.HeaderLength()]
	if broadcast && !isWrite(function) {
		return nil, fmt.Errorf("%w: %s cannot be broadcast", modbus.ErrInvalidData, modbus.FunctionName(function))
	}

	if _, err := c.Send(ctx, request); err != nil {
		return nil, err
	}
	if broadcast {
		return &Response{}, nil
	}
	return c.ReceiveAndValidate(ctx, request, width)
}

func isWrite(function byte) bool {
	switch function {
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return true
	}
	return false
}

// DecodeRegisters unpacks count big-endian values of the given width from
// data. Widths that cannot be decoded fail with modbus.ErrUnsupportedWidth.
func DecodeRegisters(data []byte, count int, width modbus.DataWidth) ([]int64, error) {
	if !width.Supported() {
		return nil, fmt.Errorf("%w: %s", modbus.ErrUnsupportedWidth, width)
	}
	size := width.Size()
	if len(data) < count*size {
		return nil, fmt.Errorf("%w: %d bytes hold fewer than %d %s values", modbus.ErrInvalidData, len(data), count, width)
	}
	values := make([]int64, count)
	for i := range values {
		b := data[i*size:]
		switch width {
		case modbus.Int8:
			values[i] = int64(int8(b[0]))
		case modbus.Uint8:
			values[i] = int64(b[0])
		case modbus.Int16:
			values[i] = int64(int16(binary.BigEndian.Uint16(b)))
		case modbus.Uint16:
			values[i] = int64(binary.BigEndian.Uint16(b))
		case modbus.Int32:
			values[i] = int64(int32(binary.BigEndian.Uint32(b)))
		case modbus.Uint32:
			values[i] = int64(binary.BigEndian.Uint32(b))
		}
	}
	return values, nil
}
