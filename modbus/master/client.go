// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master implements the requesting side of a Modbus exchange: it
// sends requests over a transport.Link, waits for the matching response and
// validates it before handing decoded values back to the caller.
package master

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/ffutop/modbus-tool/modbus/frame"
	"github.com/ffutop/modbus-tool/transport"
)

// Client is a Modbus master bound to one link and one remote slave.
type Client struct {
	Link    transport.Link
	Framer  frame.Framer
	SlaveID byte

	ResponseTimeout     time.Duration
	BeginOfFrameTimeout time.Duration
	EndOfFrameTimeout   time.Duration

	ErrorHandling transport.ErrorHandling
	// RetryOnTimeout waits a second time for a response that did not arrive
	// within the first window. The request is not sent again.
	RetryOnTimeout bool

	mu sync.Mutex
}

// NewClient creates a master talking to slaveID over link. Each client owns
// its framer, so TCP transaction ids are never shared between clients.
func NewClient(link transport.Link, mode modbus.Mode, slaveID byte) *Client {
	return &Client{
		Link:                link,
		Framer:              frame.New(mode),
		SlaveID:             slaveID,
		ResponseTimeout:     frame.DefaultResponseTimeout,
		BeginOfFrameTimeout: frame.DefaultBeginOfFrameTimeout,
		EndOfFrameTimeout:   frame.DefaultEndOfFrameTimeout,
	}
}

// Connect establishes the link.
func (c *Client) Connect(ctx context.Context) error {
	return c.Link.Connect(ctx)
}

// Close closes the link.
func (c *Client) Close() error {
	return c.Link.Close()
}

// Response is a validated answer to a request.
type Response struct {
	Header frame.Header
	PDU    modbus.ProtocolDataUnit
	// Count is the number of values the response reports, in the units of
	// the request quantity.
	Count int
}

// Send finalizes adu and writes it to the link.
func (c *Client) Send(ctx context.Context, adu []byte) (int, error) {
	n, err := frame.Send(c.Link, c.Framer, adu)
	if err != nil {
		slog.Error("failed to send request", "mode", c.Framer.Mode(), "err", err)
		c.treat(ctx, err)
	}
	return n, err
}

// ReceiveAndValidate waits for the response to request and checks it
// against the request: identity, function code, length and reported
// quantity. An exception response is returned as a modbus.ExceptionCode
// error. Register reads are sized with width.
func (c *Client) ReceiveAndValidate(ctx context.Context, request []byte, width modbus.DataWidth) (*Response, error) {
	adu, err := c.receive(frame.ResponseLength(c.Framer, request, width))
	var resp *Response
	if err == nil {
		resp, err = c.validate(request, adu, width)
	}
	if err != nil {
		if !modbus.IsException(err) {
			slog.Warn("invalid response", "mode", c.Framer.Mode(), "slave", c.SlaveID, "err", err)
		}
		c.treat(ctx, err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) receive(length int) ([]byte, error) {
	recv := &frame.Receiver{
		Framer:              c.Framer,
		Reader:              c.Link,
		ResponseTimeout:     c.ResponseTimeout,
		BeginOfFrameTimeout: c.BeginOfFrameTimeout,
		EndOfFrameTimeout:   c.EndOfFrameTimeout,
	}
	adu, err := recv.Receive(frame.DirResponse, length)
	if errors.Is(err, modbus.ErrTimeout) && c.RetryOnTimeout {
		slog.Debug("response timed out, waiting once more", "slave", c.SlaveID)
		adu, err = recv.Receive(frame.DirResponse, length)
	}
	return adu, err
}

func (c *Client) treat(ctx context.Context, err error) {
	if terr := c.ErrorHandling.Treat(ctx, c.Link, err); terr != nil {
		slog.Error("recovery failed", "mode", c.Framer.Mode(), "err", terr)
	}
}

func (c *Client) validate(request, adu []byte, width modbus.DataWidth) (*Response, error) {
	f := c.Framer
	offset := f.HeaderLength()

	reqHeader, err := frame.ParseHeader(f, request)
	if err != nil {
		return nil, err
	}
	header, err := frame.ParseHeader(f, adu)
	if err != nil {
		return nil, err
	}
	if header.SlaveID != reqHeader.SlaveID {
		return nil, fmt.Errorf("%w: response from slave %d to a request for slave %d", modbus.ErrInvalidData, header.SlaveID, reqHeader.SlaveID)
	}
	if header.TransactionID != reqHeader.TransactionID {
		return nil, fmt.Errorf("%w: transaction id %d does not match request %d", modbus.ErrInvalidData, header.TransactionID, reqHeader.TransactionID)
	}

	if header.FunctionCode&modbus.ExceptionFlag != 0 {
		if header.FunctionCode != reqHeader.FunctionCode|modbus.ExceptionFlag {
			return nil, fmt.Errorf("%w: exception function 0x%02X does not answer 0x%02X", modbus.ErrInvalidData, header.FunctionCode, reqHeader.FunctionCode)
		}
		if len(adu) != frame.ExceptionLength(f) {
			return nil, fmt.Errorf("%w: exception response of %d bytes", modbus.ErrInvalidData, len(adu))
		}
		code := modbus.ExceptionCode(adu[offset+1])
		if !code.Defined() {
			return nil, fmt.Errorf("%w: %d", modbus.ErrInvalidExceptionCode, byte(code))
		}
		return nil, code
	}

	if header.FunctionCode != reqHeader.FunctionCode {
		return nil, fmt.Errorf("%w: function 0x%02X does not answer 0x%02X", modbus.ErrInvalidData, header.FunctionCode, reqHeader.FunctionCode)
	}
	if expected := frame.ResponseLength(f, request, width); expected != frame.LengthUndefined && len(adu) != expected {
		return nil, fmt.Errorf("%w: response of %d bytes, expected %d", modbus.ErrInvalidData, len(adu), expected)
	}

	pdu, err := frame.PDU(f, adu)
	if err != nil {
		return nil, err
	}
	want, got, err := quantities(request[offset:], pdu, width)
	if err != nil {
		return nil, err
	}
	if want != got {
		return nil, fmt.Errorf("%w: %s requested %d values, response reports %d", modbus.ErrInvalidData, modbus.FunctionName(header.FunctionCode), want, got)
	}
	return &Response{Header: header, PDU: pdu, Count: got}, nil
}

// quantities returns the quantity a request asks for and the quantity its
// response reports. req starts at the function code.
func quantities(req []byte, pdu modbus.ProtocolDataUnit, width modbus.DataWidth) (int, int, error) {
	switch pdu.FunctionCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		count := int(binary.BigEndian.Uint16(req[3:]))
		return (count + 7) / 8, int(pdu.Data[0]), nil
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		if !width.Supported() {
			return 0, 0, fmt.Errorf("%w: %s", modbus.ErrUnsupportedWidth, width)
		}
		byteCount := int(pdu.Data[0])
		if byteCount%width.Size() != 0 {
			return 0, 0, fmt.Errorf("%w: byte count %d is not a multiple of %d", modbus.ErrInvalidData, byteCount, width.Size())
		}
		return int(binary.BigEndian.Uint16(req[3:])), byteCount / width.Size(), nil
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		return int(binary.BigEndian.Uint16(req[3:])), int(binary.BigEndian.Uint16(pdu.Data[2:])), nil
	case modbus.FuncCodeReportSlaveID:
		// The response length is its own quantity.
		return len(pdu.Data), len(pdu.Data), nil
	}
	return 1, 1, nil
}
