// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model holds the register map served by a Modbus slave.
package model

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ffutop/modbus-tool/modbus"
)

const (
	MaxAddress = 65535
)

// Table identifies one of the four address spaces.
type Table int

const (
	TableCoils Table = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t Table) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete inputs"
	case TableHoldingRegisters:
		return "holding registers"
	case TableInputRegisters:
		return "input registers"
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// Sizes gives the number of items in each address space.
type Sizes struct {
	Coils            int
	DiscreteInputs   int
	HoldingRegisters int
	InputRegisters   int
}

// Map holds the four address spaces of a slave. It is sized at creation and
// never resized. All methods are safe for concurrent use; direct access to
// the slices must go through View or Update.
type Map struct {
	mu sync.RWMutex

	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write).
	HoldingRegisters []uint16
	// 3x Input Registers (Read Only).
	InputRegisters []uint16

	regions []*Region
}

// New allocates the four address spaces with alloc. Either all of them are
// allocated or none is: on failure the regions obtained so far are released
// and the error wraps modbus.ErrAllocation.
func New(sizes Sizes, alloc Allocator) (*Map, error) {
	counts := [...]int{sizes.Coils, sizes.DiscreteInputs, sizes.HoldingRegisters, sizes.InputRegisters}
	for i, n := range counts {
		if n < 0 || n > MaxAddress+1 {
			return nil, fmt.Errorf("%w: %s size %d out of range", modbus.ErrAllocation, Table(i), n)
		}
	}

	m := &Map{}
	for i, n := range counts {
		if Table(i) == TableHoldingRegisters || Table(i) == TableInputRegisters {
			n *= 2
		}
		region, err := alloc.Allocate(n)
		if err != nil {
			m.release()
			return nil, fmt.Errorf("%w: %s: %v", modbus.ErrAllocation, Table(i), err)
		}
		m.regions = append(m.regions, region)
	}

	m.Coils = m.regions[TableCoils].Bytes()
	m.DiscreteInputs = m.regions[TableDiscreteInputs].Bytes()
	m.HoldingRegisters = m.regions[TableHoldingRegisters].Words()
	m.InputRegisters = m.regions[TableInputRegisters].Words()
	return m, nil
}

// Close releases the address spaces. The map must not be used afterwards.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Coils, m.DiscreteInputs = nil, nil
	m.HoldingRegisters, m.InputRegisters = nil, nil
	return m.release()
}

func (m *Map) release() error {
	var firstErr error
	for _, r := range m.regions {
		if err := r.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.regions = nil
	return firstErr
}

// Len returns the number of items in table t.
func (m *Map) Len(t Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch t {
	case TableCoils:
		return len(m.Coils)
	case TableDiscreteInputs:
		return len(m.DiscreteInputs)
	case TableHoldingRegisters:
		return len(m.HoldingRegisters)
	case TableInputRegisters:
		return len(m.InputRegisters)
	}
	return 0
}

// Contains reports whether quantity items starting at address lie inside
// table t.
func (m *Map) Contains(t Table, address, quantity uint16) bool {
	return int(address)+int(quantity) <= m.Len(t)
}

// View runs fn with the map read-locked.
func (m *Map) View(fn func(m *Map)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m)
}

// Update runs fn with the map write-locked.
func (m *Map) Update(fn func(m *Map)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// ReadCoils reads a range of coils and returns them as packed bytes (Modbus format).
func (m *Map) ReadCoils(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readBits(m.Coils, address, quantity)
}

// ReadDiscreteInputs reads a range of discrete inputs and returns them as packed bytes.
func (m *Map) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readBits(m.DiscreteInputs, address, quantity)
}

func readBits(table []byte, address, quantity uint16) ([]byte, error) {
	if err := validateRange(len(table), address, quantity); err != nil {
		return nil, err
	}

	// Calculate byte count: (quantity + 7) / 8
	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if table[int(address)+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

// WriteSingleCoil writes a single coil. value must be 0xFF00 (ON) or 0x0000 (OFF).
func (m *Map) WriteSingleCoil(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(len(m.Coils), address, 1); err != nil {
		return err
	}
	switch value {
	case modbus.CoilOn:
		m.Coils[address] = 1
	case modbus.CoilOff:
		m.Coils[address] = 0
	default:
		return modbus.ExceptionCodeIllegalDataValue
	}
	return nil
}

// WriteMultipleCoils writes a range of coils from packed bytes.
func (m *Map) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(len(m.Coils), address, quantity); err != nil {
		return err
	}
	if len(data) < (int(quantity)+7)/8 {
		return modbus.ExceptionCodeIllegalDataValue
	}

	for i := 0; i < int(quantity); i++ {
		m.Coils[int(address)+i] = (data[i/8] >> uint(i%8)) & 1
	}
	return nil
}

// ReadHoldingRegisters reads a range of holding registers and returns them as BigEndian bytes.
func (m *Map) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readWords(m.HoldingRegisters, address, quantity)
}

// ReadInputRegisters reads a range of input registers and returns them as BigEndian bytes.
func (m *Map) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readWords(m.InputRegisters, address, quantity)
}

func readWords(table []uint16, address, quantity uint16) ([]byte, error) {
	if err := validateRange(len(table), address, quantity); err != nil {
		return nil, err
	}

	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], table[int(address)+i])
	}
	return result, nil
}

// WriteSingleRegister writes a single holding register.
func (m *Map) WriteSingleRegister(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(len(m.HoldingRegisters), address, 1); err != nil {
		return err
	}
	m.HoldingRegisters[address] = value
	return nil
}

// WriteMultipleRegisters writes a range of holding registers from BigEndian bytes.
func (m *Map) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(len(m.HoldingRegisters), address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return modbus.ExceptionCodeIllegalDataValue
	}

	for i := 0; i < int(quantity); i++ {
		m.HoldingRegisters[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return nil
}

func validateRange(size int, address, quantity uint16) error {
	// address is 0-based.
	if int(address)+int(quantity) > size {
		return modbus.ExceptionCodeIllegalDataAddress
	}
	return nil
}
