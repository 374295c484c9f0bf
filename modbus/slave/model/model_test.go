// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/modbus-tool/modbus"
)

var testSizes = Sizes{Coils: 16, DiscreteInputs: 8, HoldingRegisters: 10, InputRegisters: 4}

func newTestMap(t *testing.T, alloc Allocator) *Map {
	t.Helper()
	m, err := New(testSizes, alloc)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMapBounds(t *testing.T) {
	m := newTestMap(t, HeapAllocator{})
	n := uint16(testSizes.Coils)

	if err := m.WriteSingleCoil(n-1, modbus.CoilOn); err != nil {
		t.Fatalf("write coil %d: %v", n-1, err)
	}
	err := m.WriteSingleCoil(n, modbus.CoilOn)
	if !errors.Is(err, modbus.ExceptionCodeIllegalDataAddress) {
		t.Fatalf("write coil %d: err = %v, want IllegalDataAddress", n, err)
	}
	if err := m.WriteMultipleCoils(n-1, 2, []byte{0x03}); !errors.Is(err, modbus.ExceptionCodeIllegalDataAddress) {
		t.Fatalf("multi write across the end: err = %v", err)
	}

	m.View(func(m *Map) {
		for i, c := range m.Coils {
			want := byte(0)
			if i == int(n-1) {
				want = 1
			}
			if c != want {
				t.Errorf("coil %d = %d, want %d", i, c, want)
			}
		}
	})

	if _, err := m.ReadHoldingRegisters(9, 2); !errors.Is(err, modbus.ExceptionCodeIllegalDataAddress) {
		t.Errorf("read past holding registers: err = %v", err)
	}
	if _, err := m.ReadInputRegisters(0, 4); err != nil {
		t.Errorf("read all input registers: %v", err)
	}
	if !m.Contains(TableDiscreteInputs, 0, 8) || m.Contains(TableDiscreteInputs, 1, 8) {
		t.Error("Contains() disagrees with the discrete input size")
	}
}

func TestMapCoils(t *testing.T) {
	m := newTestMap(t, HeapAllocator{})

	if err := m.WriteSingleCoil(0, 0x1234); !errors.Is(err, modbus.ExceptionCodeIllegalDataValue) {
		t.Errorf("coil value 0x1234: err = %v, want IllegalDataValue", err)
	}

	// 10 coils from address 3: CD 01 -> 1011 0011 1
	if err := m.WriteMultipleCoils(3, 10, []byte{0xCD, 0x01}); err != nil {
		t.Fatal(err)
	}
	got, err := m.ReadCoils(3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xCD, 0x01}) {
		t.Errorf("ReadCoils() = % X, want CD 01", got)
	}
	got, _ = m.ReadCoils(2, 3)
	if !bytes.Equal(got, []byte{0x02}) {
		t.Errorf("ReadCoils(2, 3) = % X, want 02", got)
	}
}

func TestMapRegisters(t *testing.T) {
	for name, alloc := range map[string]Allocator{"heap": HeapAllocator{}, "mmap": MmapAllocator{}} {
		t.Run(name, func(t *testing.T) {
			m := newTestMap(t, alloc)

			if err := m.WriteMultipleRegisters(1, 2, []byte{0x12, 0x34, 0x56, 0x78}); err != nil {
				t.Fatal(err)
			}
			if err := m.WriteSingleRegister(9, 0xBEEF); err != nil {
				t.Fatal(err)
			}
			got, err := m.ReadHoldingRegisters(0, 3)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, []byte{0x00, 0x00, 0x12, 0x34, 0x56, 0x78}) {
				t.Errorf("ReadHoldingRegisters() = % X", got)
			}

			m.Update(func(m *Map) {
				m.InputRegisters[3] = 0x0102
				m.DiscreteInputs[7] = 1
			})
			got, _ = m.ReadInputRegisters(3, 1)
			if !bytes.Equal(got, []byte{0x01, 0x02}) {
				t.Errorf("ReadInputRegisters() = % X", got)
			}
			got, _ = m.ReadDiscreteInputs(0, 8)
			if !bytes.Equal(got, []byte{0x80}) {
				t.Errorf("ReadDiscreteInputs() = % X", got)
			}
			m.View(func(m *Map) {
				if m.HoldingRegisters[9] != 0xBEEF {
					t.Errorf("holding register 9 = %04X", m.HoldingRegisters[9])
				}
			})
		})
	}
}

// failingAllocator fails its n-th allocation and counts releases.
type failingAllocator struct {
	failAt   int
	calls    int
	released int
}

func (a *failingAllocator) Allocate(n int) (*Region, error) {
	a.calls++
	if a.calls == a.failAt {
		return nil, errors.New("out of memory")
	}
	return &Region{data: make([]byte, n), release: func() error {
		a.released++
		return nil
	}}, nil
}

func TestNewRollsBack(t *testing.T) {
	alloc := &failingAllocator{failAt: 3}
	m, err := New(testSizes, alloc)
	if !errors.Is(err, modbus.ErrAllocation) {
		t.Fatalf("New() err = %v, want ErrAllocation", err)
	}
	if m != nil {
		t.Error("New() returned a map on failure")
	}
	if alloc.released != 2 {
		t.Errorf("released %d regions, want 2", alloc.released)
	}

	if _, err := New(Sizes{Coils: MaxAddress + 2}, HeapAllocator{}); !errors.Is(err, modbus.ErrAllocation) {
		t.Errorf("oversized map: err = %v, want ErrAllocation", err)
	}
}

func TestCloseReleasesAll(t *testing.T) {
	alloc := &failingAllocator{}
	m, err := New(testSizes, alloc)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if alloc.released != 4 {
		t.Errorf("released %d regions, want 4", alloc.released)
	}
	if m.Len(TableCoils) != 0 {
		t.Error("coils still reachable after Close")
	}
}

func TestNewAllocator(t *testing.T) {
	for _, name := range []string{"", "heap", "mmap"} {
		if _, err := NewAllocator(name); err != nil {
			t.Errorf("NewAllocator(%q): %v", name, err)
		}
	}
	if _, err := NewAllocator("sql"); err == nil {
		t.Error("expected error for unknown allocator")
	}
}
