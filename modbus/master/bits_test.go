// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"math"
	"testing"
)

func TestBits(t *testing.T) {
	bits := make([]bool, 12)
	SetBitsFromByte(bits, 2, 0xA5)
	want := []bool{false, false, true, false, true, false, false, true, false, true, false, false}
	for i := range want {
		if bits[i] != want[i] {
			t.Errorf("bit %d = %v, want %v", i, bits[i], want[i])
		}
	}
	if got := GetByteFromBits(bits, 2, 8); got != 0xA5 {
		t.Errorf("GetByteFromBits() = %#x, want 0xa5", got)
	}
	if got := GetByteFromBits(bits, 2, 12); got != 0xA5 {
		t.Errorf("GetByteFromBits() with 12 bits = %#x, want 0xa5", got)
	}
	if got := GetByteFromBits(bits, 2, 3); got != 0x05 {
		t.Errorf("GetByteFromBits() with 3 bits = %#x, want 0x05", got)
	}

	coils := make([]bool, 10)
	SetBitsFromBytes(coils, 0, 10, []byte{0xCD, 0x01})
	var packed []byte
	for pos := 0; pos < len(coils); pos += 8 {
		packed = append(packed, GetByteFromBits(coils, pos, min(8, len(coils)-pos)))
	}
	if packed[0] != 0xCD || packed[1] != 0x01 {
		t.Errorf("repacked % X, want CD 01", packed)
	}
}

func TestFloat(t *testing.T) {
	regs := WriteFloat(1.5)
	// 1.5 is 0x3FC00000.
	if regs != [2]uint16{0x0000, 0x3FC0} {
		t.Errorf("WriteFloat(1.5) = %#x", regs)
	}
	for _, f := range []float32{0, -2.25, 3.1415927, math.MaxFloat32} {
		if got := ReadFloat(WriteFloat(f)); got != f {
			t.Errorf("ReadFloat(WriteFloat(%v)) = %v", f, got)
		}
	}
}
