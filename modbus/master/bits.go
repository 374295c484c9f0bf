// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import "math"

// SetBitsFromByte unpacks the eight bits of value, least significant first,
// into dest[address:address+8].
func SetBitsFromByte(dest []bool, address int, value byte) {
	for i := 0; i < 8; i++ {
		dest[address+i] = value&(1<<i) != 0
	}
}

// SetBitsFromBytes unpacks nbBits bits of src into dest starting at
// address. Bits are taken least significant first, byte after byte, the
// way coil and discrete input states travel on the wire.
func SetBitsFromBytes(dest []bool, address, nbBits int, src []byte) {
	for i := 0; i < nbBits; i++ {
		dest[address+i] = src[i/8]&(1<<(i%8)) != 0
	}
}

// GetByteFromBits packs up to eight bits of src starting at address into a
// byte, the first bit landing in the least significant position.
func GetByteFromBits(src []bool, address, nbBits int) byte {
	if nbBits > 8 {
		nbBits = 8
	}
	var value byte
	for i := 0; i < nbBits; i++ {
		if src[address+i] {
			value |= 1 << i
		}
	}
	return value
}

// ReadFloat assembles a float from two registers, low word first.
func ReadFloat(src [2]uint16) float32 {
	return math.Float32frombits(uint32(src[1])<<16 | uint32(src[0]))
}

// WriteFloat splits a float into two registers, low word first.
func WriteFloat(f float32) [2]uint16 {
	bits := math.Float32bits(f)
	return [2]uint16{uint16(bits), uint16(bits >> 16)}
}
