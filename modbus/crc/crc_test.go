// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import (
	"bytes"
	"errors"
	"math/bits"
	"testing"

	"github.com/ffutop/modbus-tool/modbus"
	"github.com/sigurn/crc16"
)

func TestCRC(t *testing.T) {
	var crc CRC
	crc.Reset()
	crc.PushBytes([]byte{0x02, 0x07})

	if crc.Value() != 0x4112 {
		t.Fatalf("crc expected %v, actual %v", 0x4112, crc.Value())
	}
}

func TestAppend(t *testing.T) {
	// Read holding registers, slave 1, address 0, quantity 2.
	frame := Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02})
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	if !bytes.Equal(frame, want) {
		t.Fatalf("Append() = % X, want % X", frame, want)
	}
	n, err := Verify(frame)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if n != len(frame) {
		t.Errorf("Verify() = %d, want %d", n, len(frame))
	}
}

func TestChecksumMatchesReference(t *testing.T) {
	table := crc16.MakeTable(crc16.CRC16_MODBUS)
	inputs := [][]byte{
		{},
		{0x00},
		{0x02, 0x07},
		{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03},
		bytes.Repeat([]byte{0xA5, 0x5A}, 120),
	}
	for _, in := range inputs {
		// The reference reports the checksum as a number whose low byte is
		// transmitted first.
		want := bits.ReverseBytes16(crc16.Checksum(in, table))
		if got := Checksum(in); got != want {
			t.Errorf("Checksum(% X) = %04X, want %04X", in, got, want)
		}
	}
}

func TestVerifySingleBitFlip(t *testing.T) {
	frames := [][]byte{
		{0x01, 0x05, 0x00, 0xAC, 0xFF, 0x00},
		{0x11, 0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02},
	}
	for _, payload := range frames {
		frame := Append(append([]byte(nil), payload...))
		if _, err := Verify(frame); err != nil {
			t.Fatalf("Verify(% X) failed: %v", frame, err)
		}
		for i := 0; i < len(frame)*8; i++ {
			flipped := append([]byte(nil), frame...)
			flipped[i/8] ^= 1 << uint(i%8)
			if _, err := Verify(flipped); !errors.Is(err, modbus.ErrInvalidCRC) {
				t.Fatalf("bit %d flipped in % X: err = %v, want ErrInvalidCRC", i, frame, err)
			}
		}
	}
}

func TestVerifyShortFrame(t *testing.T) {
	if _, err := Verify([]byte{0x01}); !errors.Is(err, modbus.ErrInvalidCRC) {
		t.Errorf("Verify() on 1 byte: err = %v, want ErrInvalidCRC", err)
	}
}
