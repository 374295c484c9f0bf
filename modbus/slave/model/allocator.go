// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"fmt"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// Region is a block of zeroed memory backing one address space.
type Region struct {
	data    []byte
	release func() error
}

// Bytes returns the region as bytes.
func (r *Region) Bytes() []byte {
	return r.data
}

// Words returns the region as 16-bit words in host byte order.
func (r *Region) Words() []uint16 {
	if len(r.data) < 2 {
		return []uint16{}
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&r.data[0])), len(r.data)/2)
}

// Release returns the memory. Releasing twice is a no-op.
func (r *Region) Release() error {
	if r.release == nil {
		return nil
	}
	release := r.release
	r.release = nil
	r.data = nil
	return release()
}

// Allocator provides the memory behind a Map.
type Allocator interface {
	Allocate(n int) (*Region, error)
}

// NewAllocator returns the allocator registered under name: "heap" (or
// empty) and "mmap".
func NewAllocator(name string) (Allocator, error) {
	switch name {
	case "", "heap":
		return HeapAllocator{}, nil
	case "mmap":
		return MmapAllocator{}, nil
	}
	return nil, fmt.Errorf("unknown allocator %q", name)
}

// HeapAllocator allocates regions on the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Allocate(n int) (*Region, error) {
	// uint16 backing keeps word views aligned.
	words := make([]uint16, (n+1)/2)
	if len(words) == 0 {
		return &Region{data: []byte{}}, nil
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
	return &Region{data: data, release: func() error { return nil }}, nil
}

// MmapAllocator allocates regions from anonymous memory mappings, outside
// the Go heap. Regions must be released to return the memory.
type MmapAllocator struct{}

func (MmapAllocator) Allocate(n int) (*Region, error) {
	if n == 0 {
		return &Region{data: []byte{}}, nil
	}
	data, err := mmap.MapRegion(nil, n, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return &Region{data: data, release: data.Unmap}, nil
}
