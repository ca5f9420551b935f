package abi

import "encoding/binary"

// memoryRangeWireSize is the on-wire size of one MemoryRange entry:
// base, length (both machine words) plus a one-byte availability flag
// padded to a 4-byte-aligned frame, matching the ACPI-style
// address-range entries spec.md §6 describes.
const memoryRangeWireSize = 20

// MarshalMemoryMap packs a memory map the way GET_ADDRESS_MAP(buf,
// size) copies the discovered memory map out to userspace (spec.md
// §4.8). Entries that don't fit in cap bytes are silently dropped, the
// same truncate-not-overflow policy the kernel uses for bounded copies.
func MarshalMemoryMap(ranges []MemoryRange, cap int) []byte {
	maxEntries := cap / memoryRangeWireSize
	if maxEntries > len(ranges) {
		maxEntries = len(ranges)
	}
	buf := make([]byte, maxEntries*memoryRangeWireSize)
	for i := 0; i < maxEntries; i++ {
		off := i * memoryRangeWireSize
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(ranges[i].Base))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(ranges[i].Length))
		if ranges[i].Available {
			buf[off+16] = 1
		}
	}
	return buf
}

// UnmarshalMemoryMap is the inverse of MarshalMemoryMap, used by tests
// that exercise GET_ADDRESS_MAP end to end.
func UnmarshalMemoryMap(buf []byte) []MemoryRange {
	n := len(buf) / memoryRangeWireSize
	out := make([]MemoryRange, n)
	for i := 0; i < n; i++ {
		off := i * memoryRangeWireSize
		out[i] = MemoryRange{
			Base:      uintptr(binary.LittleEndian.Uint64(buf[off : off+8])),
			Length:    uintptr(binary.LittleEndian.Uint64(buf[off+8 : off+16])),
			Available: buf[off+16] != 0,
		}
	}
	return out
}

// MarshalRegisters packs the four-register calling convention into a
// 16-byte frame, used by the dispatcher's trace logging and by tests
// driving Dispatcher.Invoke from an encoded wire form.
func MarshalRegisters(r Registers) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], r.Fn)
	binary.LittleEndian.PutUint32(buf[4:8], r.Arg1)
	binary.LittleEndian.PutUint32(buf[8:12], r.Arg2)
	binary.LittleEndian.PutUint32(buf[12:16], r.Arg3)
	return buf
}

// UnmarshalRegisters is the inverse of MarshalRegisters.
func UnmarshalRegisters(buf []byte) Registers {
	return Registers{
		Fn:   binary.LittleEndian.Uint32(buf[0:4]),
		Arg1: binary.LittleEndian.Uint32(buf[4:8]),
		Arg2: binary.LittleEndian.Uint32(buf[8:12]),
		Arg3: binary.LittleEndian.Uint32(buf[12:16]),
	}
}
