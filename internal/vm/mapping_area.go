package vm

import (
	"sync"

	"github.com/jinuekernel/jinue/internal/constants"
)

// mappingAreaAllocator hands out whole-page virtual regions above
// KLimit for permanent kernel mappings (ACPI tables, local APIC MMIO,
// VGA text buffer remap), per spec.md §4.3. It only ever bumps
// forward: mapping-area regions are never reclaimed.
type mappingAreaAllocator struct {
	mu   sync.Mutex
	next Addr
}

func newMappingAreaAllocator(base Addr) *mappingAreaAllocator {
	return &mappingAreaAllocator{next: base}
}

// Reserve hands out a fresh virtual region of the given byte length,
// rounded up to a whole number of pages, and advances the bump
// pointer past it.
func (m *mappingAreaAllocator) Reserve(length uintptr) Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	pageSize := Addr(constants.PageSize)
	pages := (Addr(length) + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	base := m.next
	m.next += pages * pageSize
	return base
}

// ReserveMappingArea exposes the machine's mapping-area allocator to
// callers (device-memory and firmware-table mappers) needing a fresh
// kernel virtual range. It only reserves the range; installing a
// mapping there is left to the caller (via MapKernel).
func (s *Space) ReserveMappingArea(length uintptr) Addr {
	return s.mapArea.Reserve(length)
}
