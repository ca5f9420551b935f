// Package vm implements the kernel's address-space and paging
// subsystem (spec.md §4.3): per-process virtual-to-physical mappings,
// a shared kernel half above KLimit, and the mapping-area bump
// allocator used for permanent kernel mappings.
//
// A real i686 kernel walks hardware page directories and page tables
// to answer these questions; this simulator keeps the same boundary
// (user half, shared kernel half, mapping area) but represents a page
// table as a synchronized map from virtual page number to physical
// frame, which is the part of an x86 MMU that matters to callers of
// this package, tracked under a lock the same way a process's mapped
// regions would be. Adapted from a single flat table to a
// per-address-space one plus the shared-kernel-half rule.
package vm

import (
	"sync"

	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/pagealloc"
)

// Addr is a virtual or physical address.
type Addr uintptr

// Prot is a page protection/permission bitmask.
type Prot uint32

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// Mapping describes one resident virtual page.
type Mapping struct {
	Frame pagealloc.Page
	Prot  Prot
}

// KLimit is the split address: [0, KLimit) is user, [KLimit, inf) is
// kernel and identical across every address space.
var KLimit = Addr(constants.KLimit)

func pageOf(a Addr) Addr {
	return a &^ Addr(constants.PageSize-1)
}

// kernelHalf holds the mappings shared by every address space above
// KLimit, simulating "point every top-level table at the same kernel
// page tables."
type kernelHalf struct {
	mu   sync.RWMutex
	maps map[Addr]Mapping
}

func newKernelHalf() *kernelHalf {
	return &kernelHalf{maps: make(map[Addr]Mapping)}
}

// AddressSpace is one process's paging hierarchy: a private user-half
// table plus a reference to the space-wide shared kernel half.
type AddressSpace struct {
	mu     sync.RWMutex
	pages  *pagealloc.Allocator
	user   map[Addr]Mapping
	kernel *kernelHalf
}

// Space owns the page allocator and kernel half shared by every
// address space it creates — the simulator's stand-in for "the
// machine" that all processes run inside.
type Space struct {
	pages      *pagealloc.Allocator
	kernel     *kernelHalf
	mapArea    *mappingAreaAllocator
	initial    *AddressSpace
	initialSet bool
	mu         sync.Mutex
}

// NewSpace creates the machine-wide state: a page allocator over the
// given arena, an empty shared kernel half, and a mapping-area
// allocator starting just above KLimit.
func NewSpace(pages *pagealloc.Allocator) *Space {
	return &Space{
		pages:   pages,
		kernel:  newKernelHalf(),
		mapArea: newMappingAreaAllocator(KLimit),
	}
}

// CreateInitial builds the first address space, from the "linked
// kernel image and boot page tables": in this simulator, an address
// space whose kernel half is the machine's shared kernel half, with no
// user mappings yet. Per spec.md §4.3, this is also where the
// mapping-area's backing range is conceptually carved out; NewSpace
// already reserved it, so CreateInitial only needs to mint the space.
func (s *Space) CreateInitial() *AddressSpace {
	s.mu.Lock()
	defer s.mu.Unlock()
	as := &AddressSpace{pages: s.pages, user: make(map[Addr]Mapping), kernel: s.kernel}
	s.initial = as
	s.initialSet = true
	return as
}

// Create allocates a new address space whose kernel half is installed
// by sharing the machine's kernel half map, so a MapKernel/UnmapKernel
// performed through any address space is visible from every other one
// immediately, mirroring "kernel mappings are identical in every
// address space" (spec.md §4.3). There is no PAE/non-PAE distinction
// at this level: both variants reduce to "share the same structure."
func (s *Space) Create() *AddressSpace {
	return &AddressSpace{pages: s.pages, user: make(map[Addr]Mapping), kernel: s.kernel}
}

// Destroy tears down only the user half: every mapped user frame is
// returned to the page allocator. The kernel half is shared machine
// state and must never be freed here.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va, m := range as.user {
		as.pages.Free(m.Frame)
		delete(as.user, va)
	}
}

// MapKernel installs a mapping visible from every address space,
// because it mutates the machine-wide shared kernel half rather than
// the caller's own user map.
func (as *AddressSpace) MapKernel(vaddr Addr, frame pagealloc.Page, prot Prot) {
	as.kernel.mu.Lock()
	defer as.kernel.mu.Unlock()
	as.kernel.maps[pageOf(vaddr)] = Mapping{Frame: frame, Prot: prot}
}

// UnmapKernel removes a shared kernel mapping, propagating to every
// address space that shares this kernel half.
func (as *AddressSpace) UnmapKernel(vaddr Addr) {
	as.kernel.mu.Lock()
	defer as.kernel.mu.Unlock()
	delete(as.kernel.maps, pageOf(vaddr))
}

// MapUser installs a user-half mapping private to this address space.
func (as *AddressSpace) MapUser(vaddr Addr, frame pagealloc.Page, prot Prot) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.user[pageOf(vaddr)] = Mapping{Frame: frame, Prot: prot}
}

// UnmapUser removes a user-half mapping without freeing its frame: the
// caller (internal/syscall's MMAP rollback) decides whether the frame
// should also be returned to the page allocator.
func (as *AddressSpace) UnmapUser(vaddr Addr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	delete(as.user, pageOf(vaddr))
}

// Lookup resolves a virtual address to its mapping, checking the user
// half first and falling back to the shared kernel half, mirroring a
// hardware page-table walk that finds whichever half vaddr falls in.
func (as *AddressSpace) Lookup(vaddr Addr) (Mapping, bool) {
	page := pageOf(vaddr)
	as.mu.RLock()
	m, ok := as.user[page]
	as.mu.RUnlock()
	if ok {
		return m, true
	}
	as.kernel.mu.RLock()
	defer as.kernel.mu.RUnlock()
	m, ok = as.kernel.maps[page]
	return m, ok
}

// LookupKernelPaddr resolves a kernel-half virtual address to its
// backing frame, looking only at the shared kernel half.
func (as *AddressSpace) LookupKernelPaddr(vaddr Addr) (pagealloc.Page, bool) {
	as.kernel.mu.RLock()
	defer as.kernel.mu.RUnlock()
	m, ok := as.kernel.maps[pageOf(vaddr)]
	if !ok {
		return pagealloc.NonePage, false
	}
	return m.Frame, true
}

// CloneRange is the engine behind mclone: for each mapped page in
// [srcAddr, srcAddr+len) it installs the same physical frame at the
// corresponding offset in [destAddr, destAddr+len) of dest, with the
// given protection. src and dest may be the same address space.
//
// Self-overlap is resolved by gathering the full source frame list
// before installing anything into dest, so a destination range that
// overlaps the still-unread tail of the source range never corrupts
// the copy (the documented resolution of spec.md §7's open question on
// mclone self-overlap).
func CloneRange(dest, src *AddressSpace, destAddr, srcAddr Addr, length uintptr, prot Prot) {
	pageSize := Addr(constants.PageSize)
	n := int((Addr(length) + pageSize - 1) / pageSize)

	type frame struct {
		ok bool
		f  pagealloc.Page
	}
	gathered := make([]frame, n)
	for i := 0; i < n; i++ {
		va := srcAddr + Addr(i)*pageSize
		if m, ok := src.Lookup(va); ok {
			gathered[i] = frame{ok: true, f: m.Frame}
		}
	}
	for i := 0; i < n; i++ {
		if !gathered[i].ok {
			continue
		}
		dest.MapUser(destAddr+Addr(i)*pageSize, gathered[i].f, prot)
	}
}
