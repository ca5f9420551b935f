// Package pagealloc implements the kernel's physical page frame
// allocator (spec.md §4.1): an O(1) LIFO freelist threaded through
// page-sized regions of a backing arena, plus the user-visible
// donate/reclaim operations.
//
// Grounded on go-ublk's backend/mem.go Memory backend: that type
// sharded a byte arena under per-region locks to let concurrent
// queues touch disjoint regions without contending a single mutex.
// Here the arena is not sharded: one allocator-wide mutex guards the
// whole physical frame freelist.
package pagealloc

import (
	"sync"

	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/interfaces"
)

// Page is a physical frame number: Page*PageSize is the physical address.
type Page uint32

// NonePage is the sentinel returned when the allocator is exhausted.
const NonePage Page = ^Page(0)

// Allocator owns a freelist of page-sized frames carved out of a fixed
// arena. Free pages are linked intrusively: the first 4 bytes of a
// free page hold the index of the next free page (or NonePage).
type Allocator struct {
	mu       sync.Mutex
	arena    []byte
	pageSize int
	free     Page
	count    int // number of currently-free pages
	obs      interfaces.Observer
}

// SetObserver attaches obs so every allocation attempt (successful or
// exhausted) is reported to it; nil disables reporting.
func (a *Allocator) SetObserver(obs interfaces.Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.obs = obs
}

// New creates an allocator over an arena of the given size in bytes,
// rounded down to a whole number of pages, with every page initially
// free and linked into the freelist in order.
func New(arenaBytes int) *Allocator {
	pageSize := constants.PageSize
	numPages := arenaBytes / pageSize
	a := &Allocator{
		arena:    make([]byte, numPages*pageSize),
		pageSize: pageSize,
		free:     NonePage,
	}
	for i := numPages - 1; i >= 0; i-- {
		a.pushLocked(Page(i))
	}
	return a
}

func (a *Allocator) pageBytes(p Page) []byte {
	off := int(p) * a.pageSize
	return a.arena[off : off+a.pageSize]
}

func (a *Allocator) nextLink(p Page) Page {
	b := a.pageBytes(p)
	return Page(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

func (a *Allocator) setNextLink(p, next Page) {
	b := a.pageBytes(p)
	b[0] = byte(next)
	b[1] = byte(next >> 8)
	b[2] = byte(next >> 16)
	b[3] = byte(next >> 24)
}

func (a *Allocator) pushLocked(p Page) {
	a.setNextLink(p, a.free)
	a.free = p
	a.count++
}

func (a *Allocator) popLocked() Page {
	if a.free == NonePage {
		return NonePage
	}
	p := a.free
	a.free = a.nextLink(p)
	a.setNextLink(p, 0) // a popped page carries no freelist link
	a.count--
	return p
}

// Alloc removes and returns one free page, or NonePage if none remain.
func (a *Allocator) Alloc() Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.popLocked()
	if a.obs != nil {
		a.obs.ObservePageAlloc(p != NonePage)
	}
	return p
}

// Free returns a page to the freelist. The caller must not touch the
// page again until a subsequent Alloc returns it.
func (a *Allocator) Free(p Page) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushLocked(p)
}

// Count returns the number of currently free pages.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// zeroFill clears a page's contents. Donate zero-fills to neutralize
// any content a userspace donor chose to leave behind; Reclaim
// zero-fills so a new owner never observes a prior owner's data.
func (a *Allocator) zeroFill(p Page) {
	b := a.pageBytes(p)
	for i := range b {
		b[i] = 0
	}
}

// Bytes returns the backing storage for a page, for callers (e.g.
// internal/vm) that need to read or write frame contents directly.
func (a *Allocator) Bytes(p Page) []byte {
	return a.pageBytes(p)
}

// PageSize returns the allocator's page size in bytes.
func (a *Allocator) PageSize() int {
	return a.pageSize
}

// Donate accepts a userspace-supplied page into the allocator: it is
// zero-filled and pushed onto the freelist. Mirrors spec.md §4.1's
// donate(kernel_paddr) -> bool, simplified to operate on an already
// kernel-resident Page: nothing here maps the page into the kernel's
// mapping area.
func (a *Allocator) Donate(p Page) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(p)*a.pageSize >= len(a.arena) {
		return false
	}
	a.zeroFill(p)
	a.pushLocked(p)
	return true
}

// Reclaim pops a page, zero-fills it, and hands it back to the
// caller for unmapping — mirroring spec.md §4.1's
// reclaim() -> kernel_paddr | NONE.
func (a *Allocator) Reclaim() (Page, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.popLocked()
	if a.obs != nil {
		a.obs.ObservePageAlloc(p != NonePage)
	}
	if p == NonePage {
		return NonePage, false
	}
	a.zeroFill(p)
	return p, true
}
