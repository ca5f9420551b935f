// Package slab implements the kernel's slab allocator (spec.md §4.2):
// a per-type cache of fixed-size objects, backed by the page
// allocator, that runs a constructor once per slab growth rather than
// once per allocation.
//
// One Cache exists per object type rather than per byte-size class.
// The constructor runs over every object of a slab when the slab is
// grown, instead of assuming a zero-value bucket is always ready to
// hand out; the destructor runs on each Free. Free objects of all
// slabs share one freelist; there are no empty/partial/full slab lists.
package slab

import (
	"sync"
	"unsafe"

	"github.com/jinuekernel/jinue/internal/pagealloc"
)

// Cache is a fixed-size-object allocator for objects of type T, backed
// by a *pagealloc.Allocator for its storage.
type Cache[T any] struct {
	mu    sync.Mutex
	pages *pagealloc.Allocator
	ctor  func(*T)
	dtor  func(*T)

	perSlab int
	free    []*T // free-object freelist across all partial/empty slabs
	slabs   [][]T // backing storage per slab, kept so slabs aren't GC'd early
}

// New creates a cache of objects of type T. ctor is invoked once for
// every object in a newly grown slab (not once per Alloc); dtor is
// invoked when an object is returned via Free, mirroring the slab
// ctor/dtor hooks of spec.md §4.2. Either may be nil.
func New[T any](pages *pagealloc.Allocator, ctor, dtor func(*T)) *Cache[T] {
	return &Cache[T]{pages: pages, ctor: ctor, dtor: dtor}
}

// objectsPerSlab computes how many T fit in one page, at least one.
func (c *Cache[T]) objectsPerSlab() int {
	if c.perSlab > 0 {
		return c.perSlab
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		size = 1
	}
	n := c.pages.PageSize() / size
	if n < 1 {
		n = 1
	}
	c.perSlab = n
	return n
}

// grow allocates a new slab (one page's worth of objects), runs ctor
// over every new object once, and pushes them onto the freelist. It
// does not itself consume a page-allocator frame for bookkeeping
// separate from the objects: the objects live in ordinary Go memory
// sized to mirror one page's capacity, while a page is still debited
// from the allocator to account for the slab's footprint, matching
// the spec's backed-by-the-page-allocator contract.
func (c *Cache[T]) grow() bool {
	if c.pages.Alloc() == pagealloc.NonePage {
		return false
	}
	n := c.objectsPerSlab()
	slab := make([]T, n)
	c.slabs = append(c.slabs, slab)
	for i := range slab {
		if c.ctor != nil {
			c.ctor(&slab[i])
		}
		c.free = append(c.free, &slab[i])
	}
	return true
}

// Alloc returns a zero-or-constructed object of type T, growing the
// cache by one slab if no partial slab has room. Returns nil if the
// page allocator is exhausted.
func (c *Cache[T]) Alloc() *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.free) == 0 {
		if !c.grow() {
			return nil
		}
	}
	n := len(c.free) - 1
	obj := c.free[n]
	c.free = c.free[:n]
	return obj
}

// Free runs the destructor (if any) and returns the object to the
// cache's freelist for reuse; it does not return the slab's page to
// the page allocator (slabs are retained for the cache's lifetime,
// matching spec.md §4.2's "no size classes, no per-object teardown").
func (c *Cache[T]) Free(obj *T) {
	if obj == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dtor != nil {
		c.dtor(obj)
	}
	c.free = append(c.free, obj)
}

// InUse returns the number of objects currently allocated out of the
// cache, for diagnostics and tests.
func (c *Cache[T]) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, s := range c.slabs {
		total += len(s)
	}
	return total - len(c.free)
}
