package slab

import (
	"testing"

	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/pagealloc"
)

type widget struct {
	tag   int
	ready bool
}

func TestAllocRunsCtorOncePerSlab(t *testing.T) {
	pages := pagealloc.New(4 * constants.PageSize)
	ctorCalls := 0
	c := New(pages, func(w *widget) {
		ctorCalls++
		w.ready = true
	}, nil)

	first := c.Alloc()
	if !first.ready {
		t.Fatal("ctor should have run before first Alloc returned")
	}
	if ctorCalls == 0 {
		t.Fatal("expected ctor to run at least once")
	}
	afterFirstGrowth := ctorCalls

	// Draining the rest of the first slab must not invoke ctor again.
	for i := 1; i < c.objectsPerSlab(); i++ {
		if obj := c.Alloc(); obj == nil {
			t.Fatalf("Alloc %d of the first slab returned nil", i)
		}
	}
	if ctorCalls != afterFirstGrowth {
		t.Fatalf("ctor ran %d more times while draining the first slab", ctorCalls-afterFirstGrowth)
	}
}

func TestFreeRunsDtorAndAllowsReuse(t *testing.T) {
	pages := pagealloc.New(4 * constants.PageSize)
	dtorCalls := 0
	c := New(pages, nil, func(w *widget) {
		dtorCalls++
		w.tag = -1
	})

	obj := c.Alloc()
	obj.tag = 42
	c.Free(obj)
	if dtorCalls != 1 {
		t.Fatalf("expected 1 dtor call, got %d", dtorCalls)
	}
	if obj.tag != -1 {
		t.Fatalf("dtor should have reset tag, got %d", obj.tag)
	}

	reused := c.Alloc()
	if reused != obj {
		t.Fatal("expected LIFO reuse of the just-freed object")
	}
}

func TestInUseTracksOutstandingAllocations(t *testing.T) {
	pages := pagealloc.New(4 * constants.PageSize)
	c := New[widget](pages, nil, nil)

	a := c.Alloc()
	b := c.Alloc()
	if got := c.InUse(); got != 2 {
		t.Fatalf("expected 2 in use, got %d", got)
	}
	c.Free(a)
	if got := c.InUse(); got != 1 {
		t.Fatalf("expected 1 in use after one free, got %d", got)
	}
	c.Free(b)
	if got := c.InUse(); got != 0 {
		t.Fatalf("expected 0 in use after both freed, got %d", got)
	}
}

func TestAllocReturnsNilWhenPagesExhausted(t *testing.T) {
	pages := pagealloc.New(0)
	c := New[widget](pages, nil, nil)
	if got := c.Alloc(); got != nil {
		t.Fatalf("expected nil from an allocator with no backing pages, got %v", got)
	}
}
