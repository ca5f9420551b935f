// Package object implements the kernel's object and descriptor
// subsystem (spec.md §4.4): reference-counted typed objects reachable
// only through per-process descriptor tables whose entries carry
// permissions and a cookie.
//
// spec.md §9 explicitly redesigns the original's per-kind
// function-pointer table into static dispatch: each object kind
// (Process, Thread, Endpoint) is its own Go type implementing the
// Object interface, and a type switch (or the interface call itself)
// replaces the original's function-pointer lookup. Table.Open and
// Table.Close follow a validate-under-lock, mutate, release-lock,
// run-hook-outside-the-lock shape, so each hook can itself touch the
// table (e.g. to dereference the owning process) without deadlocking.
package object

import (
	"sync/atomic"

	"github.com/jinuekernel/jinue/internal/abi"
)

// Object is implemented by every kind a descriptor can refer to.
// AllPermissions returns the valid permission bitmask for this kind.
// Open/Close mirror a descriptor binding/unbinding from the object;
// Close may mark the object destroyed (e.g. an endpoint with no
// remaining receivers). Destroy aborts in-flight operations and must
// be idempotent. Free returns the object's storage once the last
// descriptor referencing it is gone.
type Object interface {
	Kind() abi.ObjectKind
	AllPermissions() uint32
	Open(d *Descriptor)
	Close(d *Descriptor)
	Destroy()
	Free()

	addRef() uint32
	release() uint32
	destroyed() bool
	markDestroyed()
}

// Header is embedded by every concrete object kind; it carries the
// refcount and destroyed flag common to all of them.
type Header struct {
	refs    int32
	isDead  int32
}

func (h *Header) addRef() uint32 {
	return uint32(atomic.AddInt32(&h.refs, 1))
}

func (h *Header) release() uint32 {
	return uint32(atomic.AddInt32(&h.refs, -1))
}

func (h *Header) destroyed() bool {
	return atomic.LoadInt32(&h.isDead) != 0
}

func (h *Header) markDestroyed() {
	atomic.StoreInt32(&h.isDead, 1)
}

// Descriptor is one process's binding to an Object: the object it
// refers to, the permission flags attenuated at mint/dup time, and an
// opaque cookie echoed back to IPC receivers for capability-style
// pattern matching.
type Descriptor struct {
	State  abi.DescriptorState
	Object Object
	Flags  uint32
	Cookie uintptr
}

// Snapshot is the value dereference returns: a copy of a descriptor's
// contents, valid only while the caller holds the reference it implies
// and must release with Table.Unreference.
type Snapshot struct {
	Object Object
	Flags  uint32
	Cookie uintptr
}
