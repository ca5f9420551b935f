package object

import (
	"sync/atomic"

	"github.com/jinuekernel/jinue/internal/abi"
)

// Process is the process object kind (spec.md §3): header, its own
// descriptor table, and an atomic running-thread count. When that
// count reaches zero the owning subsystem (internal/proc) destroys
// the process, closing every open descriptor.
type Process struct {
	Header
	Table         *Table
	runningThreads int32

	// OnFree returns the process's storage to its owning slab cache;
	// set by internal/proc at construction time.
	OnFree func()
}

// NewProcess creates a process object with a descriptor table of the
// given size, all slots initially FREE.
func NewProcess(descriptorTableSize int) *Process {
	return &Process{Table: NewTable(descriptorTableSize)}
}

func (p *Process) Kind() abi.ObjectKind { return abi.KindProcess }

func (p *Process) AllPermissions() uint32 {
	return abi.PermProcessCreateThread | abi.PermProcessMap | abi.PermProcessOpen
}

// Open is idempotent: binding another descriptor to an already-open
// process needs no extra bookkeeping here.
func (p *Process) Open(d *Descriptor) {}

// Close is idempotent and does not itself destroy the process:
// process lifetime is governed by RunningThreads reaching zero, not by
// descriptor refcounting.
func (p *Process) Close(d *Descriptor) {}

// Destroy closes every descriptor still open in the process's table,
// dropping a reference to whatever each one pointed at. Idempotent:
// closing an already-FREE slot is a no-op EBADF that Destroy ignores.
func (p *Process) Destroy() {
	for fd := range p.Table.slot {
		p.Table.Close(fd)
	}
}

// Free returns the process's storage to the slab it was allocated
// from.
func (p *Process) Free() {
	if p.OnFree != nil {
		p.OnFree()
	}
}

// IncRunningThreads records a new thread bound to this process.
func (p *Process) IncRunningThreads() int32 {
	return atomic.AddInt32(&p.runningThreads, 1)
}

// DecRunningThreads records a thread exiting; returns the new count.
// When it reaches zero the caller (internal/proc) destroys the process.
func (p *Process) DecRunningThreads() int32 {
	return atomic.AddInt32(&p.runningThreads, -1)
}

// RunningThreads returns the current running-thread count.
func (p *Process) RunningThreads() int32 {
	return atomic.LoadInt32(&p.runningThreads)
}
