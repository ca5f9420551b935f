// Package proc implements process and thread construction (spec.md
// §4.7): allocating the backing storage for a process or thread,
// wiring it to a fresh address space or kernel-stack page, and
// unwinding that allocation cleanly if any step fails.
//
// Grounded on go-ublk's backend.go CreateAndServe: that function
// builds a controller, adds a device, sets its parameters, and spins
// up N queue runners, tearing down whatever was already built the
// moment any step fails rather than leaving a half-constructed device
// registered. Process construction follows the same shape: allocate
// the process's slab storage, give it an address space, and return the
// slab slot on any failure instead of leaving a dangling half-process.
package proc

import (
	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/errno"
	"github.com/jinuekernel/jinue/internal/object"
	"github.com/jinuekernel/jinue/internal/pagealloc"
	"github.com/jinuekernel/jinue/internal/sched"
	"github.com/jinuekernel/jinue/internal/slab"
	"github.com/jinuekernel/jinue/internal/vm"
)

// Process is a constructed process: the descriptor-subsystem object,
// its address space, and the physical frame backing its top-level
// paging structure (the simulator's stand-in for a page directory).
type Process struct {
	*object.Process
	Space   *vm.AddressSpace
	pdFrame pagealloc.Page
}

// Thread is a constructed thread: the scheduler-facing object plus the
// bookkeeping spec.md §4.7 describes being written into the trap frame
// at start_thread time, and the physical page reserved for its kernel
// stack and control block.
type Thread struct {
	*sched.Thread
	Owner      *Process
	StackPage  pagealloc.Page
	EntryPoint uintptr
	StackPtr   uintptr
	TLSAddr    uintptr
	TLSSize    uintptr

	// MsgBuffer is the thread's own IPC staging area: the dispatcher
	// reads a send's outgoing payload from it and, for the generic send
	// path, writes an eventual reply back into it in place, standing in
	// for the full scatter/gather buffer lists spec.md §3's message
	// descriptor describes (the four-register ABI has no room left to
	// pass an arbitrary iovec list once fd, addr, and size are spent).
	MsgBuffer []byte
}

// Subsystem owns the slab caches process and thread construction
// allocates from, plus the scheduler and address-space machine they're
// wired into.
type Subsystem struct {
	sched   *sched.Scheduler
	vmSpace *vm.Space
	pages   *pagealloc.Allocator

	processes *slab.Cache[Process]
	threads   *slab.Cache[Thread]
}

// New creates a construction subsystem bound to the given scheduler,
// address-space machine, and physical page allocator.
func New(s *sched.Scheduler, vmSpace *vm.Space, pages *pagealloc.Allocator) *Subsystem {
	sub := &Subsystem{sched: s, vmSpace: vmSpace, pages: pages}
	sub.processes = slab.New[Process](pages, nil, func(p *Process) { *p = Process{} })
	sub.threads = slab.New[Thread](pages, nil, func(t *Thread) { *t = Thread{} })
	return sub
}

// ConstructProcess allocates a process, giving it a descriptor table
// of the given size (every slot FREE) and a fresh address space
// (spec.md §4.7). If the page-directory-equivalent frame can't be
// allocated, the partial process is returned to the slab and ENOMEM is
// reported, rather than leaving a half-built process reachable.
func (sub *Subsystem) ConstructProcess(descriptorTableSize int) (*Process, errno.Errno) {
	p := sub.processes.Alloc()
	if p == nil {
		return nil, errno.ENOMEM
	}

	pd := sub.pages.Alloc()
	if pd == pagealloc.NonePage {
		sub.processes.Free(p)
		return nil, errno.ENOMEM
	}

	p.Process = object.NewProcess(descriptorTableSize)
	p.Space = sub.vmSpace.Create()
	p.pdFrame = pd
	p.Process.OnFree = func() {
		p.Space.Destroy()
		sub.pages.Free(p.pdFrame)
		sub.processes.Free(p)
	}
	return p, errno.OK
}

// ConstructThread allocates the thread's backing page — the "thread
// page" spec.md §4.7 describes holding the control block at its low
// end and an embedded kernel stack above it — and a ZOMBIE, unstarted
// scheduler thread bound to owner. entry is the thread's eventual
// body; it does not run until StartThread readies the thread, mirroring
// "leaves the thread in ZOMBIE/unstarted."
func (sub *Subsystem) ConstructThread(owner *Process, entry func()) (*Thread, errno.Errno) {
	t := sub.threads.Alloc()
	if t == nil {
		return nil, errno.ENOMEM
	}

	stack := sub.pages.Alloc()
	if stack == pagealloc.NonePage {
		sub.threads.Free(t)
		return nil, errno.ENOMEM
	}

	t.Thread = sub.sched.NewThread(owner.Process, entry)
	t.Owner = owner
	t.StackPage = stack
	t.MsgBuffer = make([]byte, constants.MaxMessageSize)
	t.Thread.OnFree = func() {
		sub.pages.Free(t.StackPage)
		sub.threads.Free(t)
	}
	return t, errno.OK
}

// StartThread is spec.md §4.7's start_thread: records the entry point
// and initial stack pointer the real kernel would write into the
// thread's trap frame, then readies the thread for scheduling.
func (sub *Subsystem) StartThread(t *Thread, entryPoint, stackPtr uintptr) errno.Errno {
	t.EntryPoint = entryPoint
	t.StackPtr = stackPtr
	return sub.sched.StartThread(t.Thread)
}

// SetThreadLocal records TLS bounds for t. A real i686 kernel rewrites
// a dedicated GDT segment so %gs resolves to this region; this
// simulator has no segment registers to reprogram, so it keeps only
// the bookkeeping a descriptor-level TLS query would need.
func (sub *Subsystem) SetThreadLocal(t *Thread, addr, size uintptr) {
	t.TLSAddr = addr
	t.TLSSize = size
}
