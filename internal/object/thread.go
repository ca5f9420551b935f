package object

import "github.com/jinuekernel/jinue/internal/abi"

// Thread is the thread object kind (spec.md §3): bound to one owning
// process for its entire life. Scheduling state (READY/RUNNING/
// BLOCKED/ZOMBIE) lives in internal/sched, not here; Thread only
// carries what the descriptor subsystem needs plus the hooks
// internal/sched and internal/proc install.
type Thread struct {
	Header
	Owner *Process

	// OnDestroy wakes a thread blocked joining this one, with exit
	// status -1; an IPC wait this thread is itself in is not aborted.
	// Set by internal/sched when the thread is constructed.
	OnDestroy func()
	// OnFree returns the thread's storage (kernel stack, message
	// buffer) to its slab cache; set by internal/proc.
	OnFree func()
}

// NewThread creates a thread object bound to owner.
func NewThread(owner *Process) *Thread {
	return &Thread{Owner: owner}
}

func (t *Thread) Kind() abi.ObjectKind { return abi.KindThread }

func (t *Thread) AllPermissions() uint32 {
	return abi.PermThreadStart | abi.PermThreadJoin
}

func (t *Thread) Open(d *Descriptor) {}

func (t *Thread) Close(d *Descriptor) {}

func (t *Thread) Destroy() {
	if t.OnDestroy != nil {
		t.OnDestroy()
	}
}

func (t *Thread) Free() {
	if t.OnFree != nil {
		t.OnFree()
	}
}
