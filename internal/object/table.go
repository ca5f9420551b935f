package object

import (
	"sync"

	"github.com/jinuekernel/jinue/internal/abi"
	"github.com/jinuekernel/jinue/internal/errno"
)

// Table is one process's descriptor table: a fixed array of slots,
// each independently lockable conceptually but in practice guarded by
// one table-wide lock, matching spec.md §4.4's "under the table lock"
// phrasing for every operation except the hooks explicitly called
// outside it.
type Table struct {
	mu   sync.Mutex
	slot []Descriptor
}

// NewTable creates a descriptor table with the given number of slots,
// all initially FREE.
func NewTable(size int) *Table {
	return &Table{slot: make([]Descriptor, size)}
}

func (t *Table) valid(fd int) bool {
	return fd >= 0 && fd < len(t.slot)
}

// Reserve race-freely preallocates a slot before installing an object,
// per spec.md §4.4: under the lock, FREE -> RESERVED, else EBADF.
func (t *Table) Reserve(fd int) errno.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(fd) || t.slot[fd].State != abi.StateFree {
		return errno.EBADF
	}
	t.slot[fd].State = abi.StateReserved
	return errno.OK
}

// ReserveAny scans for a FREE slot and reserves the first one found,
// for callers that don't care which descriptor number they land on
// (the AutoReserve convention of spec.md §6). Returns EBADF if the
// table has no FREE slot left.
func (t *Table) ReserveAny() (int, errno.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd := range t.slot {
		if t.slot[fd].State == abi.StateFree {
			t.slot[fd].State = abi.StateReserved
			return fd, errno.OK
		}
	}
	return -1, errno.EBADF
}

// Open stores the descriptor contents into a RESERVED slot, flips it
// to OPEN, and calls the object type's Open hook without the table
// lock held (spec.md §4.4: "without the table lock held" — the hook
// may itself touch the table, e.g. to dereference the owning process).
// The new descriptor holds its own reference on the object for as long
// as it stays OPEN, independent of any transient Dereference/Unreference
// borrow a syscall handler takes out meanwhile (spec.md §3: "ref-count
// strictly positive while reachable from any descriptor").
func (t *Table) Open(fd int, obj Object, flags uint32, cookie uintptr) errno.Errno {
	t.mu.Lock()
	if !t.valid(fd) || t.slot[fd].State != abi.StateReserved {
		t.mu.Unlock()
		return errno.EBADF
	}
	t.slot[fd] = Descriptor{State: abi.StateOpen, Object: obj, Flags: flags, Cookie: cookie}
	t.mu.Unlock()

	obj.addRef()
	obj.Open(&t.slot[fd])
	return errno.OK
}

// Dereference returns a snapshot of an OPEN descriptor, bumping the
// object's refcount. The caller must call Unreference when done.
// Mirrors spec.md §4.4's dereference: FREE/RESERVED -> EBADF,
// DESTROYED -> EIO; if the object itself is already marked destroyed,
// the descriptor is flipped to DESTROYED, the type's Close hook runs,
// and EIO is returned.
func (t *Table) Dereference(fd int) (Snapshot, errno.Errno) {
	t.mu.Lock()
	if !t.valid(fd) {
		t.mu.Unlock()
		return Snapshot{}, errno.EBADF
	}
	switch t.slot[fd].State {
	case abi.StateFree, abi.StateReserved:
		t.mu.Unlock()
		return Snapshot{}, errno.EBADF
	case abi.StateDestroyed:
		t.mu.Unlock()
		return Snapshot{}, errno.EIO
	}

	d := &t.slot[fd]
	if d.Object.destroyed() {
		obj := d.Object
		d.State = abi.StateDestroyed
		t.mu.Unlock()
		obj.Close(d)
		return Snapshot{}, errno.EIO
	}

	d.Object.addRef()
	snap := Snapshot{Object: d.Object, Flags: d.Flags, Cookie: d.Cookie}
	t.mu.Unlock()
	return snap, errno.OK
}

// Unreference releases a reference obtained via Dereference, freeing
// the object's storage if the refcount reaches zero.
func (t *Table) Unreference(obj Object) {
	if obj.release() == 0 {
		obj.Free()
	}
}

// Close releases a descriptor: under the lock, OPEN or DESTROYED are
// the only valid states (else EBADF); the slot is cleared to FREE and
// the lock released before the type's Close hook runs, and only if the
// copied state was OPEN (spec.md §4.4). Either way the reference Open
// took out on install is released here, and the object's storage is
// freed once that reference reaches zero — the descriptor's reference
// is the one durable floor on the count; Dereference/Unreference only
// ever add a transient borrow on top of it for the duration of one
// syscall.
func (t *Table) Close(fd int) errno.Errno {
	t.mu.Lock()
	if !t.valid(fd) {
		t.mu.Unlock()
		return errno.EBADF
	}
	state := t.slot[fd].State
	if state != abi.StateOpen && state != abi.StateDestroyed {
		t.mu.Unlock()
		return errno.EBADF
	}
	rec := t.slot[fd]
	t.slot[fd] = Descriptor{}
	t.mu.Unlock()

	if state == abi.StateOpen {
		rec.Object.Close(&rec)
	}
	if rec.Object.release() == 0 {
		rec.Object.Free()
	}
	return errno.OK
}

// Entry describes one descriptor-table slot for inspection tooling
// (cmd/jinue-console's `inspect` subcommand): the slot number, its
// state, and, for an OPEN slot, the kind of object it refers to.
type Entry struct {
	FD    int
	State abi.DescriptorState
	Kind  abi.ObjectKind
}

// Entries snapshots every non-FREE slot in the table, for display
// purposes only: it does not bump any object's refcount, and an Entry
// carries no object pointer, only the slot's state and object kind.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for fd, d := range t.slot {
		if d.State == abi.StateFree {
			continue
		}
		e := Entry{FD: fd, State: d.State}
		if d.Object != nil {
			e.Kind = d.Object.Kind()
		}
		out = append(out, e)
	}
	return out
}

// Destroy flips the underlying object's destroyed flag so every other
// descriptor onto it observes EIO on next Dereference, then runs the
// type's Destroy hook to abort in-flight operations (spec.md §4.4).
func (t *Table) Destroy(fd int) errno.Errno {
	t.mu.Lock()
	if !t.valid(fd) || t.slot[fd].State != abi.StateOpen {
		t.mu.Unlock()
		return errno.EBADF
	}
	obj := t.slot[fd].Object
	t.mu.Unlock()

	obj.markDestroyed()
	obj.Destroy()
	return errno.OK
}
