package object

import (
	"github.com/jinuekernel/jinue/internal/abi"
	"github.com/jinuekernel/jinue/internal/errno"
)

// Mint creates a new descriptor in a possibly different process's
// table that refers to the same object as ownerFD, attenuating
// permissions to perms and attaching cookie (spec.md §4.4). ownerFD
// must be OPEN and carry OWNER; perms must be a non-empty subset of
// the object type's AllPermissions.
func (t *Table) Mint(ownerFD int, perms uint32, cookie uintptr, target *Table, targetFD int) errno.Errno {
	t.mu.Lock()
	if !t.valid(ownerFD) || t.slot[ownerFD].State != abi.StateOpen {
		t.mu.Unlock()
		return errno.EBADF
	}
	owner := t.slot[ownerFD]
	t.mu.Unlock()

	if owner.Flags&abi.PermOwner == 0 {
		return errno.EPERM
	}
	if perms == 0 || perms&^owner.Object.AllPermissions() != 0 {
		return errno.EINVAL
	}

	if rc := target.Reserve(targetFD); rc != errno.OK {
		return rc
	}
	return target.Open(targetFD, owner.Object, perms, cookie)
}

// MintAny behaves like Mint but auto-reserves the target slot instead
// of requiring the caller to name one (spec.md §6's AutoReserve
// convention), returning the slot it landed on. Needed by the
// dispatcher's mint syscall handler, whose register budget has no room
// left for an explicit target descriptor once ownerFD, perms, and
// cookie are accounted for.
func (t *Table) MintAny(ownerFD int, perms uint32, cookie uintptr, target *Table) (int, errno.Errno) {
	t.mu.Lock()
	if !t.valid(ownerFD) || t.slot[ownerFD].State != abi.StateOpen {
		t.mu.Unlock()
		return -1, errno.EBADF
	}
	owner := t.slot[ownerFD]
	t.mu.Unlock()

	if owner.Flags&abi.PermOwner == 0 {
		return -1, errno.EPERM
	}
	if perms == 0 || perms&^owner.Object.AllPermissions() != 0 {
		return -1, errno.EINVAL
	}

	targetFD, rc := target.ReserveAny()
	if rc != errno.OK {
		return -1, rc
	}
	if rc := target.Open(targetFD, owner.Object, perms, cookie); rc != errno.OK {
		return -1, rc
	}
	return targetFD, errno.OK
}

// Dup copies src from this table to dest in target, preserving flags
// and cookie (spec.md §4.4).
func (t *Table) Dup(src int, target *Table, dest int) errno.Errno {
	t.mu.Lock()
	if !t.valid(src) || t.slot[src].State != abi.StateOpen {
		t.mu.Unlock()
		return errno.EBADF
	}
	rec := t.slot[src]
	t.mu.Unlock()

	if rc := target.Reserve(dest); rc != errno.OK {
		return rc
	}
	return target.Open(dest, rec.Object, rec.Flags, rec.Cookie)
}

// DupAny behaves like Dup but auto-reserves the destination slot,
// returning the slot it landed on. Used by the dispatcher's dup
// syscall handler for the same register-budget reason as MintAny.
func (t *Table) DupAny(src int, target *Table) (int, errno.Errno) {
	t.mu.Lock()
	if !t.valid(src) || t.slot[src].State != abi.StateOpen {
		t.mu.Unlock()
		return -1, errno.EBADF
	}
	rec := t.slot[src]
	t.mu.Unlock()

	dest, rc := target.ReserveAny()
	if rc != errno.OK {
		return -1, rc
	}
	if rc := target.Open(dest, rec.Object, rec.Flags, rec.Cookie); rc != errno.OK {
		return -1, rc
	}
	return dest, errno.OK
}
