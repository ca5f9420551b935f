package object

import (
	"testing"

	"github.com/jinuekernel/jinue/internal/abi"
	"github.com/jinuekernel/jinue/internal/errno"
)

func TestReserveOpenDereferenceClose(t *testing.T) {
	table := NewTable(8)
	ep := NewEndpoint()

	if rc := table.Reserve(3); rc != errno.OK {
		t.Fatalf("Reserve: got %v", rc)
	}
	if rc := table.Reserve(3); rc != errno.EBADF {
		t.Fatalf("double Reserve should EBADF, got %v", rc)
	}
	if rc := table.Open(3, ep, abi.PermEndpointReceive, 42); rc != errno.OK {
		t.Fatalf("Open: got %v", rc)
	}
	if ep.Receivers() != 1 {
		t.Fatalf("expected 1 receiver after open, got %d", ep.Receivers())
	}

	snap, rc := table.Dereference(3)
	if rc != errno.OK {
		t.Fatalf("Dereference: got %v", rc)
	}
	if snap.Cookie != 42 {
		t.Fatalf("expected cookie 42, got %d", snap.Cookie)
	}
	table.Unreference(snap.Object)

	if rc := table.Close(3); rc != errno.OK {
		t.Fatalf("Close: got %v", rc)
	}
	if ep.Receivers() != 0 {
		t.Fatalf("expected 0 receivers after close, got %d", ep.Receivers())
	}
	if !ep.destroyed() {
		t.Fatal("expected endpoint to be marked destroyed once its last receiver closed")
	}
}

func TestDereferenceOnFreeOrReservedIsEBADF(t *testing.T) {
	table := NewTable(4)
	if _, rc := table.Dereference(0); rc != errno.EBADF {
		t.Fatalf("expected EBADF on FREE slot, got %v", rc)
	}
	table.Reserve(0)
	if _, rc := table.Dereference(0); rc != errno.EBADF {
		t.Fatalf("expected EBADF on RESERVED slot, got %v", rc)
	}
}

func TestDereferenceOnDestroyedObjectFlipsSlotAndReturnsEIO(t *testing.T) {
	table := NewTable(4)
	ep := NewEndpoint()
	table.Reserve(0)
	table.Open(0, ep, abi.PermEndpointSend, 0)

	ep.markDestroyed()

	if _, rc := table.Dereference(0); rc != errno.EIO {
		t.Fatalf("expected EIO once object is destroyed, got %v", rc)
	}
	// Second dereference now sees the slot itself flipped to DESTROYED.
	if _, rc := table.Dereference(0); rc != errno.EIO {
		t.Fatalf("expected EIO from a DESTROYED slot, got %v", rc)
	}
}

func TestDestroyPropagatesEIOToOtherDescriptors(t *testing.T) {
	tableA := NewTable(4)
	tableB := NewTable(4)
	ep := NewEndpoint()

	tableA.Reserve(0)
	tableA.Open(0, ep, abi.PermOwner|abi.PermEndpointSend, 0)
	tableB.Reserve(0)
	tableB.Open(0, ep, abi.PermEndpointReceive, 0)

	if rc := tableA.Destroy(0); rc != errno.OK {
		t.Fatalf("Destroy: got %v", rc)
	}
	if _, rc := tableB.Dereference(0); rc != errno.EIO {
		t.Fatalf("expected EIO on the other process's descriptor, got %v", rc)
	}
}

func TestMintCreatesAttenuatedDescriptorInTargetTable(t *testing.T) {
	owner := NewTable(4)
	target := NewTable(4)
	ep := NewEndpoint()

	owner.Reserve(0)
	owner.Open(0, ep, abi.PermOwner|abi.PermEndpointSend|abi.PermEndpointReceive, 0)

	if rc := owner.Mint(0, abi.PermEndpointReceive, 99, target, 1); rc != errno.OK {
		t.Fatalf("Mint: got %v", rc)
	}
	snap, rc := target.Dereference(1)
	if rc != errno.OK {
		t.Fatalf("Dereference minted fd: got %v", rc)
	}
	if snap.Flags != abi.PermEndpointReceive {
		t.Fatalf("expected minted flags to be attenuated to RECEIVE only, got %#x", snap.Flags)
	}
	if snap.Cookie != 99 {
		t.Fatalf("expected cookie 99, got %d", snap.Cookie)
	}
}

func TestMintWithoutOwnerBitFails(t *testing.T) {
	owner := NewTable(4)
	target := NewTable(4)
	ep := NewEndpoint()

	owner.Reserve(0)
	owner.Open(0, ep, abi.PermEndpointSend, 0) // no OWNER bit

	if rc := owner.Mint(0, abi.PermEndpointSend, 0, target, 0); rc != errno.EPERM {
		t.Fatalf("expected EPERM without OWNER bit, got %v", rc)
	}
}

func TestMintRejectsPermissionsOutsideAllPermissions(t *testing.T) {
	owner := NewTable(4)
	target := NewTable(4)
	ep := NewEndpoint()

	owner.Reserve(0)
	owner.Open(0, ep, abi.PermOwner|abi.PermEndpointSend, 0)

	if rc := owner.Mint(0, 1<<5, 0, target, 0); rc != errno.EINVAL {
		t.Fatalf("expected EINVAL for out-of-range perms, got %v", rc)
	}
}

func TestDupPreservesFlagsAndCookie(t *testing.T) {
	src := NewTable(4)
	dest := NewTable(4)
	ep := NewEndpoint()

	src.Reserve(0)
	src.Open(0, ep, abi.PermEndpointSend, 7)

	if rc := src.Dup(0, dest, 2); rc != errno.OK {
		t.Fatalf("Dup: got %v", rc)
	}
	snap, rc := dest.Dereference(2)
	if rc != errno.OK {
		t.Fatalf("Dereference dup target: got %v", rc)
	}
	if snap.Flags != abi.PermEndpointSend || snap.Cookie != 7 {
		t.Fatalf("expected dup to preserve flags/cookie, got flags=%#x cookie=%d", snap.Flags, snap.Cookie)
	}
}

func TestProcessDestroyClosesAllOpenDescriptors(t *testing.T) {
	proc := NewProcess(4)
	ep1 := NewEndpoint()
	ep2 := NewEndpoint()

	proc.Table.Reserve(0)
	proc.Table.Open(0, ep1, abi.PermEndpointSend, 0)
	proc.Table.Reserve(1)
	proc.Table.Open(1, ep2, abi.PermEndpointReceive, 0)

	proc.Destroy()

	if _, rc := proc.Table.Dereference(0); rc != errno.EBADF {
		t.Fatalf("expected slot 0 to be FREE after process destroy, got %v", rc)
	}
	if ep2.Receivers() != 0 {
		t.Fatal("expected process destroy to close descriptor, dropping the receiver count")
	}
}

func TestReserveAnyFindsFirstFreeSlotAndSkipsOccupiedOnes(t *testing.T) {
	table := NewTable(4)
	if rc := table.Reserve(0); rc != errno.OK {
		t.Fatalf("Reserve(0): got %v", rc)
	}

	fd, rc := table.ReserveAny()
	if rc != errno.OK {
		t.Fatalf("ReserveAny: got %v", rc)
	}
	if fd != 1 {
		t.Fatalf("expected the first free slot (1), got %d", fd)
	}

	table.ReserveAny()
	table.ReserveAny()
	if _, rc := table.ReserveAny(); rc != errno.EBADF {
		t.Fatalf("expected EBADF once the table is full, got %v", rc)
	}
}
