// Package integration exercises the kernel simulator's subsystems
// wired together the way cmd/jinue-console and syscall.NewDispatcher
// assemble them, against the testable properties a single-machine
// build of the kernel is expected to uphold end to end rather than one
// package at a time. Each test here is named after the scenario it
// reproduces: S1 (send/receive round trip), S2 (receive permission
// check), S3 (destroy aborts a blocked sender), S4 (mint permission
// attenuation), S5 (join an unstarted thread), S6 (mmap+mclone shared
// frame).
package integration

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/jinuekernel/jinue/internal/abi"
	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/errno"
	"github.com/jinuekernel/jinue/internal/pagealloc"
	"github.com/jinuekernel/jinue/internal/proc"
	"github.com/jinuekernel/jinue/internal/sched"
	"github.com/jinuekernel/jinue/internal/syscall"
	"github.com/jinuekernel/jinue/internal/vm"
)

// newTestKernel builds the same subsystem chain dispatcher_test.go's
// own helper does, duplicated here since that helper is unexported and
// this package sits outside internal/syscall.
func newTestKernel(t *testing.T, arenaPages int) (*syscall.Dispatcher, *sched.Scheduler, *proc.Subsystem, *proc.Process, *pagealloc.Allocator) {
	t.Helper()
	pages := pagealloc.New(arenaPages * constants.PageSize)
	vmSpace := vm.NewSpace(pages)
	s := sched.New()
	procs := proc.New(s, vmSpace, pages)
	disp := syscall.NewDispatcher(s, procs, pages, nil, abi.GateInterrupt0x80)

	p, rc := procs.ConstructProcess(constants.MaxDescriptors)
	if rc != errno.OK {
		t.Fatalf("ConstructProcess: %v", rc)
	}
	disp.RegisterProcess(p)
	return disp, s, procs, p, pages
}

func mapPage(t *testing.T, pages *pagealloc.Allocator, space *vm.AddressSpace, vaddr vm.Addr) {
	t.Helper()
	f := pages.Alloc()
	if f == pagealloc.NonePage {
		t.Fatal("arena exhausted mapping a test page")
	}
	space.MapUser(vaddr, f, vm.ProtRead|vm.ProtWrite)
}

func writeAt(t *testing.T, pages *pagealloc.Allocator, space *vm.AddressSpace, vaddr vm.Addr, data []byte) {
	t.Helper()
	m, ok := space.Lookup(vaddr)
	if !ok {
		t.Fatalf("writeAt: %#x is not mapped", vaddr)
	}
	copy(pages.Bytes(m.Frame), data)
}

func readAt(t *testing.T, pages *pagealloc.Allocator, space *vm.AddressSpace, vaddr vm.Addr, n int) []byte {
	t.Helper()
	m, ok := space.Lookup(vaddr)
	if !ok {
		t.Fatalf("readAt: %#x is not mapped", vaddr)
	}
	out := make([]byte, n)
	copy(out, pages.Bytes(m.Frame))
	return out
}

// runOnRootThread starts a single thread owned by p, boots the
// scheduler directly onto it, and waits for body to signal completion
// through done — the same lone-survivor convention
// internal/syscall/dispatcher_test.go uses, since a thread body that
// falls off the end triggers an automatic exit into an empty ready
// queue.
func runOnRootThread(t *testing.T, disp *syscall.Dispatcher, s *sched.Scheduler, procs *proc.Subsystem, p *proc.Process, body func(th *proc.Thread)) {
	t.Helper()
	done := make(chan struct{})
	th, rc := procs.ConstructThread(p, func() {
		body(nil)
		close(done)
		select {}
	})
	if rc != errno.OK {
		t.Fatalf("ConstructThread: %v", rc)
	}
	disp.RegisterThread(th)
	if rc := procs.StartThread(th, 0, 0); rc != errno.OK {
		t.Fatalf("StartThread: %v", rc)
	}
	s.Boot(th.Thread)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for root thread body to finish")
	}
}

func invokeOnce(t *testing.T, disp *syscall.Dispatcher, s *sched.Scheduler, procs *proc.Subsystem, p *proc.Process, regs abi.Registers) (int64, errno.Errno) {
	t.Helper()
	var n int64
	var rc errno.Errno
	runOnRootThread(t, disp, s, procs, p, func(*proc.Thread) {
		n, rc = disp.Invoke(regs)
	})
	return n, rc
}

func putU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// TestS1SendReceiveReplyRoundTrip reproduces spec.md's S1: a sender
// gathers two fragments into one outgoing message, a receiver takes
// delivery into what the scenario describes as three separate
// buffers, and the receiver's reply is observed back at the sender.
// The generic register-ABI send (syscall.Dispatcher.doSend) folds the
// full scatter/gather buffer lists spec.md §3 describes into one
// contiguous send buffer and one contiguous reply buffer sized off the
// send, so this test pre-concatenates the scatter fragments the way a
// caller crossing that ABI must, and splits the flat delivery back
// into three slices afterward to check the same per-fragment contents
// the scenario names, rather than pretending the dispatcher accepts
// an iovec list it was never given room to carry.
func TestS1SendReceiveReplyRoundTrip(t *testing.T) {
	disp, s, procs, p, pages := newTestKernel(t, 16)

	epFD, rc := invokeOnce(t, disp, s, procs, p, abi.Registers{Fn: abi.FnCreateEndpoint, Arg1: 0})
	if rc != errno.OK {
		t.Fatalf("CreateEndpoint: %v", rc)
	}

	const cookie = 0xCA11AB1E
	if rc := p.Table.Mint(int(epFD), abi.PermEndpointSend, cookie, p.Table, 1); rc != errno.OK {
		t.Fatalf("Mint send-only descriptor: %v", rc)
	}

	const sendAddr = vm.Addr(0x10000)
	const recvAddr = vm.Addr(0x20000)
	const replyAddr = vm.Addr(0x30000)
	mapPage(t, pages, p.Space, sendAddr)
	mapPage(t, pages, p.Space, recvAddr)
	mapPage(t, pages, p.Space, replyAddr)

	// Scatter fragments "Hello " (6) and "World!\x00" (7), gathered the
	// way a caller must before crossing the register ABI.
	send := append([]byte("Hello "), "World!\x00"...)
	writeAt(t, pages, p.Space, sendAddr, send)

	const fn = abi.UserBase + 42
	type sendResult struct {
		n  int64
		rc errno.Errno
	}
	resultCh := make(chan sendResult, 1)
	type recvResult struct {
		payload []byte
	}
	recvCh := make(chan recvResult, 1)

	sender, rc := procs.ConstructThread(p, func() {
		n, rc := disp.Invoke(abi.Registers{Fn: fn, Arg1: 1, Arg2: uint32(sendAddr), Arg3: uint32(len(send))})
		resultCh <- sendResult{n, rc}
		select {}
	})
	if rc != errno.OK {
		t.Fatalf("ConstructThread sender: %v", rc)
	}
	disp.RegisterThread(sender)

	receiver, rc := procs.ConstructThread(p, func() {
		n, rc := disp.Invoke(abi.Registers{Fn: abi.FnReceive, Arg1: uint32(epFD), Arg2: uint32(recvAddr), Arg3: 5 + 4 + 40})
		if rc != errno.OK {
			t.Errorf("receiver Invoke(FnReceive): %v", rc)
			return
		}
		recvCh <- recvResult{payload: readAt(t, pages, p.Space, recvAddr, int(n))}

		reply := []byte("Hi, Main Thread!\x00")
		writeAt(t, pages, p.Space, replyAddr, reply)
		if _, rc := disp.Invoke(abi.Registers{Fn: abi.FnReply, Arg1: uint32(replyAddr), Arg2: uint32(len(reply))}); rc != errno.OK {
			t.Errorf("receiver Invoke(FnReply): %v", rc)
		}
	})
	if rc != errno.OK {
		t.Fatalf("ConstructThread receiver: %v", rc)
	}
	disp.RegisterThread(receiver)

	if rc := procs.StartThread(sender, 0, 0); rc != errno.OK {
		t.Fatalf("StartThread sender: %v", rc)
	}
	if rc := procs.StartThread(receiver, 0, 0); rc != errno.OK {
		t.Fatalf("StartThread receiver: %v", rc)
	}
	s.Boot(sender.Thread)

	var recv recvResult
	select {
	case recv = <-recvCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the receiver to take delivery")
	}
	if len(recv.payload) != 13 {
		t.Fatalf("expected 13 bytes delivered, got %d", len(recv.payload))
	}
	gather := [][]byte{recv.payload[0:5], recv.payload[5:9], recv.payload[9:13]}
	if string(gather[0]) != "Hello" || string(gather[1]) != " Wor" || string(gather[2]) != "ld!\x00" {
		t.Fatalf("expected gather fragments %q %q %q, got %q %q %q",
			"Hello", " Wor", "ld!\x00", gather[0], gather[1], gather[2])
	}

	var res sendResult
	select {
	case res = <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the sender's call to return")
	}
	if res.rc != errno.OK {
		t.Fatalf("expected sender's send to succeed, got %v", res.rc)
	}
	if res.n != 17 {
		t.Fatalf("expected reply length 17, got %d", res.n)
	}
	if got := string(readAt(t, pages, p.Space, sendAddr, int(res.n))); got != "Hi, Main Thread!\x00" {
		t.Fatalf("expected the reply copied back into the send buffer, got %q", got)
	}
}

// TestS2ReceiveOnSendOnlyFailsWithEPERM reproduces S2: a descriptor
// minted with SEND only can never receive.
func TestS2ReceiveOnSendOnlyFailsWithEPERM(t *testing.T) {
	disp, s, procs, p, pages := newTestKernel(t, 8)

	epFD, rc := invokeOnce(t, disp, s, procs, p, abi.Registers{Fn: abi.FnCreateEndpoint, Arg1: 0})
	if rc != errno.OK {
		t.Fatalf("CreateEndpoint: %v", rc)
	}
	if rc := p.Table.Mint(int(epFD), abi.PermEndpointSend, 0, p.Table, 1); rc != errno.OK {
		t.Fatalf("Mint send-only descriptor: %v", rc)
	}

	const recvAddr = vm.Addr(0x20000)
	mapPage(t, pages, p.Space, recvAddr)

	var got errno.Errno
	runOnRootThread(t, disp, s, procs, p, func(*proc.Thread) {
		_, got = disp.Invoke(abi.Registers{Fn: abi.FnReceive, Arg1: 1, Arg2: uint32(recvAddr), Arg3: 64})
	})

	if got != errno.EPERM {
		t.Fatalf("expected EPERM receiving on a send-only descriptor, got %v", got)
	}
}

// TestS3DestroyAbortsBlockedSenderWithEIO reproduces S3: closing the
// only RECEIVE-capable descriptor on an endpoint a sender is blocked
// against resumes that sender with EIO.
func TestS3DestroyAbortsBlockedSenderWithEIO(t *testing.T) {
	disp, s, procs, p, pages := newTestKernel(t, 8)

	// A single descriptor carrying both SEND and RECEIVE stands in for
	// "the last RECEIVE descriptor": there is only one to begin with.
	epFD, rc := invokeOnce(t, disp, s, procs, p, abi.Registers{Fn: abi.FnCreateEndpoint, Arg1: 0})
	if rc != errno.OK {
		t.Fatalf("CreateEndpoint: %v", rc)
	}

	const sendAddr = vm.Addr(0x10000)
	mapPage(t, pages, p.Space, sendAddr)
	writeAt(t, pages, p.Space, sendAddr, []byte("ping"))

	type sendResult struct {
		rc errno.Errno
	}
	resultCh := make(chan sendResult, 1)

	// sender runs first and blocks immediately inside Invoke's send path
	// (no receiver queued yet), which hands the CPU to root directly —
	// the only way to get a genuinely blocked sender without an
	// auxiliary channel the scheduler doesn't know about.
	sender, rc := procs.ConstructThread(p, func() {
		_, rc := disp.Invoke(abi.Registers{Fn: abi.UserBase + 1, Arg1: uint32(epFD), Arg2: uint32(sendAddr), Arg3: 4})
		resultCh <- sendResult{rc}
		select {}
	})
	if rc != errno.OK {
		t.Fatalf("ConstructThread sender: %v", rc)
	}
	disp.RegisterThread(sender)

	root, rc := procs.ConstructThread(p, func() {
		if _, rc := disp.Invoke(abi.Registers{Fn: abi.FnClose, Arg1: uint32(epFD)}); rc != errno.OK {
			t.Errorf("Close: %v", rc)
		}
	})
	if rc != errno.OK {
		t.Fatalf("ConstructThread root: %v", rc)
	}
	disp.RegisterThread(root)

	if rc := procs.StartThread(sender, 0, 0); rc != errno.OK {
		t.Fatalf("StartThread sender: %v", rc)
	}
	if rc := procs.StartThread(root, 0, 0); rc != errno.OK {
		t.Fatalf("StartThread root: %v", rc)
	}
	s.Boot(sender.Thread)

	select {
	case res := <-resultCh:
		if res.rc != errno.EIO {
			t.Fatalf("expected the blocked sender to resume with EIO, got %v", res.rc)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the blocked sender to be aborted")
	}
}

// TestS4MintRejectsOverBroadPermissions reproduces S4: minting with a
// permission bit outside the endpoint's AllPermissions fails EINVAL
// and leaves the target slot untouched.
func TestS4MintRejectsOverBroadPermissions(t *testing.T) {
	disp, s, procs, p, _ := newTestKernel(t, 8)

	epFD, rc := invokeOnce(t, disp, s, procs, p, abi.Registers{Fn: abi.FnCreateEndpoint, Arg1: 0})
	if rc != errno.OK {
		t.Fatalf("CreateEndpoint: %v", rc)
	}

	const outOfRange = 0x100
	over := uint32(abi.PermEndpointSend | abi.PermEndpointReceive | outOfRange)
	if rc := p.Table.Mint(int(epFD), over, 0, p.Table, 5); rc != errno.EINVAL {
		t.Fatalf("expected EINVAL minting permissions outside AllPermissions, got %v", rc)
	}

	// Slot 5 must still be FREE: Reserve succeeding proves Mint never
	// touched it.
	if rc := p.Table.Reserve(5); rc != errno.OK {
		t.Fatalf("expected slot 5 to remain untouched after the rejected mint, Reserve: %v", rc)
	}
}

// TestS5JoinUnstartedThreadFailsWithESRCH reproduces S5: a thread
// that has never been started carries the "never started" sentinel in
// its own join slot, and awaiting it fails ESRCH rather than blocking
// forever.
func TestS5JoinUnstartedThreadFailsWithESRCH(t *testing.T) {
	disp, s, procs, p, _ := newTestKernel(t, 8)

	target, rc := procs.ConstructThread(p, func() {})
	if rc != errno.OK {
		t.Fatalf("ConstructThread target: %v", rc)
	}
	disp.RegisterThread(target)

	if rc := p.Table.Reserve(2); rc != errno.OK {
		t.Fatalf("Reserve: %v", rc)
	}
	if rc := p.Table.Open(2, target.Thread.Thread, abi.PermThreadJoin, 0); rc != errno.OK {
		t.Fatalf("Open: %v", rc)
	}

	var got errno.Errno
	runOnRootThread(t, disp, s, procs, p, func(*proc.Thread) {
		_, got = disp.Invoke(abi.Registers{Fn: abi.FnAwaitThread, Arg1: 2})
	})

	if got != errno.ESRCH {
		t.Fatalf("expected ESRCH joining an unstarted thread, got %v", got)
	}
}

// TestS6MmapMcloneSharesFrame reproduces S6: process P1 has a frame
// mapped at a user address; P0, holding MAP on P1 is reversed here to
// match doMclone's actual ABI shape (MAP is required on the
// destination process descriptor, so P0 mints that permission onto
// itself and clones the range out of P1), and a write P0 makes through
// its own mapping is visible through P1's mapping of the same
// physical frame.
func TestS6MmapMcloneSharesFrame(t *testing.T) {
	disp, s, procs, p0, pages := newTestKernel(t, 16)
	p1, rc := procs.ConstructProcess(constants.MaxDescriptors)
	if rc != errno.OK {
		t.Fatalf("ConstructProcess p1: %v", rc)
	}
	disp.RegisterProcess(p1)

	const srcAddr = vm.Addr(0x40000000)
	const destAddr = vm.Addr(0x50000000)
	mapPage(t, pages, p1.Space, srcAddr)

	// fd0 in p0's table: a descriptor onto p1, no permission bits
	// needed since doMclone only checks MAP on the destination.
	if rc := p0.Table.Reserve(0); rc != errno.OK {
		t.Fatalf("Reserve src descriptor: %v", rc)
	}
	if rc := p0.Table.Open(0, p1.Process, 0, 0); rc != errno.OK {
		t.Fatalf("Open src descriptor: %v", rc)
	}
	// fd1 in p0's table: a self-referential descriptor carrying MAP,
	// since the clone's destination is p0 itself.
	if rc := p0.Table.Reserve(1); rc != errno.OK {
		t.Fatalf("Reserve dest descriptor: %v", rc)
	}
	if rc := p0.Table.Open(1, p0.Process, abi.PermProcessMap, 0); rc != errno.OK {
		t.Fatalf("Open dest descriptor: %v", rc)
	}

	const argsAddr = vm.Addr(0x100000)
	mapPage(t, pages, p0.Space, argsAddr)
	args := make([]byte, 16)
	putU32(args, 0, uint32(srcAddr))
	putU32(args, 4, uint32(destAddr))
	putU32(args, 8, uint32(pages.PageSize()))
	putU32(args, 12, uint32(vm.ProtRead|vm.ProtWrite))
	writeAt(t, pages, p0.Space, argsAddr, args)

	var mcloneRC errno.Errno
	runOnRootThread(t, disp, s, procs, p0, func(*proc.Thread) {
		_, mcloneRC = disp.Invoke(abi.Registers{Fn: abi.FnMclone, Arg1: 0, Arg2: 1, Arg3: uint32(argsAddr)})
	})
	if mcloneRC != errno.OK {
		t.Fatalf("Mclone: %v", mcloneRC)
	}

	if _, ok := p0.Space.Lookup(destAddr); !ok {
		t.Fatal("expected the cloned range to be mapped in p0 after Mclone")
	}

	payload := []byte("shared frame")
	writeAt(t, pages, p0.Space, destAddr, payload)

	got := readAt(t, pages, p1.Space, srcAddr, len(payload))
	if string(got) != string(payload) {
		t.Fatalf("expected p1's mapping to observe p0's write through the shared frame, got %q", got)
	}
}
