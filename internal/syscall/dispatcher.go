// Package syscall implements the kernel's system-call dispatcher
// (spec.md §4.8): it decodes the four-register calling convention,
// resolves descriptor arguments to live objects through the owning
// process's table (holding a reference for the call's duration), and
// invokes the corresponding subsystem operation.
//
// Each case validates its inputs, mutates state, and logs at debug
// level around the call, the same shape a one-method-per-verb
// controller would use, collapsed into one entry point with a case
// per function number since the register-decoded calling convention
// requires a single dispatch surface rather than separate exported
// methods.
package syscall

import (
	"encoding/binary"
	"sync"

	"github.com/jinuekernel/jinue/internal/abi"
	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/errno"
	"github.com/jinuekernel/jinue/internal/interfaces"
	"github.com/jinuekernel/jinue/internal/ipc"
	"github.com/jinuekernel/jinue/internal/object"
	"github.com/jinuekernel/jinue/internal/pagealloc"
	"github.com/jinuekernel/jinue/internal/proc"
	"github.com/jinuekernel/jinue/internal/sched"
	"github.com/jinuekernel/jinue/internal/vm"
)

// Dispatcher owns every kernel subsystem reachable from a system call
// and the bookkeeping needed to translate between the descriptor
// subsystem's bare object.Object values and the richer wrapper types
// (*proc.Thread, *proc.Process, *ipc.Endpoint) the rest of the kernel
// actually operates on.
type Dispatcher struct {
	sched *sched.Scheduler
	procs *proc.Subsystem
	pages *pagealloc.Allocator
	log   interfaces.Logger
	gate  abi.GateKind

	// OnReboot is invoked by the REBOOT call in place of an actual
	// hardware reset, which has no meaning for a process hosting this
	// simulator (spec.md §6). When it is nil, REBOOT only logs the
	// request.
	OnReboot func()

	mu        sync.Mutex
	byThread  map[*sched.Thread]*proc.Thread
	byObject  map[*object.Thread]*proc.Thread
	endpoints map[*object.Endpoint]*ipc.Endpoint
	processes map[*object.Process]*proc.Process

	// memoryMap is the firmware-reported address-range map GET_ADDRESS_MAP
	// copies out, recorded from abi.BootInfo at boot time.
	memoryMap []abi.MemoryRange

	// replyHelper exists only to invoke ipc.Endpoint.Reply/ReplyError:
	// both methods operate entirely on sched.Thread state (current's
	// Sender slot) and the shared scheduler, never on endpoint-specific
	// queue state, so one unregistered helper correctly serves a reply
	// regardless of which endpoint the original send targeted.
	replyHelper *ipc.Endpoint

	obs interfaces.Observer
}

// SetObserver attaches obs to the dispatcher and every subsystem it
// owns (the scheduler and page allocator directly; every endpoint
// CREATE_ENDPOINT constructs from here on, including replyHelper). A
// kernel that never calls SetObserver runs with metrics collection
// fully disabled rather than paying for no-op calls.
func (d *Dispatcher) SetObserver(obs interfaces.Observer) {
	d.obs = obs
	d.sched.SetObserver(obs)
	d.pages.SetObserver(obs)
	d.replyHelper.SetObserver(obs)
}

// NewDispatcher wires a dispatcher to the subsystems a booted kernel
// has already constructed.
func NewDispatcher(s *sched.Scheduler, procs *proc.Subsystem, pages *pagealloc.Allocator, log interfaces.Logger, gate abi.GateKind) *Dispatcher {
	return &Dispatcher{
		sched:       s,
		procs:       procs,
		pages:       pages,
		log:         log,
		gate:        gate,
		byThread:    make(map[*sched.Thread]*proc.Thread),
		byObject:    make(map[*object.Thread]*proc.Thread),
		endpoints:   make(map[*object.Endpoint]*ipc.Endpoint),
		processes:   make(map[*object.Process]*proc.Process),
		replyHelper: ipc.New(s),
	}
}

// RegisterThread associates a scheduler thread with its proc.Thread
// wrapper, so later calls on the same core can recover Owner, MsgBuffer,
// and TLS bookkeeping from nothing but the scheduler's notion of
// "current."
func (d *Dispatcher) RegisterThread(t *proc.Thread) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byThread[t.Thread] = t
	d.byObject[t.Thread.Thread] = t
}

// SetMemoryMap records the boot-time discovered address-range map
// that GET_ADDRESS_MAP copies out.
func (d *Dispatcher) SetMemoryMap(ranges []abi.MemoryRange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memoryMap = ranges
}

// RegisterProcess makes p reachable from a descriptor that refers to
// its embedded object.Process, used by CREATE_PROCESS and by whatever
// process the boot sequence constructs directly.
func (d *Dispatcher) RegisterProcess(p *proc.Process) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processes[p.Process] = p
}

func (d *Dispatcher) threadFor(st *sched.Thread) *proc.Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byThread[st]
}

func (d *Dispatcher) processFor(op *object.Process) *proc.Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processes[op]
}

func (d *Dispatcher) registerEndpoint(e *ipc.Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[e.Endpoint] = e
}

func (d *Dispatcher) endpointFor(oe *object.Endpoint) *ipc.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints[oe]
}

// Gate reports which of the three system-call entry mechanisms this
// dispatcher was configured with at boot (spec.md §4.8/§6).
func (d *Dispatcher) Gate() abi.GateKind {
	return d.gate
}

// current resolves the proc.Thread wrapper for whichever thread holds
// the CPU token right now; every Invoke call is made from that
// thread's own goroutine, exactly as a real trap entry runs on the
// interrupted thread's kernel stack.
func (d *Dispatcher) current() *proc.Thread {
	return d.threadFor(d.sched.Current())
}

// copyUser walks space's mapping one page at a time, reading from or
// writing into the physical frame backing each page, mirroring how a
// real kernel's copy_from/to_user walks the page tables of a possibly
// unmapped, untrusted user address range. Returns EINVAL on the first
// unmapped page, the same code a page fault during a copy would
// produce since this simulator has no fault-and-retry path.
func (d *Dispatcher) copyUser(space *vm.AddressSpace, addr uintptr, buf []byte, write bool) errno.Errno {
	pageSize := uintptr(d.pages.PageSize())
	va := vm.Addr(addr)
	remaining := buf
	for len(remaining) > 0 {
		m, ok := space.Lookup(va)
		if !ok {
			return errno.EINVAL
		}
		frame := d.pages.Bytes(m.Frame)
		off := uintptr(va) % pageSize
		n := len(remaining)
		if uintptr(n) > pageSize-off {
			n = int(pageSize - off)
		}
		if write {
			copy(frame[off:off+uintptr(n)], remaining[:n])
		} else {
			copy(remaining[:n], frame[off:off+uintptr(n)])
		}
		remaining = remaining[n:]
		va += vm.Addr(n)
	}
	return errno.OK
}

func (d *Dispatcher) readUser(space *vm.AddressSpace, addr uintptr, size uint32) ([]byte, errno.Errno) {
	out := make([]byte, size)
	if rc := d.copyUser(space, addr, out, false); rc != errno.OK {
		return nil, rc
	}
	return out, errno.OK
}

func (d *Dispatcher) writeUser(space *vm.AddressSpace, addr uintptr, data []byte) errno.Errno {
	return d.copyUser(space, addr, data, true)
}

// Invoke is the trap-entry/trap-exit boundary of spec.md §4.8: it
// decodes regs, dispatches to the named operation, and returns the
// value and error code a real dispatcher would write back into
// registers 0 and 1. The caller — whatever goroutine represents the
// trapping thread — must already be the scheduler's current thread.
func (d *Dispatcher) Invoke(regs abi.Registers) (int64, errno.Errno) {
	cur := d.current()
	if cur == nil {
		return 0, errno.EINVAL
	}

	if regs.Fn >= abi.UserBase {
		return d.doSend(cur, regs)
	}

	switch regs.Fn {
	case abi.FnReboot:
		return d.doReboot(cur, regs)
	case abi.FnPuts:
		return d.doPuts(cur, regs)
	case abi.FnCreateThread:
		return d.doCreateThread(cur, regs)
	case abi.FnYieldThread:
		d.sched.YieldCurrent()
		return 0, errno.OK
	case abi.FnExitThread:
		d.sched.ExitCurrent(int32(regs.Arg1))
		select {} // the thread conceptually never returns from exit
	case abi.FnSetThreadLocal:
		d.procs.SetThreadLocal(cur, uintptr(regs.Arg1), uintptr(regs.Arg2))
		return 0, errno.OK
	case abi.FnGetThreadLocal:
		return int64(cur.TLSAddr), errno.OK
	case abi.FnGetAddressMap:
		return d.doGetAddressMap(cur, regs)
	case abi.FnCreateEndpoint:
		return d.doCreateEndpoint(cur, regs)
	case abi.FnCreateProcess:
		return d.doCreateProcess(cur, regs)
	case abi.FnReceive:
		return d.doReceive(cur, regs)
	case abi.FnReply:
		return d.doReply(cur, regs)
	case abi.FnReplyError:
		return d.doReplyError(cur, regs)
	case abi.FnMmap:
		return d.doMmap(cur, regs)
	case abi.FnMclone:
		return d.doMclone(cur, regs)
	case abi.FnDup:
		return d.doDup(cur, regs)
	case abi.FnClose:
		return 0, cur.Owner.Table.Close(int(regs.Arg1))
	case abi.FnDestroy:
		return 0, cur.Owner.Table.Destroy(int(regs.Arg1))
	case abi.FnMint:
		return d.doMint(cur, regs)
	case abi.FnStartThread:
		return d.doStartThread(cur, regs)
	case abi.FnAwaitThread:
		return d.doAwaitThread(cur, regs)
	default:
		return 0, errno.ENOSYS
	}
}

func (d *Dispatcher) doReboot(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	if d.log != nil {
		d.log.Info("REBOOT requested")
	}
	if d.OnReboot != nil {
		d.OnReboot()
	}
	return 0, errno.OK
}

func (d *Dispatcher) doPuts(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	buf, rc := d.readUser(cur.Owner.Space, uintptr(regs.Arg2), regs.Arg3)
	if rc != errno.OK {
		return 0, rc
	}
	if d.log != nil {
		d.log.Info(string(buf), "loglevel", regs.Arg1)
	}
	return int64(len(buf)), errno.OK
}

// reserveOrAny reserves fd, or auto-picks a slot when fd is the
// AutoReserve sentinel — an ABI extension beyond the original kernel's
// always-explicit descriptor numbers, justified by constants.go's
// pre-existing AutoReserve convention and needed so CREATE_* calls can
// hand back a slot of the kernel's choosing without costing the caller
// a register.
func reserveOrAny(t *object.Table, fd int) (int, errno.Errno) {
	if fd == constants.AutoReserve {
		return t.ReserveAny()
	}
	return fd, t.Reserve(fd)
}

// fdArg recovers a signed descriptor argument (including the negative
// AutoReserve sentinel) from a register, which carries it as the
// two's-complement uint32 bit pattern. A plain int() conversion from
// uint32 never sign-extends, so regs.Arg1 == 0xffffffff would convert
// to 4294967295 instead of -1 and AutoReserve would never match.
func fdArg(v uint32) int {
	return int(int32(v))
}

func (d *Dispatcher) doCreateThread(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	snap, rc := cur.Owner.Table.Dereference(int(regs.Arg2))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermProcessCreateThread == 0 {
		return 0, errno.EPERM
	}
	op, ok := snap.Object.(*object.Process)
	if !ok {
		return 0, errno.EINVAL
	}
	target := d.processFor(op)
	if target == nil {
		return 0, errno.EINVAL
	}

	// A freshly constructed thread's body is a cooperative stub: this
	// simulator has no way to execute arbitrary "user machine code"
	// reached only through the register ABI, so it yields forever
	// instead of doing real work, never jamming the single-CPU ready
	// queue the way a thread that never yields or exits would.
	th, rc := d.procs.ConstructThread(target, func() {
		for {
			d.sched.YieldCurrent()
		}
	})
	if rc != errno.OK {
		return 0, rc
	}
	d.RegisterThread(th)

	fd, rc := reserveOrAny(cur.Owner.Table, fdArg(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	if rc := cur.Owner.Table.Open(fd, th.Thread.Thread, th.Thread.AllPermissions(), 0); rc != errno.OK {
		return 0, rc
	}
	return int64(fd), errno.OK
}

func (d *Dispatcher) doStartThread(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	snap, rc := cur.Owner.Table.Dereference(int(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermThreadStart == 0 {
		return 0, errno.EPERM
	}
	ot, ok := snap.Object.(*object.Thread)
	if !ok {
		return 0, errno.EINVAL
	}
	target := d.threadFromObject(ot)
	if target == nil {
		return 0, errno.EINVAL
	}
	return 0, d.procs.StartThread(target, uintptr(regs.Arg2), uintptr(regs.Arg3))
}

func (d *Dispatcher) doAwaitThread(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	snap, rc := cur.Owner.Table.Dereference(int(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermThreadJoin == 0 {
		return 0, errno.EPERM
	}
	ot, ok := snap.Object.(*object.Thread)
	if !ok {
		return 0, errno.EINVAL
	}
	target := d.threadFromObject(ot)
	if target == nil {
		return 0, errno.EINVAL
	}
	status, rc := d.sched.Join(target.Thread)
	return int64(status), rc
}

func (d *Dispatcher) threadFromObject(ot *object.Thread) *proc.Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byObject[ot]
}

func (d *Dispatcher) doGetAddressMap(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	d.mu.Lock()
	ranges := d.memoryMap
	d.mu.Unlock()
	buf := abi.MarshalMemoryMap(ranges, int(regs.Arg2))
	if rc := d.writeUser(cur.Owner.Space, uintptr(regs.Arg1), buf); rc != errno.OK {
		return 0, rc
	}
	return int64(len(buf)), errno.OK
}

func (d *Dispatcher) doCreateEndpoint(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	ep := ipc.New(d.sched)
	ep.SetObserver(d.obs)
	d.registerEndpoint(ep)

	fd, rc := reserveOrAny(cur.Owner.Table, fdArg(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	if rc := cur.Owner.Table.Open(fd, ep.Endpoint, ep.Endpoint.AllPermissions()|abi.PermOwner, 0); rc != errno.OK {
		return 0, rc
	}
	return int64(fd), errno.OK
}

func (d *Dispatcher) doCreateProcess(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	p, rc := d.procs.ConstructProcess(constants.MaxDescriptors)
	if rc != errno.OK {
		return 0, rc
	}
	d.RegisterProcess(p)

	fd, rc := reserveOrAny(cur.Owner.Table, fdArg(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	if rc := cur.Owner.Table.Open(fd, p.Process, p.Process.AllPermissions()|abi.PermOwner, 0); rc != errno.OK {
		return 0, rc
	}
	return int64(fd), errno.OK
}

func (d *Dispatcher) doReceive(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	snap, rc := cur.Owner.Table.Dereference(int(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermEndpointReceive == 0 {
		return 0, errno.EPERM
	}
	oe, ok := snap.Object.(*object.Endpoint)
	if !ok {
		return 0, errno.EINVAL
	}
	ep := d.endpointFor(oe)
	if ep == nil {
		return 0, errno.EINVAL
	}

	recvCap := int(regs.Arg3)
	msg, rc := ep.Receive(cur.Thread, recvCap)
	if rc != errno.OK {
		return 0, rc
	}
	if rc := d.writeUser(cur.Owner.Space, uintptr(regs.Arg2), msg.Payload); rc != errno.OK {
		return 0, rc
	}
	return int64(len(msg.Payload)), errno.OK
}

func (d *Dispatcher) doReply(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	payload, rc := d.readUser(cur.Owner.Space, uintptr(regs.Arg1), regs.Arg2)
	if rc != errno.OK {
		return 0, rc
	}
	if rc := d.replyHelper.Reply(cur.Thread, payload); rc != errno.OK {
		return 0, rc
	}
	return int64(len(payload)), errno.OK
}

func (d *Dispatcher) doReplyError(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	rc := d.replyHelper.ReplyError(cur.Thread, errno.Errno(regs.Arg1))
	return 0, rc
}

// doSend implements the generic send path spec.md §4.8 describes as
// "send (function >= user base)": any function number at or above
// UserBase is itself an IPC send, not one of the fixed kernel calls,
// with the number the caller chose becoming the delivered message's
// own function-number field. Arg1 names the endpoint, Arg2/Arg3 the
// address and length of a single contiguous buffer that doubles as
// both the outgoing payload and, once reply completes, the incoming
// reply — the simplification this simulator uses in place of the full
// scatter/gather buffer lists spec.md §3 describes, which the
// three-argument-register budget has no room to pass inline.
func (d *Dispatcher) doSend(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	snap, rc := cur.Owner.Table.Dereference(int(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermEndpointSend == 0 {
		return 0, errno.EPERM
	}
	oe, ok := snap.Object.(*object.Endpoint)
	if !ok {
		return 0, errno.EINVAL
	}
	ep := d.endpointFor(oe)
	if ep == nil {
		return 0, errno.EINVAL
	}

	payload, rc := d.readUser(cur.Owner.Space, uintptr(regs.Arg2), regs.Arg3)
	if rc != errno.OK {
		return 0, rc
	}

	replyCap := len(cur.MsgBuffer)
	if int(regs.Arg3) < replyCap {
		replyCap = int(regs.Arg3)
	}
	n, rc := ep.Send(cur.Thread, regs.Fn, snap.Cookie, payload, [][]byte{cur.MsgBuffer[:replyCap]})
	if rc != errno.OK {
		return 0, rc
	}
	if rc := d.writeUser(cur.Owner.Space, uintptr(regs.Arg2), cur.MsgBuffer[:n]); rc != errno.OK {
		return 0, rc
	}
	return int64(n), errno.OK
}

// mmapArgs mirrors the original kernel's jinue_mmap_args_t: once a
// call needs more scalar fields than the three argument registers can
// carry, the caller passes a pointer to a packed struct in its own
// address space instead (original_source/kernel/application/syscalls,
// e.g. mint.c's jinue_mint_args_t/mclone.c's jinue_mclone_args_t).
type mmapArgs struct {
	Addr uint32
	Len  uint32
	Prot uint32
}

func decodeMmapArgs(buf []byte) mmapArgs {
	return mmapArgs{
		Addr: binary.LittleEndian.Uint32(buf[0:4]),
		Len:  binary.LittleEndian.Uint32(buf[4:8]),
		Prot: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// doMmap installs a fresh anonymous mapping in the target process:
// MMAP(process_fd, addr, len, prot, paddr) per spec.md §4.8, with the
// paddr field dropped — this simulator allocates the backing frames
// itself rather than exposing raw pagealloc.Page values to callers
// across the register ABI, since no wire encoding for a physical frame
// number exists anywhere else in the ABI.
func (d *Dispatcher) doMmap(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	snap, rc := cur.Owner.Table.Dereference(int(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermProcessMap == 0 {
		return 0, errno.EPERM
	}
	op, ok := snap.Object.(*object.Process)
	if !ok {
		return 0, errno.EINVAL
	}
	target := d.processFor(op)
	if target == nil {
		return 0, errno.EINVAL
	}

	raw, rc := d.readUser(cur.Owner.Space, uintptr(regs.Arg2), 12)
	if rc != errno.OK {
		return 0, rc
	}
	args := decodeMmapArgs(raw)

	pageSize := uintptr(d.pages.PageSize())
	n := (uintptr(args.Len) + pageSize - 1) / pageSize
	mapped := make([]pagealloc.Page, 0, n)
	for i := uintptr(0); i < n; i++ {
		f := d.pages.Alloc()
		if f == pagealloc.NonePage {
			for j, done := range mapped {
				target.Space.UnmapUser(vm.Addr(uintptr(args.Addr) + uintptr(j)*pageSize))
				d.pages.Free(done)
			}
			return 0, errno.ENOMEM
		}
		target.Space.MapUser(vm.Addr(uintptr(args.Addr)+i*pageSize), f, vm.Prot(args.Prot))
		mapped = append(mapped, f)
	}
	return int64(len(mapped)) * int64(pageSize), errno.OK
}

type mcloneArgs struct {
	SrcAddr  uint32
	DestAddr uint32
	Len      uint32
	Prot     uint32
}

func decodeMcloneArgs(buf []byte) mcloneArgs {
	return mcloneArgs{
		SrcAddr:  binary.LittleEndian.Uint32(buf[0:4]),
		DestAddr: binary.LittleEndian.Uint32(buf[4:8]),
		Len:      binary.LittleEndian.Uint32(buf[8:12]),
		Prot:     binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// doMclone is MCLONE(src_fd, dest_fd, {src_addr, dest_addr, len,
// prot}): clone_range requires MAP permission on the destination
// process descriptor only, mirroring spec.md §4.8's "requires MAP on
// destination."
func (d *Dispatcher) doMclone(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	srcSnap, rc := cur.Owner.Table.Dereference(int(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(srcSnap.Object)
	srcOP, ok := srcSnap.Object.(*object.Process)
	if !ok {
		return 0, errno.EINVAL
	}
	src := d.processFor(srcOP)
	if src == nil {
		return 0, errno.EINVAL
	}

	destSnap, rc := cur.Owner.Table.Dereference(int(regs.Arg2))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(destSnap.Object)
	if destSnap.Flags&abi.PermProcessMap == 0 {
		return 0, errno.EPERM
	}
	destOP, ok := destSnap.Object.(*object.Process)
	if !ok {
		return 0, errno.EINVAL
	}
	dest := d.processFor(destOP)
	if dest == nil {
		return 0, errno.EINVAL
	}

	raw, rc := d.readUser(cur.Owner.Space, uintptr(regs.Arg3), 16)
	if rc != errno.OK {
		return 0, rc
	}
	args := decodeMcloneArgs(raw)

	vm.CloneRange(dest.Space, src.Space, vm.Addr(args.DestAddr), vm.Addr(args.SrcAddr), uintptr(args.Len), vm.Prot(args.Prot))
	return 0, errno.OK
}

// doDup is DUP(process_fd, src, dest): process_fd names the target
// table (OPEN permission required), src/dest are plain descriptor
// numbers in the caller's and target's tables respectively, exactly
// the three scalar fields the original ABI's dup call takes.
func (d *Dispatcher) doDup(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	snap, rc := cur.Owner.Table.Dereference(int(regs.Arg1))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermProcessOpen == 0 {
		return 0, errno.EPERM
	}
	op, ok := snap.Object.(*object.Process)
	if !ok {
		return 0, errno.EINVAL
	}
	target := d.processFor(op)
	if target == nil {
		return 0, errno.EINVAL
	}

	if fdArg(regs.Arg3) == constants.AutoReserve {
		fd, rc := cur.Owner.Table.DupAny(int(regs.Arg2), target.Table)
		return int64(fd), rc
	}
	rc = cur.Owner.Table.Dup(int(regs.Arg2), target.Table, int(regs.Arg3))
	return int64(regs.Arg3), rc
}

// mintArgs mirrors jinue_mint_args_t: the process to mint into, the
// target descriptor slot (or AutoReserve), the attenuated permission
// bits, and the cookie to attach.
type mintArgs struct {
	Process uint32
	FD      uint32
	Perms   uint32
	Cookie  uint32
}

func decodeMintArgs(buf []byte) mintArgs {
	return mintArgs{
		Process: binary.LittleEndian.Uint32(buf[0:4]),
		FD:      binary.LittleEndian.Uint32(buf[4:8]),
		Perms:   binary.LittleEndian.Uint32(buf[8:12]),
		Cookie:  binary.LittleEndian.Uint32(buf[12:16]),
	}
}

func (d *Dispatcher) doMint(cur *proc.Thread, regs abi.Registers) (int64, errno.Errno) {
	raw, rc := d.readUser(cur.Owner.Space, uintptr(regs.Arg2), 16)
	if rc != errno.OK {
		return 0, rc
	}
	args := decodeMintArgs(raw)

	snap, rc := cur.Owner.Table.Dereference(int(args.Process))
	if rc != errno.OK {
		return 0, rc
	}
	defer cur.Owner.Table.Unreference(snap.Object)
	if snap.Flags&abi.PermProcessOpen == 0 {
		return 0, errno.EPERM
	}
	op, ok := snap.Object.(*object.Process)
	if !ok {
		return 0, errno.EINVAL
	}
	target := d.processFor(op)
	if target == nil {
		return 0, errno.EINVAL
	}

	if fdArg(args.FD) == constants.AutoReserve {
		fd, rc := cur.Owner.Table.MintAny(int(regs.Arg1), args.Perms, uintptr(args.Cookie), target.Table)
		return int64(fd), rc
	}
	rc = cur.Owner.Table.Mint(int(regs.Arg1), args.Perms, uintptr(args.Cookie), target.Table, int(args.FD))
	return int64(args.FD), rc
}
