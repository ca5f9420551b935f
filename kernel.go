// Package jinue is the public facade over the kernel simulator: Boot
// validates a BootInfo block the way the architecture-specific setup
// code's handoff is validated (spec.md §6), constructs every subsystem
// in dependency order, and returns a running Kernel with its root
// thread already scheduled.
//
// Grounded on go-ublk's backend.go CreateAndServe: that function
// builds a controller, adds a device, sets its parameters, and brings
// up N queue runners, unwinding whatever was already built the moment
// any step fails. Boot follows the same staged-construction shape,
// generalized from "one storage device" to "the whole kernel": page
// allocator, address-space machine, scheduler, process/thread
// construction, and the system-call dispatcher, each wired to the one
// built before it. Boot unwinds nothing: it returns an error at the
// first failing step and does not tear down the stages already built.
package jinue

import (
	"github.com/jinuekernel/jinue/internal/abi"
	"github.com/jinuekernel/jinue/internal/cmdline"
	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/errno"
	"github.com/jinuekernel/jinue/internal/interfaces"
	"github.com/jinuekernel/jinue/internal/pagealloc"
	"github.com/jinuekernel/jinue/internal/proc"
	"github.com/jinuekernel/jinue/internal/sched"
	"github.com/jinuekernel/jinue/internal/syscall"
	"github.com/jinuekernel/jinue/internal/vm"
)

// Kernel is a fully constructed, running instance of the simulator:
// every subsystem spec.md describes, wired together, with a root
// process already registered with the dispatcher.
type Kernel struct {
	Pages      *pagealloc.Allocator
	Space      *vm.Space
	Sched      *sched.Scheduler
	Procs      *proc.Subsystem
	Dispatcher *syscall.Dispatcher
	Root       *proc.Process
	Metrics    *Metrics

	log     interfaces.Logger
	cmdline *cmdline.Options
	info    abi.BootInfo
}

// CmdLine returns the parsed, validated form of BootInfo.CmdLine.
func (k *Kernel) CmdLine() *cmdline.Options {
	return k.cmdline
}

// BootInfo returns the BootInfo Boot validated and constructed this
// kernel from.
func (k *Kernel) BootInfo() abi.BootInfo {
	return k.info
}

// availableBytes sums every Available entry of the firmware memory
// map, the way memory_find_top walks the bootinfo memory map to
// establish how much physical memory the page allocator has to work
// with (original_source/kernel/infrastructure/i686/memory/pages.c).
func availableBytes(ranges []abi.MemoryRange) uintptr {
	var total uintptr
	for _, r := range ranges {
		if r.Available {
			total += r.Length
		}
	}
	return total
}

// validateBootInfo checks the same malformed-image conditions
// get_kernel_exec_file/get_loader_elf/get_ramdisk panic on in the
// original kernel's init.c; here they're reported as an *Error instead
// of a kernel panic, since a simulator that can't boot should fail the
// caller's Boot call rather than crash the host process outright
// (spec.md §7 reserves panic for invariant violations discovered after
// boot, not handoff validation).
func validateBootInfo(info abi.BootInfo) error {
	if info.Magic != abi.BootMagic {
		return newKernelError("Boot", 0, errno.EINVAL, "bad boot info magic")
	}
	if info.KernelImageStart == 0 || info.KernelImageStart >= info.KernelImageTop {
		return newKernelError("Boot", 0, errno.EINVAL, "malformed boot image: no kernel ELF binary")
	}
	if info.LoaderImageStart == 0 || info.LoaderImageStart >= info.LoaderImageTop {
		return newKernelError("Boot", 0, errno.EINVAL, "malformed boot image: no user space loader ELF binary")
	}
	if info.RamdiskStart == 0 || info.RamdiskSize == 0 {
		return newKernelError("Boot", 0, errno.EINVAL, "no initial RAM disk loaded")
	}
	if info.BootHeapStart >= info.BootHeapEnd {
		return newKernelError("Boot", 0, errno.EINVAL, "malformed boot heap range")
	}
	if availableBytes(info.MemoryMap) < constants.PageSize {
		return newKernelError("Boot", 0, errno.ENOMEM, "no usable memory reported in memory map")
	}
	return nil
}

// Boot validates info, constructs the full subsystem chain over an
// arena sized from info's available memory map, parses info.CmdLine,
// and constructs and registers the root process and its first thread,
// whose body is entry. entry runs on its own goroutine once Boot
// returns; per the same convention internal/syscall's CREATE_THREAD
// handler documents, a caller that wants the kernel to keep running
// after entry's driving logic finishes must have entry park forever
// (e.g. loop yielding, or select{}) rather than return, since this
// simulator has no second thread to fall back to once the lone root
// thread exits.
func Boot(info abi.BootInfo, log interfaces.Logger, entry func(root *proc.Thread)) (*Kernel, error) {
	if err := validateBootInfo(info); err != nil {
		return nil, err
	}

	opts := cmdline.Parse(info.CmdLine)

	pages := pagealloc.New(int(availableBytes(info.MemoryMap)))
	space := vm.NewSpace(pages)
	s := sched.New()
	procs := proc.New(s, space, pages)
	disp := syscall.NewDispatcher(s, procs, pages, log, abi.GateInterrupt0x80)
	disp.SetMemoryMap(info.MemoryMap)

	metrics := NewMetrics()
	disp.SetObserver(NewMetricsObserver(metrics))

	root, rc := procs.ConstructProcess(constants.MaxDescriptors)
	if rc != errno.OK {
		return nil, newKernelError("Boot", 0, rc, "constructing root process")
	}
	disp.RegisterProcess(root)

	k := &Kernel{
		Pages:      pages,
		Space:      space,
		Sched:      s,
		Procs:      procs,
		Dispatcher: disp,
		Root:       root,
		Metrics:    metrics,
		log:        log,
		cmdline:    opts,
		info:       info,
	}

	if _, rc := k.SpawnRootThread(entry); rc != errno.OK {
		return nil, newKernelError("Boot", 0, rc, "spawning root thread")
	}
	return k, nil
}

// SpawnRootThread constructs a thread owned by k.Root and gives it the
// CPU directly via sched.Boot, the simulator's stand-in for the
// hardware jump to the first kernel thread. Only valid once per
// Kernel, before any other thread has run: Boot already calls this for
// the caller-supplied entry, so most callers never call it directly.
func (k *Kernel) SpawnRootThread(entry func(root *proc.Thread)) (*proc.Thread, errno.Errno) {
	var th *proc.Thread
	th, rc := k.Procs.ConstructThread(k.Root, func() { entry(th) })
	if rc != errno.OK {
		return nil, rc
	}
	k.Dispatcher.RegisterThread(th)
	if rc := k.Procs.StartThread(th, 0, 0); rc != errno.OK {
		return nil, rc
	}
	k.Sched.Boot(th.Thread)
	return th, errno.OK
}

// SpawnThread constructs and readies a thread owned by process on an
// already-running kernel (i.e. after the root thread has started),
// enqueuing it on the ready queue rather than seizing the CPU the way
// SpawnRootThread does. This is the same construct-register-start
// sequence internal/syscall's CREATE_THREAD/START_THREAD handlers
// perform from inside a trap, exposed directly for callers (tests,
// cmd/jinue-console) that need to drive the kernel from outside the
// register ABI.
func (k *Kernel) SpawnThread(process *proc.Process, entry func(*proc.Thread)) (*proc.Thread, errno.Errno) {
	var th *proc.Thread
	th, rc := k.Procs.ConstructThread(process, func() { entry(th) })
	if rc != errno.OK {
		return nil, rc
	}
	k.Dispatcher.RegisterThread(th)
	if rc := k.Procs.StartThread(th, 0, 0); rc != errno.OK {
		return nil, rc
	}
	return th, errno.OK
}
