// Package errno defines the kernel's error-number namespace (spec.md
// §3, §4.4, §4.6): the small set of codes descriptor operations, IPC,
// and the system-call dispatcher return to userspace. Kept as its own
// package (rather than living on the root jinue package) so every
// internal subsystem can return these codes without an import cycle
// back through the package that assembles them into a kernel.
package errno

// Errno is a kernel-level error code, returned to userspace as the
// negative return value of a system call (spec.md §4.8).
type Errno int32

const (
	// OK is not itself returned as a failure; it is the zero value for
	// call sites that want an explicit "no error" alongside a result.
	OK Errno = 0

	// EBADF: descriptor slot is FREE or RESERVED, or otherwise not a
	// valid handle for the requested operation.
	EBADF Errno = 1
	// EIO: the descriptor's slot or underlying object is DESTROYED.
	EIO Errno = 2
	// E2BIG: a reply or message payload exceeds the receiver's bound.
	E2BIG Errno = 3
	// EINVAL: malformed arguments (bad function number, misaligned
	// address, permission bits outside all_permissions, etc).
	EINVAL Errno = 4
	// EPERM: the caller lacks a permission bit required for the call.
	EPERM Errno = 5
	// EAGAIN: operation could not complete without blocking and the
	// caller asked for a non-blocking attempt.
	EAGAIN Errno = 6
	// ENOMEM: the physical page allocator or a slab cache is exhausted.
	ENOMEM Errno = 7
	// ESRCH: join target is not joinable (already being joined, or
	// never started).
	ESRCH Errno = 8
	// EPIPE: the receiver on the other end of a pending reply exited
	// without replying.
	EPIPE Errno = 9
	// ENOSYS: the function number does not name a recognized system
	// call and is below UserBase (so it cannot be a send either).
	ENOSYS Errno = 10
)

func (e Errno) String() string {
	switch e {
	case OK:
		return "OK"
	case EBADF:
		return "EBADF"
	case EIO:
		return "EIO"
	case E2BIG:
		return "E2BIG"
	case EINVAL:
		return "EINVAL"
	case EPERM:
		return "EPERM"
	case EAGAIN:
		return "EAGAIN"
	case ENOMEM:
		return "ENOMEM"
	case ESRCH:
		return "ESRCH"
	case EPIPE:
		return "EPIPE"
	case ENOSYS:
		return "ENOSYS"
	default:
		return "EUNKNOWN"
	}
}

// Error adapts Errno to the error interface so it can be returned
// directly from Go APIs while dispatch code still extracts the raw
// code to place in a syscall's return register.
func (e Errno) Error() string {
	return e.String()
}
