package jinue

import (
	"errors"
	"fmt"

	kerrno "github.com/jinuekernel/jinue/internal/errno"
)

// Errno is the kernel's error-number namespace, re-exported at the
// public API boundary: internal/errno.Errno already carries the same
// values and an Error() method, but nothing outside this module can
// import an internal package, so every code spec.md §7 defines gets
// its own public constant here, the same way the teacher re-exports
// syscall.Errno values through its own error type rather than asking
// callers to import the syscall package themselves.
type Errno int32

const (
	EBADF  Errno = Errno(kerrno.EBADF)
	EIO    Errno = Errno(kerrno.EIO)
	E2BIG  Errno = Errno(kerrno.E2BIG)
	EINVAL Errno = Errno(kerrno.EINVAL)
	EPERM  Errno = Errno(kerrno.EPERM)
	EAGAIN Errno = Errno(kerrno.EAGAIN)
	ENOMEM Errno = Errno(kerrno.ENOMEM)
	ESRCH  Errno = Errno(kerrno.ESRCH)
	EPIPE  Errno = Errno(kerrno.EPIPE)
	ENOSYS Errno = Errno(kerrno.ENOSYS)
)

func (e Errno) String() string {
	return kerrno.Errno(e).String()
}

// Error satisfies the error interface so an Errno can be returned or
// wrapped directly, mirroring syscall.Errno's own shape.
func (e Errno) Error() string {
	return e.String()
}

// errnoFrom converts an internal/errno.Errno (what every internal
// subsystem returns) into the public Errno namespace. Unexported:
// callers outside this package have no internal/errno.Errno value to
// pass it in the first place.
func errnoFrom(e kerrno.Errno) Errno {
	return Errno(e)
}

// Error is a structured kernel error with enough context to tell a
// caller which operation, which process, and which errno failed,
// directly generalizing the teacher's own Error/NewError/WrapError
// shape (Op/DevID/Code/Errno/Msg/Inner) from "a ublk device" to "a
// kernel operation against a process."
type Error struct {
	Op    string // operation that failed (e.g. "Boot", "CREATE_THREAD")
	PID   uint32 // owning process's descriptor-table identity, 0 if not applicable
	Errno Errno  // kernel error code; OK (0) if not applicable
	Msg   string // human-readable message
	Inner error  // wrapped error, if any
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%s", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = e.Errno.String()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("jinue: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("jinue: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error carrying the same Errno,
// letting callers write errors.Is(err, &jinue.Error{Errno: jinue.ENOMEM}).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Errno == te.Errno
}

// NewError constructs a structured error. pid of 0 means "not
// applicable," matching the convention spec.md's descriptor subsystem
// already uses for "no owning process."
func NewError(op string, pid uint32, code Errno, msg string, inner error) *Error {
	return &Error{Op: op, PID: pid, Errno: code, Msg: msg, Inner: inner}
}

// newKernelError is NewError's internal-facing counterpart, taking the
// kerrno.Errno value every internal subsystem actually returns.
func newKernelError(op string, pid uint32, code kerrno.Errno, msg string) *Error {
	return NewError(op, pid, errnoFrom(code), msg, nil)
}

// WrapError wraps inner with op context. If inner is already a
// structured *Error, its PID/Errno/Msg travel forward unchanged with
// only Op replaced, the same "rewrap preserves detail" rule the
// teacher's WrapError follows.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ie, ok := inner.(*Error); ok {
		return &Error{Op: op, PID: ie.PID, Errno: ie.Errno, Msg: ie.Msg, Inner: ie.Inner}
	}
	if ie, ok := inner.(Errno); ok {
		return &Error{Op: op, Errno: ie, Msg: ie.String(), Inner: inner}
	}
	return &Error{Op: op, Msg: inner.Error(), Inner: inner}
}

// IsErrno reports whether err is, or wraps, an *Error carrying code.
func IsErrno(err error, code Errno) bool {
	var je *Error
	if errors.As(err, &je) {
		return je.Errno == code
	}
	return false
}
