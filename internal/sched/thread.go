// Package sched implements the kernel's cooperative, single-CPU
// scheduler and thread state machine (spec.md §4.5): a FIFO ready
// queue, the READY/RUNNING/BLOCKED/ZOMBIE transitions, and join/exit
// semantics.
//
// A real i686 kernel context-switches by swapping a saved stack
// pointer and reloading CR3; this simulator represents each kernel
// thread as one parked goroutine and represents "switch_to(t)" as
// handing a single-slot CPU token (a buffered channel) to t's
// goroutine while the caller's goroutine parks on its own token,
// preserving the one-thread-runs-at-a-time invariant without a real
// trap frame. The state field is a small enum cycling a fixed set of
// per-thread ownership states, driven by explicit transition functions
// rather than implicit control flow.
package sched

import (
	"github.com/jinuekernel/jinue/internal/errno"
	"github.com/jinuekernel/jinue/internal/object"
)

// State is a thread's position in the scheduler's state machine.
type State uint8

const (
	StateZombie State = iota
	StateReady
	StateRunning
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateBlocked:
		return "BLOCKED"
	default:
		return "ZOMBIE"
	}
}

// Thread wraps the descriptor-subsystem's object.Thread with the
// scheduling state the object package deliberately does not carry.
type Thread struct {
	*object.Thread

	state      State
	resume     chan struct{}
	entry      func()
	exitStatus int32

	// joined mirrors spec.md §4.5's join slot: t itself is the sentinel
	// meaning "never started, not joinable"; nil means NONE (started,
	// nobody joining yet); any other thread is the joiner.
	joined     *Thread
	joinResult int32

	// IPC-facing state (spec.md §4.6). Sender is set on a receiver
	// thread to record which blocked sender it is currently serving
	// (cleared on reply/reply_error); Inbox is the message a receiver
	// most recently took delivery of. ReplyBuffers is the sender's own
	// scatter list, registered at send time, that the eventual reply
	// payload is copied into. IPCErrno/ReplySize report how a blocked
	// send or receive resolved once the thread is resumed.
	Sender       *Thread
	Inbox        Message
	ReplyBuffers [][]byte
	IPCErrno     errno.Errno
	ReplySize    int

	// Pending* holds a blocked sender's outgoing message until a
	// receiver dequeues it (spec.md §4.6's send case (b): "store the
	// pending descriptor on S").
	PendingFunction uint32
	PendingCookie   uintptr
	PendingPayload  []byte
}

// Message is what a receiver takes delivery of: the sender's function
// number and descriptor cookie, plus the gathered send payload.
type Message struct {
	Function uint32
	Cookie   uintptr
	Payload  []byte
}

// newThread constructs a thread bound to owner, parked: its goroutine
// exists and blocks on its CPU-token channel until a scheduler readies
// and eventually switches to it. entry is the thread's body; if entry
// returns without calling Scheduler.ExitCurrent itself, the thread
// exits with status 0.
func newThread(owner *object.Process, entry func()) *Thread {
	t := &Thread{
		Thread: object.NewThread(owner),
		state:  StateZombie,
		resume: make(chan struct{}, 1),
		entry:  entry,
	}
	t.joined = t
	return t
}

// State returns the thread's current scheduler state.
func (t *Thread) State() State { return t.state }
