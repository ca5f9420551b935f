// Package ipc implements the kernel's synchronous send/receive/reply
// rendezvous over endpoint objects (spec.md §4.6). A send blocks until
// a receiver takes delivery and eventually replies (or the endpoint is
// destroyed, or the receiver exits without replying); a receive either
// completes immediately against an already-waiting sender or blocks
// until one arrives.
package ipc

import (
	"sync"
	"time"

	"github.com/jinuekernel/jinue/internal/constants"
	"github.com/jinuekernel/jinue/internal/errno"
	"github.com/jinuekernel/jinue/internal/interfaces"
	"github.com/jinuekernel/jinue/internal/object"
	"github.com/jinuekernel/jinue/internal/sched"
)

// Endpoint pairs an object.Endpoint (the descriptor-subsystem's view:
// refcount, receiver count, destroy hook) with the FIFO sender/receiver
// wait queues spec.md §4.6 describes. The two queues are mutually
// exclusive: whenever one is non-empty the other is always empty,
// since an arriving thread of either kind immediately rendezvouses
// with the head of the opposite queue instead of enqueuing.
type Endpoint struct {
	*object.Endpoint

	sched *sched.Scheduler

	mu    sync.Mutex
	sendQ []*sched.Thread
	recvQ []*sched.Thread

	obs interfaces.Observer
}

// SetObserver attaches obs so every completed send and receive on this
// endpoint is reported to it; nil disables reporting.
func (e *Endpoint) SetObserver(obs interfaces.Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = obs
}

// New creates an endpoint bound to s, wiring the underlying
// object.Endpoint's destroy hook to abort any threads still queued on
// it (spec.md §4.4: destroying an object aborts in-flight operations
// against it).
func New(s *sched.Scheduler) *Endpoint {
	e := &Endpoint{
		Endpoint: object.NewEndpoint(),
		sched:    s,
	}
	e.Endpoint.OnDestroy = e.abortQueues
	return e
}

// Send gathers payload to fn/cookie, rendezvouses with a waiting
// receiver if one is queued (otherwise enqueues itself as a sender),
// and blocks until a reply, an error, or an aborting endpoint
// destruction resumes it. replyBuffers is the caller's own scatter
// list that a subsequent Reply copies into. Returns the number of
// bytes the reply actually wrote.
func (e *Endpoint) Send(sender *sched.Thread, fn uint32, cookie uintptr, payload []byte, replyBuffers [][]byte) (int, errno.Errno) {
	start := time.Now()
	if len(payload) > constants.MaxMessageSize {
		return 0, errno.EINVAL
	}

	sender.PendingFunction = fn
	sender.PendingCookie = cookie
	sender.PendingPayload = payload
	sender.ReplyBuffers = replyBuffers
	sender.IPCErrno = errno.OK
	sender.ReplySize = 0

	e.mu.Lock()
	obs := e.obs
	if len(e.recvQ) > 0 {
		r := e.recvQ[0]
		e.recvQ = e.recvQ[1:]
		r.Sender = sender
		r.Inbox = sched.Message{Function: fn, Cookie: cookie, Payload: payload}
		e.sched.Ready(r)
	} else {
		e.sendQ = append(e.sendQ, sender)
	}
	e.sched.BlockCurrentAndUnlock(&e.mu)

	success := sender.IPCErrno == errno.OK
	observeIPC(obs, "send", len(payload), start, success)
	if !success {
		return 0, sender.IPCErrno
	}
	return sender.ReplySize, errno.OK
}

// Receive takes delivery of the oldest queued sender's message, or
// blocks until one arrives. recvCap is the total capacity of the
// caller's own receive buffers: a queued sender whose payload exceeds
// it fails both sides with E2BIG immediately (spec.md §4.6's
// double-fault policy) rather than letting the receiver block on a
// message it can never fully accept.
func (e *Endpoint) Receive(receiver *sched.Thread, recvCap int) (sched.Message, errno.Errno) {
	start := time.Now()
	e.mu.Lock()
	obs := e.obs
	if len(e.sendQ) > 0 {
		s := e.sendQ[0]
		e.sendQ = e.sendQ[1:]
		if len(s.PendingPayload) > recvCap {
			s.IPCErrno = errno.E2BIG
			e.sched.Ready(s)
			e.mu.Unlock()
			observeIPC(obs, "receive", 0, start, false)
			return sched.Message{}, errno.E2BIG
		}
		receiver.Sender = s
		msg := sched.Message{Function: s.PendingFunction, Cookie: s.PendingCookie, Payload: s.PendingPayload}
		e.mu.Unlock()
		observeIPC(obs, "receive", len(msg.Payload), start, true)
		return msg, errno.OK
	}
	e.recvQ = append(e.recvQ, receiver)
	e.sched.BlockCurrentAndUnlock(&e.mu)

	success := receiver.IPCErrno == errno.OK
	observeIPC(obs, "receive", len(receiver.Inbox.Payload), start, success)
	return receiver.Inbox, receiver.IPCErrno
}

// observeIPC reports one completed send or receive; a nil observer is
// a no-op, checked here rather than at every call site above.
func observeIPC(obs interfaces.Observer, op string, bytes int, start time.Time, success bool) {
	if obs != nil {
		obs.ObserveIPC(op, uint64(bytes), uint64(time.Since(start).Nanoseconds()), success)
	}
}

// Reply copies payload into the sender current is currently serving
// (recorded in current.Sender by a prior Receive) and wakes it. If
// payload exceeds the sender's registered reply capacity the sender's
// call still fails with E2BIG, but is released regardless — a
// receiver's bad reply never leaves a sender parked forever.
func (e *Endpoint) Reply(current *sched.Thread, payload []byte) errno.Errno {
	s := current.Sender
	if s == nil {
		return errno.EPERM
	}
	current.Sender = nil

	replyCap := 0
	for _, b := range s.ReplyBuffers {
		replyCap += len(b)
	}
	if len(payload) > replyCap {
		s.IPCErrno = errno.E2BIG
		s.ReplySize = 0
	} else {
		s.IPCErrno = errno.OK
		s.ReplySize = scatter(payload, s.ReplyBuffers)
	}
	e.sched.Ready(s)
	return errno.OK
}

// ReplyError fails the sender current is serving with code instead of
// delivering a payload, and releases it.
func (e *Endpoint) ReplyError(current *sched.Thread, code errno.Errno) errno.Errno {
	s := current.Sender
	if s == nil {
		return errno.EPERM
	}
	current.Sender = nil
	s.IPCErrno = code
	s.ReplySize = 0
	e.sched.Ready(s)
	return errno.OK
}

// abortQueues drains both wait queues and fails every thread on them
// with EIO, run when the endpoint object is destroyed (its last
// receiver descriptor closed, or explicit destroy). The scheduler
// wake-up happens outside e.mu, matching the lock-discipline the rest
// of the tree uses for hook invocations.
func (e *Endpoint) abortQueues() {
	e.mu.Lock()
	senders := e.sendQ
	receivers := e.recvQ
	e.sendQ = nil
	e.recvQ = nil
	e.mu.Unlock()

	for _, t := range senders {
		t.IPCErrno = errno.EIO
		e.sched.Ready(t)
	}
	for _, t := range receivers {
		t.IPCErrno = errno.EIO
		e.sched.Ready(t)
	}
}

// scatter copies src into dest's buffers in order, returning the
// total bytes written.
func scatter(src []byte, dest [][]byte) int {
	n := 0
	for _, d := range dest {
		if len(src) == 0 {
			break
		}
		c := copy(d, src)
		src = src[c:]
		n += c
	}
	return n
}
