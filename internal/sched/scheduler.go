package sched

import (
	"sync"

	"github.com/jinuekernel/jinue/internal/errno"
	"github.com/jinuekernel/jinue/internal/interfaces"
	"github.com/jinuekernel/jinue/internal/object"
)

// Scheduler owns the single FIFO ready queue and the identity of the
// currently running thread. Every method other than NewThread takes
// and releases the same spinlock-equivalent mutex spec.md §4.5
// describes as guarding the ready queue.
type Scheduler struct {
	mu      sync.Mutex
	ready   []*Thread
	current *Thread
	obs     interfaces.Observer
}

// New creates an empty scheduler with no current thread; call Boot
// once the first thread has been constructed to give it the CPU.
func New() *Scheduler {
	return &Scheduler{}
}

// SetObserver attaches obs so every context switch and ready-queue
// depth change is reported to it; nil (the default) disables
// reporting entirely rather than requiring every caller to pass a
// no-op implementation.
func (s *Scheduler) SetObserver(obs interfaces.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = obs
}

// observeReadyDepthLocked reports the current ready-queue length.
// Caller must hold s.mu.
func (s *Scheduler) observeReadyDepthLocked() {
	if s.obs != nil {
		s.obs.ObserveReadyQueueDepth(len(s.ready))
	}
}

// NewThread constructs a thread bound to owner and increments the
// owning process's running-thread count. The thread starts ZOMBIE
// (spec.md §4.5's "construct" transition) and its goroutine is already
// alive, parked awaiting its first CPU-token handoff; it becomes
// schedulable only once StartThread (the "prepare" transition) runs.
func (s *Scheduler) NewThread(owner *object.Process, entry func()) *Thread {
	t := newThread(owner, entry)
	owner.IncRunningThreads()
	t.Thread.OnDestroy = func() { s.abortJoin(t) }
	go func() {
		<-t.resume
		t.entry()
		s.ExitCurrent(0)
	}()
	return t
}

// Current returns the thread presently holding the CPU token.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Boot gives the CPU token to t directly, without a caller thread to
// park — the simulator's stand-in for the hardware jump to the first
// kernel thread at boot. t must already be READY (via StartThread).
func (s *Scheduler) Boot(t *Thread) {
	s.mu.Lock()
	s.current = t
	t.state = StateRunning
	s.removeFromReady(t)
	s.observeReadyDepthLocked()
	s.mu.Unlock()
	t.resume <- struct{}{}
}

func (s *Scheduler) removeFromReady(t *Thread) {
	for i, r := range s.ready {
		if r == t {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
}

// Ready transitions t to READY and enqueues it at the ready-queue
// tail (spec.md §4.5's ready(t)).
func (s *Scheduler) Ready(t *Thread) {
	s.mu.Lock()
	t.state = StateReady
	s.ready = append(s.ready, t)
	s.observeReadyDepthLocked()
	s.mu.Unlock()
}

// StartThread is spec.md §4.5's "prepare" transition: ZOMBIE -> READY,
// clearing the join sentinel to NONE so the thread becomes joinable.
func (s *Scheduler) StartThread(t *Thread) errno.Errno {
	s.mu.Lock()
	if t.state != StateZombie {
		s.mu.Unlock()
		return errno.EINVAL
	}
	t.joined = nil
	s.mu.Unlock()
	s.Ready(t)
	return errno.OK
}

// popReadyLocked dequeues the head of the ready queue. Caller must
// hold s.mu. Panics if the queue is empty: with single-CPU cooperative
// scheduling and no thread ready to run, the system is definitively
// deadlocked (spec.md §4.5).
func (s *Scheduler) popReadyLocked() *Thread {
	if len(s.ready) == 0 {
		panic("sched: no ready thread to run — deadlock")
	}
	next := s.ready[0]
	s.ready = s.ready[1:]
	return next
}

// switchToLocked performs the handoff itself: marks next RUNNING and
// makes it current. Caller holds s.mu and releases it before the
// actual token send, matching switch_to(t)'s contract that the current
// thread's outgoing state was already set by the caller. fromZombie
// tells the observer whether the outgoing thread exited rather than
// merely yielding or blocking.
func (s *Scheduler) switchToLocked(next *Thread, fromZombie bool) {
	s.current = next
	next.state = StateRunning
	if s.obs != nil {
		s.obs.ObserveContextSwitch(fromZombie)
	}
}

// YieldCurrent picks the ready queue's head; if empty, current keeps
// running. Otherwise current is re-queued at the tail and the switch
// happens (spec.md §4.5's yield_current()).
func (s *Scheduler) YieldCurrent() {
	s.mu.Lock()
	if len(s.ready) == 0 {
		s.mu.Unlock()
		return
	}
	next := s.popReadyLocked()
	cur := s.current
	cur.state = StateReady
	s.ready = append(s.ready, cur)
	s.switchToLocked(next, false)
	s.observeReadyDepthLocked()
	s.mu.Unlock()

	next.resume <- struct{}{}
	<-cur.resume
}

// SwitchToAndBlock sets current BLOCKED (without enqueuing it
// anywhere — the caller has already placed it on some wait queue) and
// resumes t (spec.md §4.5).
func (s *Scheduler) SwitchToAndBlock(t *Thread) {
	s.mu.Lock()
	cur := s.current
	cur.state = StateBlocked
	s.switchToLocked(t, false)
	s.mu.Unlock()

	t.resume <- struct{}{}
	<-cur.resume
}

// BlockCurrentAndUnlock is spec.md §4.5's critical primitive: dequeue
// the next ready thread (panicking if none), set current BLOCKED,
// switch to the chosen thread, and release lock once the handoff is
// committed but before the resumed thread depends on it being held.
//
// This simulator approximates "atomically after the switch commits,
// before the resumed thread observes state" by unlocking after handing
// off the CPU token but before parking the current goroutine; real Go
// scheduling means the resumed goroutine could in principle run before
// the Unlock call completes; callers relying on this primitive (e.g.
// internal/ipc) only ever use lock to protect state the resumed thread
// does not need until it is chosen again, so the narrow window is
// inert in practice rather than load-bearing.
func (s *Scheduler) BlockCurrentAndUnlock(lock sync.Locker) {
	s.mu.Lock()
	next := s.popReadyLocked()
	cur := s.current
	cur.state = StateBlocked
	s.switchToLocked(next, false)
	s.observeReadyDepthLocked()
	s.mu.Unlock()

	next.resume <- struct{}{}
	lock.Unlock()
	<-cur.resume
}

// ExitCurrent stores status, marks current ZOMBIE, wakes a joiner if
// one is waiting, fails a sender left in current's Sender slot with
// EPIPE (spec.md §4.6: a receiver that exits without replying),
// decrements the owning process's running-thread count (potentially
// destroying the process), and switches to another ready thread
// (spec.md §4.5). It does not return to its caller's goroutine: the
// caller is the thread's own entry wrapper, which ends here.
func (s *Scheduler) ExitCurrent(status int32) {
	s.mu.Lock()
	cur := s.current
	cur.exitStatus = status
	cur.state = StateZombie
	joiner := cur.joined

	var toReady []*Thread
	if joiner != nil && joiner != cur {
		joiner.joinResult = status
		toReady = append(toReady, joiner)
	}
	if cur.Sender != nil {
		cur.Sender.IPCErrno = errno.EPIPE
		toReady = append(toReady, cur.Sender)
		cur.Sender = nil
	}
	for _, t := range toReady {
		t.state = StateReady
		s.ready = append(s.ready, t)
	}
	next := s.popReadyLocked()
	s.switchToLocked(next, true)
	s.observeReadyDepthLocked()
	s.mu.Unlock()

	owner := cur.Owner
	if owner != nil && owner.DecRunningThreads() == 0 {
		owner.Destroy()
	}

	next.resume <- struct{}{}
}

// Join refuses (ESRCH) if target.joined is already set — either
// another joiner is waiting, or target is still the sentinel meaning
// "never started." Otherwise it records current as target's joiner and
// blocks until target exits, returning target's exit status.
func (s *Scheduler) Join(target *Thread) (int32, errno.Errno) {
	s.mu.Lock()
	if target.joined != nil {
		s.mu.Unlock()
		return 0, errno.ESRCH
	}
	cur := s.current
	target.joined = cur
	cur.state = StateBlocked
	next := s.popReadyLocked()
	s.switchToLocked(next, false)
	s.observeReadyDepthLocked()
	s.mu.Unlock()

	next.resume <- struct{}{}
	<-cur.resume
	return cur.joinResult, errno.OK
}

// abortJoin runs when t's descriptor is destroyed while another thread
// is joining it: the waiting joiner is woken with ESRCH-flavored exit
// semantics (reported via a negative sentinel status) rather than left
// parked forever, mirroring spec.md §4.4's "destroy aborts in-flight
// operations."
func (s *Scheduler) abortJoin(t *Thread) {
	s.mu.Lock()
	joiner := t.joined
	if joiner == nil || joiner == t {
		s.mu.Unlock()
		return
	}
	t.joined = nil
	joiner.joinResult = -1
	joiner.state = StateReady
	s.ready = append(s.ready, joiner)
	s.observeReadyDepthLocked()
	s.mu.Unlock()
}
