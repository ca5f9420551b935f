package object

import (
	"sync/atomic"

	"github.com/jinuekernel/jinue/internal/abi"
)

// Endpoint is the IPC endpoint object kind (spec.md §3, §4.6). The
// send/receive rendezvous queues themselves live in internal/ipc,
// which holds a *Endpoint alongside its queue state; this type carries
// only what the descriptor subsystem's Open/Close/Destroy contract
// needs: a receiver count (so the last receiver's Close marks the
// endpoint destroyed) and a hook to abort in-flight IPC.
type Endpoint struct {
	Header
	receivers int32

	// OnDestroy empties the endpoint's send/receive queues and signals
	// EIO to every thread blocked on them; set by internal/ipc.
	OnDestroy func()
	// OnFree, if set, runs when the last reference is released;
	// internal/ipc leaves it nil.
	OnFree func()
}

// NewEndpoint creates an endpoint object with no receivers yet.
func NewEndpoint() *Endpoint {
	return &Endpoint{}
}

func (e *Endpoint) Kind() abi.ObjectKind { return abi.KindEndpoint }

func (e *Endpoint) AllPermissions() uint32 {
	return abi.PermEndpointSend | abi.PermEndpointReceive
}

// Open records an additional receiver if the new descriptor carries
// the RECEIVE permission.
func (e *Endpoint) Open(d *Descriptor) {
	if d.Flags&abi.PermEndpointReceive != 0 {
		atomic.AddInt32(&e.receivers, 1)
	}
}

// Close drops a receiver if the closing descriptor held RECEIVE
// permission, and marks the endpoint destroyed once the last receiver
// is gone (spec.md §4.4's example of close marking an object
// destroyed).
func (e *Endpoint) Close(d *Descriptor) {
	if d.Flags&abi.PermEndpointReceive == 0 {
		return
	}
	if atomic.AddInt32(&e.receivers, -1) == 0 {
		e.markDestroyed()
		e.Destroy()
	}
}

func (e *Endpoint) Destroy() {
	if e.OnDestroy != nil {
		e.OnDestroy()
	}
}

func (e *Endpoint) Free() {
	if e.OnFree != nil {
		e.OnFree()
	}
}

// Receivers returns the current receiver-descriptor count.
func (e *Endpoint) Receivers() int32 {
	return atomic.LoadInt32(&e.receivers)
}
