// Package wait implements the kernel's blocking/wakeup primitive: a
// mutex-protected wait queue of waiters, the block_until condition
// variable loop built on top of it, and a sleep wheel for msleep.
//
// wait knows nothing about process records or the scheduler; it talks to
// both through the small Proc_i interface and two function variables
// (Yield, Enqueue) that sched installs at boot, the same dependency
// injection the teacher uses to let its virtual-memory layer call back
// into the TLB-shootdown driver without an import cycle. Both functions
// take the process they act on explicitly, so no goroutine-local "who am
// I" lookup is ever needed.
package wait

import (
	"sync"

	"defs"
)

/// Proc_i is the slice of a process record the wait package needs: enough
/// to flip its scheduling state and identify it for wake_pid.
type Proc_i interface {
	Pid() defs.Pid_t
	SetBlocked()
	SetRunnable()
}

/// Yield suspends p until the scheduler runs it again. It is installed
/// by the sched package at boot; wait.Block panics if called before that
/// happens. p is threaded through explicitly by the caller (the Waiter_t
/// already knows which process it belongs to) rather than discovered via
/// a goroutine-local lookup.
var Yield func(p Proc_i)

/// Enqueue appends a newly-runnable process to its owning CPU's run
/// queue. Installed by the sched package at boot.
var Enqueue func(Proc_i)

/// Waiter_t binds a process to at most one wait queue at a time. Deadline
/// is used only by sleep-wheel waiters (0 otherwise); Interrupted
/// distinguishes a wakeup that arrived before a sleep's deadline from one
/// that arrived because the deadline itself elapsed.
type Waiter_t struct {
	p           Proc_i
	wq          *Waitqueue_t
	linked      bool
	Deadline    uint64
	Interrupted bool
}

/// NewWaiter creates a waiter for p. The same waiter may be reused across
/// many prepare/block cycles (e.g. inside BlockUntil's loop).
func NewWaiter(p Proc_i) *Waiter_t {
	return &Waiter_t{p: p}
}

/// Waitqueue_t is a mutex-protected FIFO of waiters.
type Waitqueue_t struct {
	sync.Mutex
	list []*Waiter_t
}

/// Prepare atomically marks the caller blocked and appends its waiter to
/// wq, unless it is already linked there. Per the lost-wakeup-safe
/// discipline, callers must call Prepare (with their predicate lock held)
/// before testing the predicate they intend to block on.
func (wq *Waitqueue_t) Prepare(w *Waiter_t) {
	wq.Lock()
	if !w.linked {
		w.wq = wq
		wq.list = append(wq.list, w)
		w.linked = true
	}
	wq.Unlock()
	w.p.SetBlocked()
}

// unlink removes w from whichever queue it's linked to, if any.
func (w *Waiter_t) unlink() {
	if !w.linked {
		return
	}
	wq := w.wq
	wq.Lock()
	for i, o := range wq.list {
		if o == w {
			wq.list = append(wq.list[:i], wq.list[i+1:]...)
			break
		}
	}
	wq.Unlock()
	w.linked = false
	w.wq = nil
}

/// Block yields to the scheduler and, on return, clears w from its queue
/// if it is still linked (a defensive no-op when a wake already did so).
func (w *Waiter_t) Block() {
	if Yield == nil {
		panic("wait: scheduler not wired (Yield is nil)")
	}
	Yield(w.p)
	w.unlink()
}

// wake marks w's process runnable and re-enqueues it on its CPU.
func wake(w *Waiter_t) {
	w.p.SetRunnable()
	Enqueue(w.p)
}

/// WakeAll pops every waiter on wq, in queue order, and makes each
/// runnable on its owning CPU.
func (wq *Waitqueue_t) WakeAll() {
	wq.Lock()
	list := wq.list
	wq.list = nil
	wq.Unlock()
	for _, w := range list {
		w.linked = false
		w.wq = nil
		wake(w)
	}
}

/// WakePid wakes the first waiter (in queue order) bound to pid, if any,
/// reporting whether one was found.
func (wq *Waitqueue_t) WakePid(pid defs.Pid_t) bool {
	wq.Lock()
	for i, w := range wq.list {
		if w.p.Pid() == pid {
			wq.list = append(wq.list[:i], wq.list[i+1:]...)
			wq.Unlock()
			w.linked = false
			w.wq = nil
			wake(w)
			return true
		}
	}
	wq.Unlock()
	return false
}

/// BlockUntil is the textbook condition-variable loop: acquire lock, link
/// onto wq, test pred while still holding lock, and sleep-then-retest
/// until pred holds. Because Prepare links the waiter before pred is
/// evaluated, a wake that lands between the predicate check and the call
/// to Block is never missed -- the waiter is already on wq when it
/// happens. Returns with lock held.
func BlockUntil(wq *Waitqueue_t, w *Waiter_t, lock sync.Locker, pred func() bool) {
	lock.Lock()
	for {
		wq.Prepare(w)
		if pred() {
			break
		}
		lock.Unlock()
		w.Block()
		lock.Lock()
	}
	w.unlink()
}
