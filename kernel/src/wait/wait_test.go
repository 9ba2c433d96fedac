package wait

import (
	"sync"
	"testing"
	"time"

	"defs"
)

type fakeProc struct {
	pid   defs.Pid_t
	mu    sync.Mutex
	state string
}

func (f *fakeProc) Pid() defs.Pid_t { return f.pid }
func (f *fakeProc) SetBlocked() {
	f.mu.Lock()
	f.state = "blocked"
	f.mu.Unlock()
}
func (f *fakeProc) SetRunnable() {
	f.mu.Lock()
	f.state = "runnable"
	f.mu.Unlock()
}

func installFakeSched(t *testing.T) chan Proc_i {
	t.Helper()
	enqueued := make(chan Proc_i, 16)
	Yield = func(Proc_i) {}
	Enqueue = func(p Proc_i) { enqueued <- p }
	t.Cleanup(func() {
		Yield = nil
		Enqueue = nil
	})
	return enqueued
}

func TestWakeAllOrder(t *testing.T) {
	enqueued := installFakeSched(t)
	var wq Waitqueue_t
	var waiters []*Waiter_t
	for i := 0; i < 3; i++ {
		w := NewWaiter(&fakeProc{pid: defs.Pid_t(i + 1)})
		wq.Prepare(w)
		waiters = append(waiters, w)
	}
	wq.WakeAll()
	for i := 0; i < 3; i++ {
		p := <-enqueued
		if p.Pid() != defs.Pid_t(i+1) {
			t.Fatalf("wake order violated: got pid %d at position %d", p.Pid(), i)
		}
	}
}

func TestWakePidFirstMatchOnly(t *testing.T) {
	installFakeSched(t)
	var wq Waitqueue_t
	w1 := NewWaiter(&fakeProc{pid: 5})
	w2 := NewWaiter(&fakeProc{pid: 5})
	wq.Prepare(w1)
	wq.Prepare(w2)
	if !wq.WakePid(5) {
		t.Fatal("expected a waiter to be found")
	}
	wq.Lock()
	n := len(wq.list)
	wq.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one waiter woken, %d remain", n)
	}
}

// BlockUntil must not miss a wakeup that lands between the predicate
// check and the call to Block -- the lost-wakeup-safety property.
func TestBlockUntilNoLostWakeup(t *testing.T) {
	var wq Waitqueue_t
	var lock sync.Mutex
	ready := false

	var turn chan struct{}
	released := make(chan struct{})

	Yield = func(Proc_i) {
		// Simulate another CPU flipping the predicate and waking us
		// right as we are about to block.
		lock.Lock()
		ready = true
		lock.Unlock()
		wq.WakeAll()
		<-turn
	}
	Enqueue = func(p Proc_i) {
		close(turn)
	}
	t.Cleanup(func() { Yield = nil; Enqueue = nil })
	turn = make(chan struct{})

	go func() {
		w := NewWaiter(&fakeProc{pid: 1})
		BlockUntil(&wq, w, &lock, func() bool { return ready })
		lock.Unlock()
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("BlockUntil hung: lost wakeup")
	}
}

func TestWheelTickOnlyWakesDue(t *testing.T) {
	installFakeSched(t)
	wh := NewWheel()
	near := NewWaiter(&fakeProc{pid: 1})
	far := NewWaiter(&fakeProc{pid: 2})
	wh.Sleep(near, 5)
	wh.Sleep(far, 5+uint64(len(wh.slots)))

	wh.Tick(5)

	wh.slots[slotOf(5)].Lock()
	n := len(wh.slots[slotOf(5)].list)
	wh.slots[slotOf(5)].Unlock()
	if n != 1 {
		t.Fatalf("expected the later rotation's waiter to remain, got %d left", n)
	}
	if far.linked == false {
		t.Fatal("far waiter should still be linked, awaiting its own rotation")
	}
}
