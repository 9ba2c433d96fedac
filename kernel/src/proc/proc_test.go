package proc

import (
	"sync"
	"testing"
	"time"

	"buddy"
	"defs"
	"mem"
	"wait"
)

var memOnce sync.Once

// ensureMem seeds the global physical allocator exactly once per test
// binary; every proc test needs it since BuildInit/Fork both allocate a
// fresh address space.
func ensureMem(t *testing.T) {
	t.Helper()
	memOnce.Do(func() {
		mem.Phys_init([]buddy.Range_t{{Start: 0, Len: 1 << buddy.MAXORDER, Avail: true}})
	})
}

// installFakeSched stands in for the sched package (which this package
// cannot import: sched itself imports proc). It treats every enqueue as
// an immediate, unconditional grant of a turn on p.Turn -- there is no
// real CPU or run queue here, only however many goroutines are
// embodying live processes, exactly the parts of the scheduler contract
// proc and wait actually depend on.
func installFakeSched(t *testing.T) {
	t.Helper()
	resume := func(p *Proc_t) {
		go func() { p.Turn <- struct{}{} }()
	}
	wait.Yield = func(wp wait.Proc_i) {
		p := wp.(*Proc_t)
		<-p.Turn
	}
	wait.Enqueue = func(wp wait.Proc_i) { resume(wp.(*Proc_t)) }
	SchedEnqueue = func(p *Proc_t) { resume(p) }
	SchedExit = func(p *Proc_t) {}
	t.Cleanup(func() {
		wait.Yield = nil
		wait.Enqueue = nil
		SchedEnqueue = nil
		SchedExit = nil
	})
}

// tickUntil advances the global clock one tick at a time, sweeping the
// sleep wheel after each one, until done fires or it gives up.
func tickUntil(t *testing.T, done <-chan struct{}, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		select {
		case <-done:
			return
		default:
		}
		now := AdvanceClock()
		SleepWheel.Tick(now)
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scenario never completed: a sleeper was never woken")
	}
}

// SetBroken marks a process broken and leaves it otherwise intact (still
// waitable, just never scheduled again); boot.Dispatch is what actually
// triggers it, on an E_FAULT, but the state transition itself is exercised
// directly here.
func TestSetBroken(t *testing.T) {
	p := &Proc_t{PidNo: 99, State: defs.PROC_RUNNABLE}
	p.SetBroken()
	if got := p.GetState(); got != defs.PROC_BROKEN {
		t.Fatalf("expected PROC_BROKEN, got %v", got)
	}
}

// Scenario 2 (fork/exit/wait): a handful of children sleep for durations
// proportional to a permuted "order" and exit with status == order;
// waitpid(0) must return their statuses in ascending wake-time order,
// and a final waitpid(0) must report E_CHILD once every child is reaped.
func TestForkExitWaitOrdering(t *testing.T) {
	ensureMem(t)
	installFakeSched(t)

	orders := []int{3, 1, 2}
	var got []int
	done := make(chan struct{})
	var lastErr defs.Err_t

	body := func(parent *Proc_t) {
		for _, o := range orders {
			o := o
			if _, err := Fork(parent, func(c *Proc_t) {
				Msleep(c, 100*o)
				Exit(c, o)
			}); err != 0 {
				t.Errorf("fork failed: %d", err)
				close(done)
				return
			}
		}
		for range orders {
			_, status, err := Waitpid(parent, 0, 0)
			if err != 0 {
				lastErr = err
				close(done)
				return
			}
			got = append(got, status)
		}
		_, _, err := Waitpid(parent, 0, 0)
		lastErr = err
		close(done)
	}

	if err := BuildInit(body); err != 0 {
		t.Fatalf("BuildInit failed: %d", err)
	}

	tickUntil(t, done, 100)

	if len(got) != len(orders) {
		t.Fatalf("expected %d reaped children, got %v", len(orders), got)
	}
	for i, status := range got {
		want := i + 1 // orders 1,2,3 wake in ascending order regardless of fork order
		if status != want {
			t.Fatalf("wake order violated: position %d got status %d, want %d (full: %v)", i, status, want, got)
		}
	}
	if lastErr != defs.E_CHILD {
		t.Fatalf("expected E_CHILD after every child reaped, got %d", lastErr)
	}
}

// Scenario 6 (orphan adoption): a middle process forks two children and
// exits without waiting; both children must be reparented to init.
func TestOrphanAdoption(t *testing.T) {
	ensureMem(t)
	installFakeSched(t)

	block := make(chan struct{}) // never closed: children just park here
	keepRootAlive := make(chan struct{})
	kids := make(chan defs.Pid_t, 2)
	middleDone := make(chan struct{})

	root := func(r *Proc_t) {
		if _, err := Fork(r, func(middle *Proc_t) {
			var pids []defs.Pid_t
			for i := 0; i < 2; i++ {
				pid, err := Fork(middle, func(c *Proc_t) { <-block })
				if err != 0 {
					t.Errorf("fork failed: %d", err)
					close(middleDone)
					return
				}
				pids = append(pids, pid)
			}
			for _, pid := range pids {
				kids <- pid
			}
			Exit(middle, 0)
			close(middleDone)
		}); err != 0 {
			t.Errorf("fork of middle failed: %d", err)
			close(middleDone)
		}
		<-keepRootAlive // init never exits
	}

	if err := BuildInit(root); err != 0 {
		t.Fatalf("BuildInit failed: %d", err)
	}

	select {
	case <-middleDone:
	case <-time.After(2 * time.Second):
		t.Fatal("middle process never finished forking and exiting")
	}

	for i := 0; i < 2; i++ {
		var pid defs.Pid_t
		select {
		case pid = <-kids:
		case <-time.After(time.Second):
			t.Fatal("missing a child pid")
		}
		cp := Ptable.Get(pid)
		if cp == nil {
			t.Fatalf("child pid %d missing from the process table", pid)
		}
		cp.Lock()
		parent := cp.ParentPid
		cp.Unlock()
		if parent != defs.InitPid {
			t.Fatalf("child pid %d: expected ppid %d after orphaning, got %d", pid, defs.InitPid, parent)
		}
	}
}
