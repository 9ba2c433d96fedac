package sched

import (
	"sync"
	"testing"
	"time"

	"defs"
	"proc"
)

// runOne spawns the goroutine embodying p, exactly like proc.runBody
// does, but records the order in which p actually receives a turn and
// exits immediately instead of running any real body.
func runOne(t *testing.T, p *proc.Proc_t, order *[]defs.Pid_t, mu *sync.Mutex, wg *sync.WaitGroup) {
	t.Helper()
	go func() {
		defer wg.Done()
		<-p.Turn
		mu.Lock()
		*order = append(*order, p.Pid())
		mu.Unlock()
		p.Lock()
		p.State = defs.PROC_EXITED
		p.Unlock()
		proc.SchedExit(p)
	}()
}

func mkProc(pid defs.Pid_t) *proc.Proc_t {
	return &proc.Proc_t{PidNo: pid, State: defs.PROC_RUNNABLE, Turn: make(chan struct{})}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never ran every process: hung or lost a wakeup")
	}
}

// A single CPU's run queue is FIFO: processes enqueued in order 1,2,3
// must be dispatched in that same order.
func TestSingleCpuFIFO(t *testing.T) {
	Init(1)
	var mu sync.Mutex
	var order []defs.Pid_t
	var wg sync.WaitGroup

	procs := []*proc.Proc_t{mkProc(10), mkProc(20), mkProc(30)}
	wg.Add(len(procs))
	for _, p := range procs {
		runOne(t, p, &order, &mu, &wg)
	}
	for _, p := range procs {
		proc.SchedEnqueue(p)
	}
	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Fatalf("expected FIFO order [10 20 30], got %v", order)
	}
}

// CPU assignment is pid mod ncpu: two processes whose pids land on the
// same CPU both run, and both are recorded on that CPU.
func TestAssignmentByPidModNcpu(t *testing.T) {
	Init(4)
	var mu sync.Mutex
	var order []defs.Pid_t
	var wg sync.WaitGroup

	// pids 1 and 5 both land on cpu (pid%4)==1.
	procs := []*proc.Proc_t{mkProc(1), mkProc(5)}
	wg.Add(len(procs))
	for _, p := range procs {
		runOne(t, p, &order, &mu, &wg)
	}
	for _, p := range procs {
		proc.SchedEnqueue(p)
	}
	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 {
		t.Fatalf("expected both processes to run, got %v", order)
	}
	if procs[0].Cpu != 1 || procs[1].Cpu != 1 {
		t.Fatalf("expected both pid 1 and pid 5 assigned to cpu 1, got %d and %d", procs[0].Cpu, procs[1].Cpu)
	}
}

// With nothing enqueued, a CPU's dispatcher parks on its idle task
// rather than spinning; Tick must not panic or deadlock with no
// sleepers registered.
func TestIdleAndEmptyTick(t *testing.T) {
	Init(1)
	Tick()
	Tick()
}
