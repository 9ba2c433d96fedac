// Package sched implements the per-CPU scheduler: one run queue and one
// idle task per CPU, FIFO ordering, and CPU assignment by pid mod ncpu.
// It is the only package that may hold a concrete *proc.Proc_t AND
// install the function-variable hooks (wait.Yield, wait.Enqueue,
// proc.SchedEnqueue, proc.SchedExit) that let proc and wait call back
// into it without importing it -- mirroring the teacher's own
// Cpumap(f func(int) uint32) hook in its virtual-memory layer.
package sched

import (
	"sync"

	"defs"
	"limits"
	"mem"
	"proc"
	"stats"
	"wait"
)

/// LoadPmap is the external hardware collaborator that actually points
/// the CPU's page-table base register at a new address space. Hardware
/// bring-up is out of scope here, so by default it is nil and the
/// dispatcher just skips the step -- the boot layer installs a real one
/// when one exists.
var LoadPmap func(mem.Pa_t)

/// Cpu_t is one CPU's scheduling state: its run queue, its idle task,
/// and the handoff channel its dispatcher goroutine uses to hand control
/// to whichever process it just picked.
type Cpu_t struct {
	sync.Mutex // the runq_lock: guards Runq and Current
	Id         int
	Idle       *proc.Proc_t
	Runq       []*proc.Proc_t
	Current    *proc.Proc_t
	wake       chan struct{}
	yielded    chan struct{}
	sched      stats.Counter_t
}

func newCpu(id int) *Cpu_t {
	c := &Cpu_t{
		Id:      id,
		wake:    make(chan struct{}, 1),
		yielded: make(chan struct{}),
	}
	c.Idle = &proc.Proc_t{PidNo: 0, State: defs.PROC_RUNNABLE}
	return c
}

func (c *Cpu_t) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

var cpus []*Cpu_t

/// Init creates n CPUs (clamped to limits.NCPU_MAX), wires every DI hook
/// wait and proc need, and starts each CPU's dispatcher goroutine. Call
/// once at boot, before the first proc.BuildInit/Fork.
func Init(n int) {
	if n < 1 {
		n = 1
	}
	if n > limits.NCPU_MAX {
		n = limits.NCPU_MAX
	}
	cpus = make([]*Cpu_t, n)
	for i := range cpus {
		cpus[i] = newCpu(i)
	}

	wait.Yield = func(p wait.Proc_i) { yield(p.(*proc.Proc_t)) }
	wait.Enqueue = func(p wait.Proc_i) { enqueue(p.(*proc.Proc_t)) }
	proc.SchedEnqueue = func(p *proc.Proc_t) { assignAndEnqueue(p) }
	proc.SchedExit = func(p *proc.Proc_t) {
		cpus[p.Cpu].yielded <- struct{}{}
	}

	for _, c := range cpus {
		go c.run()
	}
}

/// Ncpu reports the number of CPUs configured by Init.
func Ncpu() int { return len(cpus) }

func assignAndEnqueue(p *proc.Proc_t) {
	p.Cpu = int(p.Pid()) % len(cpus)
	enqueue(p)
}

func enqueue(p *proc.Proc_t) {
	c := cpus[p.Cpu]
	c.Lock()
	c.Runq = append(c.Runq, p)
	c.Unlock()
	c.poke()
}

// yield is installed as wait.Yield: it runs on the goroutine embodying
// p, hands control back to p's CPU dispatcher, and blocks until the
// dispatcher grants p another turn. p is supplied by the caller (every
// wait.Waiter_t already knows which process it belongs to) rather than
// discovered via a goroutine-local lookup.
func yield(p *proc.Proc_t) {
	c := cpus[p.Cpu]
	c.yielded <- struct{}{}
	<-p.Turn
}

// run is a CPU's dispatcher loop: steps 2-5 of the scheduler algorithm.
// Step 1 (resume current without going through the queue) does not apply
// in this hosted model, since run is only ever re-entered after the
// previous occupant has itself relinquished the CPU via yielded<-, so
// "current" is always either requeued or dropped, never resumed
// in-place -- a simplification forced by there being no real interrupt
// path to reenter the scheduler out-of-band.
func (c *Cpu_t) run() {
	for {
		c.Lock()
		cur := c.Current
		if cur != nil {
			switch cur.GetState() {
			case defs.PROC_RUNNABLE:
				c.Runq = append(c.Runq, cur)
			case defs.PROC_EXITED, defs.PROC_WAIT_EXITED, defs.PROC_DEAD, defs.PROC_BROKEN:
				// zombie or broken: never scheduled again, record
				// survives for waitpid to reap.
			}
			c.Current = nil
		}

		var next *proc.Proc_t
		if len(c.Runq) > 0 {
			next = c.Runq[0]
			c.Runq = c.Runq[1:]
		} else {
			next = c.Idle
		}
		c.Current = next
		c.sched.Inc()
		c.Unlock()

		if next == c.Idle {
			<-c.wake // HLT: block until something is enqueued
			continue
		}

		if LoadPmap != nil {
			LoadPmap(next.Vm.P_pmap)
		}
		next.Turn <- struct{}{}
		<-c.yielded
	}
}

/// Tick drives the sleep wheel forward by one HZ=100 timer tick,
/// advancing the global clock and waking everyone whose deadline has
/// arrived. The boot layer (or a test) calls this on whatever cadence
/// simulates the hardware timer.
func Tick() {
	now := proc.AdvanceClock()
	proc.SleepWheel.Tick(now)
}
