// Package proc implements process records, the process table, and the
// fork/exec/exit/waitpid lifecycle. It knows nothing about how a CPU
// actually dispatches a runnable process -- that is the sched package's
// job -- and talks to it only through two function variables it installs
// at boot (SchedEnqueue, SchedExit), the same kind of dependency
// injection the teacher's virtual-memory layer uses to reach the TLB
// shootdown driver without an import cycle.
package proc

import (
	"sync"

	"accnt"
	"caller"
	"defs"
	"fd"
	"mem"
	"vm"
)

/// ConsolePage is the one physical page ever mapped into more than one
/// address space. The boot layer sets it once before any process forks;
/// Forkcopy, Unmap, and Uvmfree all special-case it instead of
/// copying/freeing it like an ordinary user page.
var ConsolePage mem.Pa_t

/// Proc_t is a process record. Children is the forward slice of
/// child PIDs (back-links go through ParentPid, not a pointer, matching
/// the "lookups of parent go through the PID table" design note); all of
/// it is protected by the embedded mutex except where noted.
type Proc_t struct {
	sync.Mutex
	PidNo     defs.Pid_t
	ParentPid defs.Pid_t
	State     defs.Procstate_t
	Status    int
	Cpu       int
	Children  []defs.Pid_t
	Vm        *vm.Vm_t
	Fds       *fd.Fdtable_t
	Acct      accnt.Accnt_t
	Argv      []string

	// Turn is the scheduler's handoff channel for this process's
	// goroutine: sched sends on it to grant a turn, and the goroutine
	// representing the process's execution receives from it before
	// proceeding. Opaque to proc; only sched and this package's own
	// Fork/runBody plumbing touch it.
	Turn chan struct{}
}

/// Pid satisfies wait.Proc_i.
func (p *Proc_t) Pid() defs.Pid_t { return p.PidNo }

/// SetBlocked satisfies wait.Proc_i.
func (p *Proc_t) SetBlocked() {
	p.Lock()
	p.State = defs.PROC_BLOCKED
	p.Unlock()
}

/// SetRunnable satisfies wait.Proc_i.
func (p *Proc_t) SetRunnable() {
	p.Lock()
	p.State = defs.PROC_RUNNABLE
	p.Unlock()
}

/// GetState reads the process's scheduling state under lock.
func (p *Proc_t) GetState() defs.Procstate_t {
	p.Lock()
	defer p.Unlock()
	return p.State
}

/// SetBroken marks an unrecoverable user fault. Broken processes are
/// never scheduled again but remain waitable, same as an exited process.
// The call chain that drove the fault is dumped first, standing in for
// "report to the console" since this kernel has no console renderer.
func (p *Proc_t) SetBroken() {
	caller.Callerdump(2)
	p.Lock()
	p.State = defs.PROC_BROKEN
	p.Unlock()
}

