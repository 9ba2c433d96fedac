package proc

import (
	"sync"
	"sync/atomic"

	"defs"
	"fd"
	"vm"
	"wait"
)

/// HierarchyLock serializes all parent/child edge mutations: linking a
/// new child, reparenting orphans, and unlinking a reaped zombie.
var HierarchyLock sync.Mutex

/// WaitExitWQ is the single global wait queue every blocked waitpid call
/// sleeps on; an exit wakes it and every blocked waiter re-checks whether
/// the exit was its own child.
var WaitExitWQ wait.Waitqueue_t

/// SchedEnqueue assigns p a CPU (by pid mod ncpu) and appends it to that
/// CPU's run queue. Installed by sched at boot.
var SchedEnqueue func(*Proc_t)

/// SchedExit performs the final handoff of a process's CPU once it has
/// become a zombie and will never run again. Installed by sched at boot.
var SchedExit func(*Proc_t)

/// Loader is the external ELF/image-loading collaborator: given a path
/// and argv, it returns the function that becomes the new program's
/// entry point. Installed by the boot layer; Execv returns E_NOSYS if
/// unset.
var Loader func(path string, argv []string) (func(*Proc_t), defs.Err_t)

var clock uint64

/// Now returns the current tick count.
func Now() uint64 { return atomic.LoadUint64(&clock) }

/// AdvanceClock advances the global tick counter by one and returns the
/// new value. Called by sched's timer-tick driver.
func AdvanceClock() uint64 { return atomic.AddUint64(&clock, 1) }

/// SleepWheel backs Msleep; sched's tick driver sweeps it every tick.
var SleepWheel = wait.NewWheel()

/// BuildInit constructs PID 1 directly (no parent to fork from) and
/// enqueues it to run body. Called once at boot.
func BuildInit(body func(*Proc_t)) defs.Err_t {
	vmas, ok := vm.Mkaspace()
	if !ok {
		return defs.E_NOMEM
	}
	p := &Proc_t{
		PidNo:     defs.InitPid,
		ParentPid: defs.InitPid,
		State:     defs.PROC_RUNNABLE,
		Vm:        vmas,
		Fds:       fd.MkFdtable(),
		Turn:      make(chan struct{}),
	}
	Ptable.Lock()
	Ptable.procs[defs.InitPid] = p
	if defs.InitPid >= Ptable.nextPid {
		Ptable.nextPid = defs.InitPid + 1
	}
	Ptable.Unlock()
	go runBody(p, body)
	SchedEnqueue(p)
	return 0
}

func runBody(p *Proc_t, body func(*Proc_t)) {
	<-p.Turn
	body(p)
	if !isTerminal(p.GetState()) {
		Exit(p, 0)
	}
}

// isTerminal reports whether st is a state runBody/Execv must never
// paper over with an implicit Exit: a zombie (already went through
// Exit) or broken (an unrecoverable user fault already marked it dead
// to the scheduler, per spec.md's "broken processes ... are still
// waitable" policy -- Exit must not overwrite that with a manufactured
// exited/status-0 record).
func isTerminal(st defs.Procstate_t) bool {
	switch st {
	case defs.PROC_EXITED, defs.PROC_WAIT_EXITED, defs.PROC_DEAD, defs.PROC_BROKEN:
		return true
	default:
		return false
	}
}

/// Fork builds a child process record that shares nothing but its
/// fdtable's open file descriptions and its parent's mapped pages
/// (copied, except the shared console page) with the parent, then
/// schedules a fresh goroutine to embody it and run body. body plays the
/// role the spec's register-frame copy plays in a real kernel: it is
/// where the child's "resumed" execution begins, with the child's own
/// *Proc_t passed in as body's argument. Returns the child's PID.
func Fork(parent *Proc_t, body func(*Proc_t)) (defs.Pid_t, defs.Err_t) {
	pid, ok := Ptable.Reserve()
	if !ok {
		return 0, defs.E_NOMEM
	}
	vmas, ok := vm.Mkaspace()
	if !ok {
		Ptable.Release(pid)
		return 0, defs.E_NOMEM
	}
	nfds, err := parent.Fds.CopyTable()
	if err != 0 {
		vmas.Lock_pmap()
		vmas.Uvmfree(ConsolePage)
		vmas.Unlock_pmap()
		Ptable.Release(pid)
		return 0, err
	}
	vmas.Lock_pmap()
	parent.Vm.Lock_pmap()
	err = vmas.Forkcopy(parent.Vm, ConsolePage)
	parent.Vm.Unlock_pmap()
	if err != 0 {
		vmas.Uvmfree(ConsolePage)
		vmas.Unlock_pmap()
		nfds.CloseAll()
		Ptable.Release(pid)
		return 0, err
	}
	vmas.Unlock_pmap()

	child := &Proc_t{
		PidNo:     pid,
		ParentPid: parent.PidNo,
		State:     defs.PROC_RUNNABLE,
		Vm:        vmas,
		Fds:       nfds,
		Turn:      make(chan struct{}),
	}

	HierarchyLock.Lock()
	parent.Children = append(parent.Children, pid)
	HierarchyLock.Unlock()

	Ptable.Install(pid, child)
	go runBody(child, body)
	SchedEnqueue(child)
	return pid, 0
}

/// Exit tears down a process's resources, reparents its children to
/// init, marks it a zombie (wait_exited), and wakes anyone blocked in
/// waitpid. The process record itself survives until its parent (or
/// init) reaps it in Waitpid.
func Exit(p *Proc_t, status int) {
	start := p.Acct.Now()

	p.Lock()
	p.State = defs.PROC_EXITED
	p.Status = status
	p.Unlock()

	p.Fds.CloseAll()
	p.Vm.Lock_pmap()
	p.Vm.Uvmfree(ConsolePage)
	p.Vm.Unlock_pmap()

	// Snapshot and clear the child list before touching the ptable, so
	// every Ptable.Get below runs with HierarchyLock NOT held -- ptable
	// lookups come before hierarchy-lock acquisition, per the mandated
	// ptable-then-hierarchy order.
	HierarchyLock.Lock()
	orphans := append([]defs.Pid_t(nil), p.Children...)
	p.Children = nil
	HierarchyLock.Unlock()

	initp := Ptable.Get(defs.InitPid)
	for _, cpid := range orphans {
		cp := Ptable.Get(cpid)
		if cp == nil {
			continue
		}
		cp.Lock()
		cp.ParentPid = defs.InitPid
		cp.Unlock()
	}

	if initp != nil && len(orphans) > 0 {
		HierarchyLock.Lock()
		initp.Children = append(initp.Children, orphans...)
		HierarchyLock.Unlock()
	}

	p.Acct.Finish(start)

	p.Lock()
	p.State = defs.PROC_WAIT_EXITED
	p.Unlock()

	WaitExitWQ.WakeAll()

	if SchedExit != nil {
		SchedExit(p)
	}
}

/// Waitpid implements both waitpid(0, ...) (any child) and
/// waitpid(pid, ...) (a specific child), per the spec's classification:
/// a matching zombie is reaped immediately; a matching live child blocks
/// (or returns E_AGAIN under W_NOHANG); no matching child at all returns
/// E_CHILD immediately, blocking or not.
func Waitpid(parent *Proc_t, target defs.Pid_t, opts int) (defs.Pid_t, int, defs.Err_t) {
	w := wait.NewWaiter(parent)
	var reapedPid defs.Pid_t
	var reapedStatus int
	var outerr defs.Err_t

	// pred runs under HierarchyLock, by BlockUntil's own lost-wakeup-safe
	// contract: it must test the predicate and (re-)link onto WaitExitWQ
	// as one atomic step. It still calls Ptable.Get here, nesting
	// HierarchyLock -> ptable lock the reverse of the usual order, but
	// Ptable.Get is a leaf operation that never itself reaches for
	// HierarchyLock, so this nesting can never form a cycle with any
	// other acquisition in the kernel; Ptable.Remove, which has no
	// reason to run before pred is satisfied, is deferred below until
	// after HierarchyLock is released, to keep at least the mutating
	// ptable call outside the reversed nesting.
	pred := func() bool {
		if len(parent.Children) == 0 {
			outerr = defs.E_CHILD
			return true
		}
		anyMatch := false
		for i, cpid := range parent.Children {
			if target != 0 && cpid != target {
				continue
			}
			anyMatch = true
			cp := Ptable.Get(cpid)
			// A broken child is reaped exactly like a zombie: spec.md's
			// broken-process policy says such a process is "still
			// waitable" even though it never ran its own Exit. Its
			// Status stays the zero value it was constructed with,
			// since nothing ever gave it an explicit exit status.
			if cp != nil && (cp.GetState() == defs.PROC_WAIT_EXITED || cp.GetState() == defs.PROC_BROKEN) {
				reapedPid = cpid
				reapedStatus = cp.Status
				parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
				cp.Lock()
				cp.State = defs.PROC_DEAD
				cp.Unlock()
				outerr = 0
				return true
			}
		}
		if !anyMatch {
			outerr = defs.E_CHILD
			return true
		}
		if opts&defs.W_NOHANG != 0 {
			outerr = defs.E_AGAIN
			return true
		}
		return false
	}

	wait.BlockUntil(&WaitExitWQ, w, &HierarchyLock, pred)
	HierarchyLock.Unlock()
	if outerr == 0 && reapedPid != 0 {
		Ptable.Remove(reapedPid)
	}
	return reapedPid, reapedStatus, outerr
}

/// Msleep blocks the calling process for roughly ms milliseconds,
/// rounding up to whole ticks (HZ=100, 10ms/tick), or until woken early
/// by a signal-like condition, in which case it reports E_INTR instead
/// of a clean timeout.
func Msleep(p *Proc_t, ms int) defs.Err_t {
	since := p.Acct.Now()
	ticks := uint64((ms + 9) / 10)
	deadline := Now() + ticks
	w := wait.NewWaiter(p)
	SleepWheel.Sleep(w, deadline)
	w.Block()
	p.Acct.Sleep_time(since)
	if w.Interrupted {
		return defs.E_INTR
	}
	return 0
}

/// Execv replaces p's address space with the image Loader produces for
/// path/argv, retaining its PID, fdtable, and parent. On success it runs
/// the new program's entry point inline and does not return to the
/// caller in the old image's sense -- matching the spec's "exec does not
/// return" contract within this hosted model.
func Execv(p *Proc_t, path string, argv []string) defs.Err_t {
	if Loader == nil {
		return defs.E_NOSYS
	}
	entry, err := Loader(path, argv)
	if err != 0 {
		return err
	}
	newvm, ok := vm.Mkaspace()
	if !ok {
		return defs.E_NOMEM
	}
	oldvm := p.Vm
	p.Lock()
	p.Vm = newvm
	p.Argv = argv
	p.Unlock()
	oldvm.Lock_pmap()
	oldvm.Uvmfree(ConsolePage)
	oldvm.Unlock_pmap()
	p.Fds.CloseOnExec()

	entry(p)
	if !isTerminal(p.GetState()) {
		Exit(p, 0)
	}
	return 0
}
