package proc

import (
	"sync"

	"defs"
	"limits"
)

/// Ptable_t is the fixed-capacity PID -> process record map. Reserve
/// splits PID allocation into two steps (reserve, then Install) so Fork
/// can hold a PID against double-allocation while it is still building
/// the rest of the child's state, and can cheaply give the PID back on
/// any failure along the way.
type Ptable_t struct {
	sync.Mutex
	procs   map[defs.Pid_t]*Proc_t
	nextPid defs.Pid_t
}

/// Ptable is the global process table.
var Ptable = &Ptable_t{
	procs:   make(map[defs.Pid_t]*Proc_t),
	nextPid: defs.InitPid,
}

/// Reserve finds a free PID and marks it taken (mapped to nil) without
/// yet installing a process record there.
func (pt *Ptable_t) Reserve() (defs.Pid_t, bool) {
	pt.Lock()
	defer pt.Unlock()
	if len(pt.procs) >= limits.NPROC {
		return 0, false
	}
	for {
		pid := pt.nextPid
		pt.nextPid++
		if pt.nextPid < defs.InitPid {
			pt.nextPid = defs.InitPid
		}
		if _, taken := pt.procs[pid]; !taken {
			pt.procs[pid] = nil
			return pid, true
		}
	}
}

/// Release frees a PID reserved but never installed, on a failed fork.
func (pt *Ptable_t) Release(pid defs.Pid_t) {
	pt.Lock()
	delete(pt.procs, pid)
	pt.Unlock()
}

/// Install publishes a fully-built process record at its reserved PID.
func (pt *Ptable_t) Install(pid defs.Pid_t, p *Proc_t) {
	pt.Lock()
	pt.procs[pid] = p
	pt.Unlock()
}

/// Get looks up a process record by PID, or nil if none exists.
func (pt *Ptable_t) Get(pid defs.Pid_t) *Proc_t {
	pt.Lock()
	defer pt.Unlock()
	return pt.procs[pid]
}

/// Remove clears a PID's slot entirely, done by the reaping parent (or
/// init) once a zombie's status has been collected.
func (pt *Ptable_t) Remove(pid defs.Pid_t) {
	pt.Lock()
	delete(pt.procs, pid)
	pt.Unlock()
}

/// Len reports the number of live table entries, reserved or installed.
func (pt *Ptable_t) Len() int {
	pt.Lock()
	defer pt.Unlock()
	return len(pt.procs)
}
