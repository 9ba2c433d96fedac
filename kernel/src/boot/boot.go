// Package boot wires every subsystem together the way the hardware/boot
// collaborator (out of scope per its own contract) would on a real
// machine: it seeds the physical allocator from a memory map, brings up
// the per-CPU scheduler, allocates the shared console page, and builds
// the init task. It is also where the external Console_i and Loader
// collaborators get a concrete, hosted-environment implementation
// plugged in, since nothing else in the kernel should know about such
// bindings.
package boot

import (
	"buddy"
	"defs"
	"fd"
	"mem"
	"proc"
	"sched"
	"vnode"

	"golang.org/x/sync/errgroup"
)

/// Config bundles the boot-time parameters a real bootloader's memory
/// map and CPU count would supply.
type Config struct {
	Ranges []buddy.Range_t
	Ncpu   int
}

/// Boot brings the kernel up: physical memory, the scheduler, the
/// console page, and PID 1. initBody is the init task's program (almost
/// always a loop of Waitpid(0, W_NOHANG) plus whatever workload a test
/// wants PID 1 to run).
func Boot(cfg Config, initBody func(*proc.Proc_t)) defs.Err_t {
	// Seeding the physical allocator and bringing up the per-CPU
	// scheduler touch disjoint state (the allocator's free lists vs.
	// each CPU's run queue), so they run concurrently; g.Wait() is the
	// bring-up barrier before anything allocates a page through the
	// now-initialized allocator.
	var g errgroup.Group
	g.Go(func() error {
		mem.Phys_init(cfg.Ranges)
		return nil
	})
	g.Go(func() error {
		sched.Init(cfg.Ncpu)
		return nil
	})
	g.Wait()

	_, p_console, ok := mem.Physmem.Refpg_new()
	if !ok {
		return defs.E_NOMEM
	}
	proc.ConsolePage = p_console

	return proc.BuildInit(func(p *proc.Proc_t) {
		installStdStreams(p)
		initBody(p)
	})
}

// installStdStreams wires fds 0, 1, and 2 of a process to the single
// global stream vnode, per the "fds 0/1/2 of process 2 point at the
// shared console" external-interface convention -- extended here to
// whichever process calls it (init included), since nothing else would
// ever populate a fresh process's first three fds otherwise.
func installStdStreams(p *proc.Proc_t) {
	for i := 0; i < 3; i++ {
		perms := fd.FD_READ
		if i != 0 {
			perms = fd.FD_WRITE
		}
		f := &fd.Fd_t{Fops: vnode.Stream, Perms: perms}
		vnode.Stream.Reopen()
		p.Fds.Install(f)
	}
}
