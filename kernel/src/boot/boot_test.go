package boot

import (
	"encoding/binary"
	"testing"
	"time"

	"buddy"
	"defs"
	"mem"
	"proc"
)

// TestBootPipeForkExit is an end-to-end exercise of the real stack --
// the real scheduler (not a test double), real address spaces, the
// real pipe vnode -- standing in for spec scenario 3 (pipe EOF) crossed
// with scenario 2 (fork/exit/wait): init creates a pipe, forks a child
// that writes into it and exits with a distinguishing status, and init
// reads the bytes back and reaps the child's exit status.
func TestBootPipeForkExit(t *testing.T) {
	type outcome struct {
		got      string
		status   int
		waitErr  defs.Err_t
		pipeErr  defs.Err_t
	}
	done := make(chan outcome, 1)

	initBody := func(init *proc.Proc_t) {
		n, err := Dispatch(init, defs.SYS_PIPE, 0, 0, 0)
		if err != 0 {
			done <- outcome{pipeErr: err}
			return
		}
		rfd := int(int32(n))
		wfd := int(int32(n >> 32))

		childPid, ferr := proc.Fork(init, func(c *proc.Proc_t) {
			if _, err := Dispatch(c, defs.SYS_PAGE_ALLOC, 0, 0, 0); err != 0 {
				return
			}
			msg := []byte("hello")
			if err := c.Vm.K2user(msg, 0); err != 0 {
				return
			}
			Dispatch(c, defs.SYS_WRITE, wfd, 0, len(msg))
			Dispatch(c, defs.SYS_EXIT, 7, 0, 0)
		})
		if ferr != 0 {
			done <- outcome{pipeErr: ferr}
			return
		}

		// init reads into its own address space, at a different va
		// than the child used in its own (independent) address space.
		readVa := mem.PGSIZE
		if _, err := Dispatch(init, defs.SYS_PAGE_ALLOC, readVa, 0, 0); err != 0 {
			done <- outcome{pipeErr: err}
			return
		}
		n, err = Dispatch(init, defs.SYS_READ, rfd, readVa, 5)
		if err != 0 || n != 5 {
			done <- outcome{pipeErr: err}
			return
		}
		buf := make([]byte, 5)
		if err := init.Vm.User2k(buf, readVa); err != 0 {
			done <- outcome{pipeErr: err}
			return
		}

		_, status, werr := proc.Waitpid(init, childPid, 0)
		done <- outcome{got: string(buf), status: status, waitErr: werr}
	}

	cfg := Config{
		Ranges: []buddy.Range_t{{Start: 0, Len: 1 << buddy.MAXORDER, Avail: true}},
		Ncpu:   2,
	}
	if err := Boot(cfg, initBody); err != 0 {
		t.Fatalf("Boot failed: %d", err)
	}

	select {
	case o := <-done:
		if o.pipeErr != 0 {
			t.Fatalf("scenario failed with err %d", o.pipeErr)
		}
		if o.got != "hello" {
			t.Fatalf("expected to read back %q, got %q", "hello", o.got)
		}
		if o.waitErr != 0 {
			t.Fatalf("waitpid failed: %d", o.waitErr)
		}
		if o.status != 7 {
			t.Fatalf("expected exit status 7, got %d", o.status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("boot scenario never completed")
	}
}

// TestDispatchFaultBreaksProcess exercises the Dispatch-level wiring for
// an unrecoverable user fault: a read through an unmapped uva comes back
// E_FAULT, and the process that caused it must come out the other side
// broken, never runnable again.
func TestDispatchFaultBreaksProcess(t *testing.T) {
	done := make(chan defs.Procstate_t, 1)
	initBody := func(p *proc.Proc_t) {
		fds, err := Dispatch(p, defs.SYS_PIPE, 0, 0, 0)
		if err != 0 {
			done <- -1
			return
		}
		_, err = Dispatch(p, defs.SYS_READ, int(int32(fds)), mem.PGSIZE*1000, 1)
		if err != defs.E_FAULT {
			done <- -1
			return
		}
		done <- p.GetState()
	}

	cfg := Config{
		Ranges: []buddy.Range_t{{Start: 0, Len: 1 << buddy.MAXORDER, Avail: true}},
		Ncpu:   1,
	}
	if err := Boot(cfg, initBody); err != 0 {
		t.Fatalf("Boot failed: %d", err)
	}

	select {
	case st := <-done:
		if st != defs.PROC_BROKEN {
			t.Fatalf("expected PROC_BROKEN after an E_FAULT, got %v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scenario never completed")
	}
}

// TestExecvCountdown stands in for spec scenario 5: a child decodes its
// own path/argv out of user memory via SYS_EXECV, and the installed
// Loader's entry point runs with the same pid and the argv the caller
// marshaled, distinguishing a real image swap from a no-op.
func TestExecvCountdown(t *testing.T) {
	const progPath = "prog"
	const arg0 = "hello"
	const arg1 = "world"

	type outcome struct {
		pid  int
		argc int
	}
	entered := make(chan outcome, 1)

	origLoader := proc.Loader
	proc.Loader = func(path string, argv []string) (func(*proc.Proc_t), defs.Err_t) {
		if path != progPath {
			return nil, defs.E_INVAL
		}
		return func(c *proc.Proc_t) {
			entered <- outcome{pid: int(c.Pid()), argc: len(argv)}
			proc.Exit(c, len(argv))
		}, 0
	}
	t.Cleanup(func() { proc.Loader = origLoader })

	type result struct {
		childPid   defs.Pid_t
		enteredPid int
		argc       int
		status     int
		waitErr    defs.Err_t
	}
	done := make(chan result, 1)

	initBody := func(init *proc.Proc_t) {
		childPid, ferr := proc.Fork(init, func(c *proc.Proc_t) {
			if _, err := Dispatch(c, defs.SYS_PAGE_ALLOC, 0, 0, 0); err != 0 {
				return
			}
			buf := make([]byte, mem.PGSIZE)
			put := func(off int, s string) int {
				copy(buf[off:], s)
				buf[off+len(s)] = 0
				return off
			}
			pathOff := put(0, progPath)
			arg0Off := put(16, arg0)
			arg1Off := put(32, arg1)
			const argvOff = 64
			binary.LittleEndian.PutUint64(buf[argvOff:], uint64(arg0Off))
			binary.LittleEndian.PutUint64(buf[argvOff+8:], uint64(arg1Off))
			binary.LittleEndian.PutUint64(buf[argvOff+16:], 0)
			if err := c.Vm.K2user(buf, 0); err != 0 {
				return
			}
			Dispatch(c, defs.SYS_EXECV, pathOff, argvOff, 0)
		})
		if ferr != 0 {
			done <- result{waitErr: ferr}
			return
		}

		var o outcome
		select {
		case o = <-entered:
		case <-time.After(2 * time.Second):
			done <- result{waitErr: defs.E_NOSYS}
			return
		}

		_, status, werr := proc.Waitpid(init, childPid, 0)
		done <- result{childPid: childPid, enteredPid: o.pid, argc: o.argc, status: status, waitErr: werr}
	}

	cfg := Config{
		Ranges: []buddy.Range_t{{Start: 0, Len: 1 << buddy.MAXORDER, Avail: true}},
		Ncpu:   2,
	}
	if err := Boot(cfg, initBody); err != 0 {
		t.Fatalf("Boot failed: %d", err)
	}

	select {
	case r := <-done:
		if r.waitErr != 0 {
			t.Fatalf("scenario failed: %d", r.waitErr)
		}
		if r.enteredPid != int(r.childPid) {
			t.Fatalf("execv must preserve pid: forked %d, entry saw %d", r.childPid, r.enteredPid)
		}
		if r.argc != 2 {
			t.Fatalf("expected argv length 2, got %d", r.argc)
		}
		if r.status != 2 {
			t.Fatalf("expected exit status 2 (argc), got %d", r.status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("execv scenario never completed")
	}
}

// TestGetpidGetppid exercises the simplest syscalls end to end: init's
// own getpid/getppid through the real dispatcher.
func TestGetpidGetppid(t *testing.T) {
	done := make(chan [2]int, 1)
	initBody := func(p *proc.Proc_t) {
		pid, _ := Dispatch(p, defs.SYS_GETPID, 0, 0, 0)
		ppid, _ := Dispatch(p, defs.SYS_GETPPID, 0, 0, 0)
		done <- [2]int{pid, ppid}
	}

	cfg := Config{
		Ranges: []buddy.Range_t{{Start: 0, Len: 1 << buddy.MAXORDER, Avail: true}},
		Ncpu:   1,
	}
	if err := Boot(cfg, initBody); err != 0 {
		t.Fatalf("Boot failed: %d", err)
	}

	select {
	case got := <-done:
		if got[0] != int(defs.InitPid) {
			t.Fatalf("expected getpid == %d, got %d", defs.InitPid, got[0])
		}
		if got[1] != int(defs.InitPid) {
			t.Fatalf("expected init's own getppid == %d (self-parented), got %d", defs.InitPid, got[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("init never ran")
	}
}
