package fd

import (
	"testing"

	"defs"
	"fdops"
)

// refcountedStub is a minimal Fdops_i that just tracks its own ref count,
// for exercising Fdtable_t bookkeeping without a real vnode.
type refcountedStub struct {
	refs int
}

func (s *refcountedStub) Read(caller fdops.Proc_i, dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, 0
}
func (s *refcountedStub) Write(caller fdops.Proc_i, src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, 0
}
func (s *refcountedStub) Reopen() defs.Err_t {
	s.refs++
	return 0
}
func (s *refcountedStub) Close() defs.Err_t {
	s.refs--
	return 0
}

func TestInstallLowestFreeSlot(t *testing.T) {
	ft := MkFdtable()
	ops := &refcountedStub{refs: 1}
	fd0, err := ft.Install(&Fd_t{Fops: ops, Perms: FD_READ})
	if err != 0 || fd0 != 0 {
		t.Fatalf("expected fd 0, got %d err %d", fd0, err)
	}
	ft.Close(0)
	fd1, err := ft.Install(&Fd_t{Fops: ops, Perms: FD_READ})
	if err != 0 || fd1 != 0 {
		t.Fatalf("expected the freed slot 0 to be reused, got %d", fd1)
	}
}

func TestCloseAlreadyClosedReturnsEBADF(t *testing.T) {
	ft := MkFdtable()
	if err := ft.Close(3); err != defs.E_BADF {
		t.Fatalf("expected E_BADF closing an unopened fd, got %d", err)
	}
	ops := &refcountedStub{refs: 1}
	ft.Install(&Fd_t{Fops: ops, Perms: FD_READ})
	ft.Close(0)
	if err := ft.Close(0); err != defs.E_BADF {
		t.Fatalf("expected E_BADF on double close, got %d", err)
	}
}

func TestDup2SelfIsNoop(t *testing.T) {
	ft := MkFdtable()
	ops := &refcountedStub{refs: 1}
	ft.Install(&Fd_t{Fops: ops, Perms: FD_READ})
	if err := ft.Dup2(0, 0); err != 0 {
		t.Fatalf("self-dup should succeed, got %d", err)
	}
	if ops.refs != 1 {
		t.Fatalf("self-dup must not change ref count, got %d", ops.refs)
	}
}

func TestDup2RefCounting(t *testing.T) {
	ft := MkFdtable()
	ops := &refcountedStub{refs: 1}
	ft.Install(&Fd_t{Fops: ops, Perms: FD_READ})
	if err := ft.Dup2(0, 5); err != 0 {
		t.Fatalf("dup2 failed: %d", err)
	}
	if ops.refs != 2 {
		t.Fatalf("expected ref count 2 after dup2, got %d", ops.refs)
	}
	ft.Close(0)
	if ops.refs != 1 {
		t.Fatalf("expected ref count 1 after closing original, got %d", ops.refs)
	}
	ft.Close(5)
	if ops.refs != 0 {
		t.Fatalf("expected ref count 0 after closing the dup, got %d", ops.refs)
	}
}

func TestCopyTableConservesRefs(t *testing.T) {
	ft := MkFdtable()
	ops := &refcountedStub{refs: 1}
	ft.Install(&Fd_t{Fops: ops, Perms: FD_READ})
	nt, err := ft.CopyTable()
	if err != 0 {
		t.Fatalf("CopyTable failed: %d", err)
	}
	if ops.refs != 2 {
		t.Fatalf("expected ref count 2 after fork-time copy, got %d", ops.refs)
	}
	nt.CloseAll()
	if ops.refs != 1 {
		t.Fatalf("expected ref count back to 1 after child closes all, got %d", ops.refs)
	}
	ft.CloseAll()
	if ops.refs != 0 {
		t.Fatalf("expected ref count 0 after parent closes all, got %d", ops.refs)
	}
}
