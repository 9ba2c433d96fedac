package vnode

import (
	"sync"

	"defs"
	"fdops"
)

/// Console_i is the external keyboard/display collaborator: actual
/// hardware scanning and screen rendering are out of scope (see
/// console rendering in the top-level non-goals), so the stream vnode
/// only names the contract it needs.
type Console_i interface {
	Consread(dst fdops.Userio_i) (int, defs.Err_t)
	Conswrite(src fdops.Userio_i) (int, defs.Err_t)
}

/// ConsoleDriver is installed by the boot layer; loopback_t is a
/// reasonable hosted default so the stream vnode is exercisable without
/// real hardware underneath it.
var ConsoleDriver Console_i = newLoopback()

type loopback_t struct {
	sync.Mutex
	buf []uint8
}

func newLoopback() *loopback_t {
	return &loopback_t{}
}

func (l *loopback_t) Consread(dst fdops.Userio_i) (int, defs.Err_t) {
	l.Lock()
	defer l.Unlock()
	if len(l.buf) == 0 {
		return 0, 0
	}
	n, err := dst.Uiowrite(l.buf)
	l.buf = l.buf[n:]
	return n, err
}

func (l *loopback_t) Conswrite(src fdops.Userio_i) (int, defs.Err_t) {
	l.Lock()
	defer l.Unlock()
	tmp := make([]uint8, src.Remain())
	n, err := src.Uioread(tmp)
	if err != 0 {
		return n, err
	}
	l.buf = append(l.buf, tmp[:n]...)
	return n, 0
}

/// StreamVnode_t is the single, process-wide keyboard/console endpoint.
/// It is never destroyed: Close and Reopen are no-ops.
type StreamVnode_t struct{}

/// Stream is the one global stream vnode instance; fds 0, 1, and 2 of the
/// first user process are wired to it.
var Stream = &StreamVnode_t{}

func (s *StreamVnode_t) Read(caller fdops.Proc_i, dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return ConsoleDriver.Consread(dst)
}

func (s *StreamVnode_t) Write(caller fdops.Proc_i, src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return ConsoleDriver.Conswrite(src)
}

func (s *StreamVnode_t) Reopen() defs.Err_t { return 0 }
func (s *StreamVnode_t) Close() defs.Err_t  { return 0 }
