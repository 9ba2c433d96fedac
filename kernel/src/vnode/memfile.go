package vnode

import (
	"sync"

	"defs"
	"fdops"
	"limits"
)

/// MemfileVnode_t is an in-memory byte-buffer vnode backed by a fixed
/// slice. Its length never grows past whatever it was given at
/// construction (or truncated to): both read and write clamp to
/// len(data), using the offset the fd layer passes in rather than any
/// internal cursor, so two file descriptions open on the same memfile
/// see each other's writes exactly like a real seekable file.
type MemfileVnode_t struct {
	sync.Mutex
	data []uint8
	refs int
}

/// MkMemfile creates a memfile vnode with ref count 1 and the given
/// initial contents, counted against limits.Syslimit.Vnodes like every
/// other live vnode. A write can fill zero bytes up to size but, like
/// the source this is ported from, never extends the file past size --
/// growing a memfile is not supported.
func MkMemfile(initial []uint8) (*MemfileVnode_t, defs.Err_t) {
	if !limits.Syslimit.Vnodes.Take() {
		return nil, defs.E_NOMEM
	}
	return &MemfileVnode_t{data: initial, refs: 1}, 0
}

func (m *MemfileVnode_t) Reopen() defs.Err_t {
	m.Lock()
	m.refs++
	m.Unlock()
	return 0
}

func (m *MemfileVnode_t) Close() defs.Err_t {
	m.Lock()
	m.refs--
	dead := m.refs == 0
	m.Unlock()
	if dead {
		m.Lock()
		m.data = nil
		m.Unlock()
		limits.Syslimit.Vnodes.Give()
	}
	return 0
}

/// Truncate resets the file to empty; used by open(..., OF_TRUNC).
func (m *MemfileVnode_t) Truncate() {
	m.Lock()
	m.data = m.data[:0]
	m.Unlock()
}

func (m *MemfileVnode_t) Read(caller fdops.Proc_i, dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	m.Lock()
	defer m.Unlock()
	if offset >= len(m.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(m.data[offset:])
	return n, err
}

func (m *MemfileVnode_t) Write(caller fdops.Proc_i, src fdops.Userio_i, offset int) (int, defs.Err_t) {
	m.Lock()
	defer m.Unlock()
	if offset >= len(m.data) {
		return 0, 0
	}
	n, err := src.Uioread(m.data[offset:])
	return n, err
}
