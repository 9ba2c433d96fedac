package vnode

import (
	"sync"

	"circbuf"
	"defs"
	"fdops"
	"limits"
	"wait"
)

/// PipeVnode_t is a bounded ring-buffer pipe. Reopen/Close account for
/// readers and writers separately (rather than a single ref count) so
/// that the last close on either side can wake the other with the right
/// EOF/EPIPE semantics.
type PipeVnode_t struct {
	sync.Mutex
	cb      circbuf.Circbuf_t
	readers int
	writers int
	rwq     wait.Waitqueue_t // woken when data arrives or writers hits 0
	wwq     wait.Waitqueue_t // woken when space frees up or readers hits 0
}

/// MkPipe allocates a pipe vnode (ref 2: one reader, one writer) and
/// returns its two endpoints.
func MkPipe() (fdops.Fdops_i, fdops.Fdops_i, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, nil, defs.E_NOMEM
	}
	if !limits.Syslimit.Vnodes.Take() {
		limits.Syslimit.Pipes.Give()
		return nil, nil, defs.E_NOMEM
	}
	pv := &PipeVnode_t{readers: 1, writers: 1}
	if err := pv.cb.Cb_init(limits.PIPE_BUFSZ); err != 0 {
		limits.Syslimit.Vnodes.Give()
		limits.Syslimit.Pipes.Give()
		return nil, nil, err
	}
	return &pipeEnd_t{pv: pv, read: true}, &pipeEnd_t{pv: pv, read: false}, 0
}

type pipeEnd_t struct {
	pv   *PipeVnode_t
	read bool
}

func (e *pipeEnd_t) Reopen() defs.Err_t {
	pv := e.pv
	pv.Lock()
	if e.read {
		pv.readers++
	} else {
		pv.writers++
	}
	pv.Unlock()
	return 0
}

func (e *pipeEnd_t) Close() defs.Err_t {
	pv := e.pv
	pv.Lock()
	if e.read {
		pv.readers--
		if pv.readers == 0 {
			pv.wwq.WakeAll() // writers blocked on readers>0 must see E_PIPE
		}
	} else {
		pv.writers--
		if pv.writers == 0 {
			pv.rwq.WakeAll() // readers blocked on writers>0 must see EOF
		}
	}
	destroy := pv.readers == 0 && pv.writers == 0
	pv.Unlock()
	if destroy {
		pv.cb.Cb_release()
		limits.Syslimit.Vnodes.Give()
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

func (e *pipeEnd_t) Read(caller fdops.Proc_i, dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	if !e.read {
		panic("read on write end")
	}
	pv := e.pv
	total := 0
	for dst.Remain() > 0 {
		w := wait.NewWaiter(caller)
		wait.BlockUntil(&pv.rwq, w, pv, func() bool {
			return !pv.cb.Empty() || pv.writers == 0
		})
		if pv.cb.Empty() {
			// writers == 0: EOF
			pv.Unlock()
			return total, 0
		}
		n, err := pv.cb.Copyout(dst)
		pv.Unlock()
		if err != 0 {
			return total, err
		}
		if n > 0 {
			pv.wwq.WakeAll()
		}
		total += n
		if n == 0 {
			break
		}
	}
	return total, 0
}

func (e *pipeEnd_t) Write(caller fdops.Proc_i, src fdops.Userio_i, offset int) (int, defs.Err_t) {
	if e.read {
		panic("write on read end")
	}
	pv := e.pv
	total := 0
	for src.Remain() > 0 {
		w := wait.NewWaiter(caller)
		wait.BlockUntil(&pv.wwq, w, pv, func() bool {
			return !pv.cb.Full() || pv.readers == 0
		})
		if pv.readers == 0 {
			pv.Unlock()
			return total, defs.E_PIPE
		}
		n, err := pv.cb.Copyin(src)
		pv.Unlock()
		if err != 0 {
			return total, err
		}
		if n > 0 {
			pv.rwq.WakeAll()
		}
		total += n
		if n == 0 {
			break
		}
	}
	return total, 0
}
