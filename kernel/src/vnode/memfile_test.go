package vnode

import "testing"

// Read clamps to min(n, len-off); write clamps to the file's current
// length and never grows it.
func TestMemfileReadWriteClamp(t *testing.T) {
	m, err := MkMemfile(make([]uint8, 8))
	if err != 0 {
		t.Fatalf("MkMemfile failed: %d", err)
	}

	src := newByteio([]byte("hello world"))
	n, err := m.Write(dummyProc{}, src, 0)
	if err != 0 {
		t.Fatalf("write failed: %d", err)
	}
	if n != 8 {
		t.Fatalf("write should clamp to the file's length 8, got %d", n)
	}

	dst := newByteio(make([]byte, 20))
	n, err = m.Read(dummyProc{}, dst, 0)
	if err != 0 {
		t.Fatalf("read failed: %d", err)
	}
	if n != 8 {
		t.Fatalf("read should clamp to len-off, got %d", n)
	}
	if string(dst.buf[:n]) != "hello wo" {
		t.Fatalf("unexpected contents: %q", dst.buf[:n])
	}

	// writing again past the end of the file must not grow it.
	n, err = m.Write(dummyProc{}, newByteio([]byte("x")), 8)
	if err != 0 || n != 0 {
		t.Fatalf("write past end should be a no-op, got n=%d err=%d", n, err)
	}
}

// Truncate resets length to zero; both reads and writes become no-ops
// afterward, matching the source this vnode is ported from.
func TestMemfileTruncate(t *testing.T) {
	m, err := MkMemfile([]byte("data"))
	if err != 0 {
		t.Fatalf("MkMemfile failed: %d", err)
	}
	m.Truncate()

	n, err := m.Read(dummyProc{}, newByteio(make([]byte, 4)), 0)
	if err != 0 || n != 0 {
		t.Fatalf("read after truncate should return (0, nil), got n=%d err=%d", n, err)
	}
	n, err = m.Write(dummyProc{}, newByteio([]byte("z")), 0)
	if err != 0 || n != 0 {
		t.Fatalf("write after truncate should return (0, nil), got n=%d err=%d", n, err)
	}
}

func TestMemfileRefcounting(t *testing.T) {
	m, err := MkMemfile([]byte("x"))
	if err != 0 {
		t.Fatalf("MkMemfile failed: %d", err)
	}
	m.Reopen()
	if m.refs != 2 {
		t.Fatalf("expected refs 2 after Reopen, got %d", m.refs)
	}
	m.Close()
	if m.refs != 1 || m.data == nil {
		t.Fatalf("one close should not destroy a doubly-opened memfile")
	}
	m.Close()
	if m.refs != 0 || m.data != nil {
		t.Fatalf("last close should drop the backing buffer")
	}
}
