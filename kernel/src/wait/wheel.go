package wait

import "limits"

// Wheel_t is a small array of wait queues indexed by deadline_tick modulo
// WHEEL_SIZE, giving O(1) sleep insertion and O(wheel size) wakeup work
// per tick. Each slot is an ordinary Waitqueue_t; every waiter in a slot
// additionally carries the deadline tick it is really due at, so that two
// sleeps landing in the same slot from different wheel rotations are not
// confused -- a naive "wake everyone in this slot" sweep is exactly the
// bug this wheel must not have.
type Wheel_t struct {
	slots [limits.WHEEL_SIZE]Waitqueue_t
}

/// NewWheel returns a ready-to-use sleep wheel. Each slot's Waitqueue_t
/// zero value is already valid, so there is nothing to initialize beyond
/// allocating the struct -- the wheel's one historical bug was an init
/// loop that wrote slot 0 into every index instead of leaving each slot
/// independent; using an array of value types instead of an index trick
/// makes that bug impossible to reintroduce.
func NewWheel() *Wheel_t {
	return &Wheel_t{}
}

func slotOf(tick uint64) uint64 {
	return tick % uint64(limits.WHEEL_SIZE)
}

/// Sleep registers w to wake at deadline (an absolute tick count). The
/// caller must still call w.Block() to actually suspend; Sleep only links
/// the waiter into its wheel slot and marks it blocked, matching
/// Waitqueue_t.Prepare's contract.
func (wh *Wheel_t) Sleep(w *Waiter_t, deadline uint64) {
	w.Deadline = deadline
	w.Interrupted = false
	wh.slots[slotOf(deadline)].Prepare(w)
}

/// Tick sweeps the slot due at tick now, waking every waiter whose
/// deadline has actually arrived (<=, not just present in the slot: a
/// waiter sleeping for longer than WHEEL_SIZE ticks revisits this same
/// slot on a later rotation and must be left alone until then).
func (wh *Wheel_t) Tick(now uint64) {
	slot := &wh.slots[slotOf(now)]
	slot.Lock()
	var due []*Waiter_t
	var remain []*Waiter_t
	for _, w := range slot.list {
		if w.Deadline <= now {
			due = append(due, w)
		} else {
			remain = append(remain, w)
		}
	}
	slot.list = remain
	slot.Unlock()

	for _, w := range due {
		w.linked = false
		w.wq = nil
		wake(w)
	}
}

/// Wake interrupts a sleeping waiter before its deadline -- the
/// "signal-like condition" case (e.g. a parent poking a sleeping child on
/// exit) -- marking it Interrupted so the caller's msleep reports E_INTR
/// instead of a clean timeout.
func (wh *Wheel_t) Wake(w *Waiter_t) {
	w.unlink()
	w.Interrupted = true
	wake(w)
}
