// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

const (
	notifyTableSize  = 1024
	notifyTableMask  = notifyTableSize - 1
	minProbeWindow   = 8
	maxProbeWindow   = 256
	startProbeWindow = 16
	probeAttempts    = 3
)

// waiter is a single park request registered with a Notify. It is owned
// by whichever operation state created it (an async push/pop, or a
// close-wait registration) and must not be reused once disarm has
// returned or wake has fired.
type waiter struct {
	turnPtr      *atomix.Uint64
	expectedTurn uint64

	prev, next *waiter

	owner unsafe.Pointer
	wake  func(*waiter)

	armed     atomix.Bool
	linked    atomix.Bool
	notifying atomix.Bool

	channelHint  int
	channelIndex int
}

func newWaiter(turnPtr *atomix.Uint64, expectedTurn uint64, wake func(*waiter)) *waiter {
	return &waiter{turnPtr: turnPtr, expectedTurn: expectedTurn, wake: wake, channelHint: -1}
}

// notifyChannel is one bucket of the wait table. Only waiters sharing
// the same (turnPtr, expectedTurn) pair ever occupy the same channel at
// the same time.
type notifyChannel struct {
	_ pad

	lock atomix.Bool

	keyTag   atomix.Uint64
	turnPtr  unsafe.Pointer
	expected uint64

	head *waiter
	size int

	_ pad
}

func (c *notifyChannel) acquire() {
	sw := spin.Wait{}
	for !c.lock.CompareAndSwapAcqRel(false, true) {
		sw.Once()
	}
}

func (c *notifyChannel) release() {
	c.lock.StoreRelease(false)
}

// Notify is a hash-probed table of parking channels. Producers and
// consumers arm a waiter keyed on the exact slot turn (or, for a
// channel's close-wait, the close epoch) they are blocked on; the ring
// or channel operation that advances that turn calls notify to wake
// every matching waiter.
type Notify struct {
	channels [notifyTableSize]notifyChannel
	occupied atomix.Int64
}

// mixKey mixes a turn pointer's identity with the expected turn into a
// non-zero 64-bit key, forcing the low bit to 1 so that 0 can mean
// "channel empty" without ambiguity.
func mixKey(turnPtr *atomix.Uint64, expectedTurn uint64) uint64 {
	h := uint64(uintptr(unsafe.Pointer(turnPtr)))
	h ^= expectedTurn + 0x9e3779b97f4a7c15 + h<<6 + h>>2
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	h |= 1
	if h == 0 {
		h = 1
	}
	return h
}

// turnReached reports whether current has reached or passed expected,
// using signed wraparound comparison so that a 64-bit turn counter can
// wrap without producing a false negative.
func turnReached(current, expected uint64) bool {
	return int64(current-expected) >= 0
}

// findMatching scans span channels starting at start looking for one
// truly identified by (turnPtr, expectedTurn), not merely by a keyTag
// hit. keyTag is a 64-bit hash and can collide between distinct pairs,
// so every tag match is locked and re-verified against the channel's
// recorded turnPtr/expected before being accepted; a false hit is
// unlocked and the scan continues rather than stopping, mirroring
// lock_matching_channel in the reference implementation. On success the
// returned channel is left locked for the caller.
func (n *Notify) findMatching(turnPtr *atomix.Uint64, expectedTurn uint64, key uint64, start, span int) (*notifyChannel, int) {
	if span > notifyTableSize {
		span = notifyTableSize
	}
	want := unsafe.Pointer(turnPtr)
	for i := 0; i < span; i++ {
		idx := (start + i) & notifyTableMask
		ch := &n.channels[idx]
		if ch.keyTag.LoadAcquire() != key {
			continue
		}
		ch.acquire()
		if ch.keyTag.LoadAcquire() == key && ch.turnPtr == want && ch.expected == expectedTurn {
			return ch, idx
		}
		ch.release()
	}
	return nil, -1
}

// findEmpty scans span channels starting at start looking for one with
// no key at all, re-verifying under lock (another arm may have claimed
// it between the unlocked peek and the lock), mirroring
// lock_empty_channel.
func (n *Notify) findEmpty(start, span int) (*notifyChannel, int) {
	if span > notifyTableSize {
		span = notifyTableSize
	}
	for i := 0; i < span; i++ {
		idx := (start + i) & notifyTableMask
		ch := &n.channels[idx]
		if ch.keyTag.LoadAcquire() != 0 {
			continue
		}
		ch.acquire()
		if ch.size == 0 && ch.keyTag.LoadAcquire() == 0 {
			return ch, idx
		}
		ch.release()
	}
	return nil, -1
}

// findOrReserve locates the channel for (turnPtr, expectedTurn),
// widening its search window on repeated misses and finally falling
// back to a full-table scan, exactly as findMatching/findEmpty would
// under an unbounded span. Returns the channel locked, claiming an
// empty one under the key if no true match exists yet. Returns (nil,
// -1) if every channel in the table is genuinely occupied by an
// unrelated key — possible under enough concurrently parked distinct
// (turnPtr, expectedTurn) pairs sharing this table — in which case the
// caller must fail rather than spin.
func (n *Notify) findOrReserve(turnPtr *atomix.Uint64, expectedTurn uint64, key uint64) (*notifyChannel, int) {
	start := int(key & notifyTableMask)
	window := startProbeWindow
	for attempt := 0; attempt < probeAttempts; attempt++ {
		if ch, idx := n.findMatching(turnPtr, expectedTurn, key, start, window); ch != nil {
			return ch, idx
		}
		if ch, idx := n.findEmpty(start, window); ch != nil {
			ch.turnPtr = unsafe.Pointer(turnPtr)
			ch.expected = expectedTurn
			ch.keyTag.StoreRelease(key)
			return ch, idx
		}
		if window >= maxProbeWindow {
			break
		}
		window *= 2
		if window > maxProbeWindow {
			window = maxProbeWindow
		}
	}
	if ch, idx := n.findMatching(turnPtr, expectedTurn, key, start, notifyTableSize); ch != nil {
		return ch, idx
	}
	if ch, idx := n.findEmpty(start, notifyTableSize); ch != nil {
		ch.turnPtr = unsafe.Pointer(turnPtr)
		ch.expected = expectedTurn
		ch.keyTag.StoreRelease(key)
		return ch, idx
	}
	return nil, -1
}

// arm registers w to be woken when its turn is reached. Returns false
// without linking w if the turn has already been reached or if the wait
// table has no room for it, so the caller must re-check its fast path
// immediately rather than treat a false return as fatal.
func (n *Notify) arm(w *waiter) bool {
	current := w.turnPtr.LoadAcquire()
	if turnReached(current, w.expectedTurn) {
		return false
	}
	key := mixKey(w.turnPtr, w.expectedTurn)
	want := unsafe.Pointer(w.turnPtr)

	// Optimistic fast path: the hint from a previous arm on this waiter,
	// re-verified by true identity under lock rather than trusted on tag
	// alone (lock_channel_by_hint).
	if w.channelHint >= 0 {
		hint := &n.channels[w.channelHint]
		tag := hint.keyTag.LoadAcquire()
		if tag == 0 || tag == key {
			hint.acquire()
			switch {
			case hint.turnPtr == want && hint.expected == w.expectedTurn:
				return n.linkLocked(hint, w.channelHint, w)
			case hint.size == 0:
				hint.turnPtr = want
				hint.expected = w.expectedTurn
				hint.keyTag.StoreRelease(key)
				return n.linkLocked(hint, w.channelHint, w)
			default:
				hint.release()
			}
		}
	}

	ch, idx := n.findOrReserve(w.turnPtr, w.expectedTurn, key)
	if ch == nil {
		return false
	}
	return n.linkLocked(ch, idx, w)
}

// linkLocked finishes arming w onto ch, which the caller must hold
// locked. Always releases ch's lock before returning.
func (n *Notify) linkLocked(ch *notifyChannel, idx int, w *waiter) bool {
	current := w.turnPtr.LoadAcquire()
	if turnReached(current, w.expectedTurn) {
		if ch.size == 0 {
			ch.turnPtr = nil
			ch.keyTag.StoreRelease(0)
		}
		ch.release()
		return false
	}

	wasEmpty := ch.size == 0
	w.prev = nil
	w.next = ch.head
	if ch.head != nil {
		ch.head.prev = w
	}
	ch.head = w
	ch.size++
	w.channelIndex = idx
	w.channelHint = idx
	w.linked.StoreRelease(true)
	w.armed.StoreRelease(true)
	if wasEmpty {
		n.occupied.AddAcqRel(1)
	}
	ch.release()
	return true
}

// disarm removes w from whatever channel it is linked to, if any, and
// blocks until any concurrent notify that already claimed w has finished
// touching it. Safe to call on a waiter that was never linked or has
// already been woken.
func (n *Notify) disarm(w *waiter) {
	w.armed.StoreRelease(false)

	if w.linked.LoadAcquire() {
		idx := w.channelIndex
		ch := &n.channels[idx]
		ch.acquire()
		if w.linked.LoadAcquire() {
			n.unlink(ch, w)
			w.linked.StoreRelease(false)
			ch.size--
			if ch.size == 0 {
				ch.turnPtr = nil
				ch.keyTag.StoreRelease(0)
				n.occupied.AddAcqRel(-1)
			}
		}
		ch.release()
	}

	sw := spin.Wait{}
	for w.notifying.LoadAcquire() {
		sw.Once()
	}
}

func (n *Notify) unlink(ch *notifyChannel, w *waiter) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		ch.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	}
	w.prev, w.next = nil, nil
}

// notify wakes every waiter armed against (turnPtr, turnValue). Waiters
// are detached and their channel lock released before any callback
// runs, and each callback runs at most once (an atomic exchange on
// armed excludes a racing disarm from double-processing the same
// waiter). Wake order within a channel is LIFO (head-first): the
// reference implementation this is ported from wakes most-recently-
// parked waiters first and this package preserves that behavior
// intentionally rather than emulating FIFO fairness.
func (n *Notify) notify(turnPtr *atomix.Uint64, turnValue uint64) {
	key := mixKey(turnPtr, turnValue)
	start := int(key & notifyTableMask)

	window := startProbeWindow
	var ch *notifyChannel
	for attempt := 0; attempt < probeAttempts; attempt++ {
		if c, _ := n.findMatching(turnPtr, turnValue, key, start, window); c != nil {
			ch = c
			break
		}
		if window >= maxProbeWindow {
			break
		}
		window *= 2
		if window > maxProbeWindow {
			window = maxProbeWindow
		}
	}
	if ch == nil {
		ch, _ = n.findMatching(turnPtr, turnValue, key, start, notifyTableSize)
	}
	if ch == nil {
		return
	}
	// ch is locked here (findMatching returns it locked on a true
	// identity match, never on a bare keyTag collision).

	head := ch.head
	ch.head = nil
	size := ch.size
	ch.size = 0
	ch.turnPtr = nil
	ch.keyTag.StoreRelease(0)
	if size > 0 {
		n.occupied.AddAcqRel(-1)
	}

	var ready, readyTail *waiter
	for w := head; w != nil; {
		next := w.next
		w.prev, w.next = nil, nil
		w.linked.StoreRelease(false)
		if w.armed.CompareAndSwapAcqRel(true, false) {
			w.notifying.StoreRelease(true)
			if readyTail == nil {
				ready = w
			} else {
				readyTail.next = w
			}
			readyTail = w
		}
		w = next
	}
	ch.release()

	for w := ready; w != nil; {
		next := w.next
		w.next = nil
		w.wake(w)
		w.notifying.StoreRelease(false)
		w = next
	}
}

// hasWaiters reports whether any channel in the table currently holds a
// waiter. Diagnostic only; not required by any invariant.
func (n *Notify) hasWaiters() bool {
	return n.occupied.LoadAcquire() > 0
}
