// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// dynArray is one generation of a DynamicRing's backing storage. offset
// is the smallest ticket this array is responsible for; a ticket t
// belongs to this array when offset <= t and (implicitly) t is smaller
// than whatever offset the next generation was installed with.
type dynArray[T any] struct {
	offset   uint64
	slots    []ringSlot[T]
	capacity uint64
	stride   uint64
	padCount int
	pow2     bool
	mask     uint64
	shift    uint
}

func newDynArray[T any](offset, capacity uint64) *dynArray[T] {
	var zero ringSlot[T]
	padCount := slotPadding(unsafe.Sizeof(zero))
	a := &dynArray[T]{
		offset:   offset,
		slots:    make([]ringSlot[T], capacity+2*uint64(padCount)),
		capacity: capacity,
		stride:   computeStride(capacity),
		padCount: padCount,
	}
	if isPow2(capacity) {
		a.pow2 = true
		a.mask = capacity - 1
		a.shift = uint(bits.TrailingZeros64(capacity))
	}
	return a
}

func (a *dynArray[T]) slotIndex(ticket uint64) uint64 {
	local := ticket - a.offset
	if a.pow2 {
		return uint64(a.padCount) + (local*a.stride)&a.mask
	}
	return uint64(a.padCount) + (local*a.stride)%a.capacity
}

func (a *dynArray[T]) round(ticket uint64) uint64 {
	local := ticket - a.offset
	if a.pow2 {
		return local >> a.shift
	}
	return local / a.capacity
}

func (a *dynArray[T]) enqueueTurn(ticket uint64) uint64 { return 2 * a.round(ticket) }
func (a *dynArray[T]) dequeueTurn(ticket uint64) uint64 { return a.enqueueTurn(ticket) + 1 }

// state word layout: bit 0 is the seqlock writer-in-progress flag, the
// remaining bits hold the number of closed arrays installed so far. The
// active array's offset lives only on the dynArray itself (dynArray.offset)
// rather than packed into this word: offset is derived directly from the
// unbounded pushTicket/popTicket counters (see tryGrow), and shifting an
// unbounded value into a fixed-width bitfield would silently corrupt the
// seqlock once it grew past the field's width.
const (
	stateWriterBit   = 1
	stateClosedShift = 1
)

func encodeState(closedCount uint64, writer bool) uint64 {
	s := closedCount << stateClosedShift
	if writer {
		s |= stateWriterBit
	}
	return s
}

func decodeState(s uint64) (closedCount uint64, writer bool) {
	writer = s&stateWriterBit != 0
	closedCount = s >> stateClosedShift
	return
}

// computeMaxClosedArrays returns the number of growth steps needed to
// reach maxCapacity from initialCapacity at the given growth factor,
// which bounds the number of closed arrays a DynamicRing will ever
// create.
func computeMaxClosedArrays(initialCapacity, maxCapacity, growthFactor uint64) uint64 {
	if growthFactor < 2 {
		growthFactor = 2
	}
	count := uint64(0)
	cap := initialCapacity
	for cap < maxCapacity {
		next := cap * growthFactor
		if next <= cap || next > maxCapacity {
			next = maxCapacity
		}
		cap = next
		count++
	}
	return count
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// DynamicRing extends Ring with seqlock-guarded capacity growth: when a
// producer observes the active array full, it attempts to install a
// larger array while retired ("closed") arrays stay alive so that
// tickets already claimed against them still resolve correctly.
//
// A DynamicRing must not be copied after first use.
type DynamicRing[T any] struct {
	_          pad
	pushTicket atomix.Uint64
	_          pad
	popTicket  atomix.Uint64
	_          pad
	pushCount  atomix.Uint64
	popCount   atomix.Uint64
	_          pad

	state  atomix.Uint64
	active atomic.Pointer[dynArray[T]]

	closedArrays    []atomic.Pointer[dynArray[T]]
	maxCapacity     uint64
	growthFactor    uint64
	maxClosedArrays uint64

	pushNotify Notify
	popNotify  Notify
}

// NewDynamic constructs a ring that starts at initialCapacity and grows
// by growthFactor (>= 2) up to maxCapacity as needed. Panics if
// initialCapacity < 1, maxCapacity < initialCapacity, or growthFactor < 2.
func NewDynamic[T any](initialCapacity, maxCapacity, growthFactor int) *DynamicRing[T] {
	if initialCapacity < 1 || maxCapacity < initialCapacity || growthFactor < 2 {
		panic("turnqueue: invalid dynamic ring parameters")
	}
	d := &DynamicRing[T]{
		maxCapacity:  uint64(maxCapacity),
		growthFactor: uint64(growthFactor),
	}
	d.maxClosedArrays = computeMaxClosedArrays(uint64(initialCapacity), uint64(maxCapacity), uint64(growthFactor))
	d.closedArrays = make([]atomic.Pointer[dynArray[T]], d.maxClosedArrays)
	d.active.Store(newDynArray[T](0, uint64(initialCapacity)))
	d.state.StoreRelease(encodeState(0, false))
	return d
}

// loadActive reads the active array and state word under the seqlock
// protocol: reject an odd (writer-in-progress) state, then require the
// state to be unchanged after reading the array pointer.
func (d *DynamicRing[T]) loadActive() (*dynArray[T], uint64) {
	sw := spin.Wait{}
	for {
		s1 := d.state.LoadAcquire()
		if s1&stateWriterBit != 0 {
			sw.Once()
			continue
		}
		arr := d.active.Load()
		s2 := d.state.LoadAcquire()
		if s1 != s2 {
			sw.Once()
			continue
		}
		return arr, s1
	}
}

// resolveArray finds the array responsible for ticket: the active array
// if ticket falls at or after its offset, otherwise the closed array
// whose range contains it.
func (d *DynamicRing[T]) resolveArray(ticket uint64) *dynArray[T] {
	sw := spin.Wait{}
	for {
		arr, _ := d.loadActive()
		if ticket >= arr.offset {
			return arr
		}
		if a := d.findClosed(ticket); a != nil {
			return a
		}
		sw.Once()
	}
}

func (d *DynamicRing[T]) findClosed(ticket uint64) *dynArray[T] {
	closedCount, _ := decodeState(d.state.LoadAcquire())
	for i := int(closedCount) - 1; i >= 0; i-- {
		a := d.closedArrays[i].Load()
		if a != nil && ticket >= a.offset {
			return a
		}
	}
	return nil
}

// tryGrow attempts to install a larger active array. Returns nil if
// growth is not this caller's responsibility (already in progress, lost
// the seqlock race, or a concurrent grower already ran) so the caller
// simply retries its operation; returns ErrFull only when expansion is
// genuinely impossible (already at maxCapacity, or the closed-array
// bound is exhausted).
func (d *DynamicRing[T]) tryGrow() error {
	state := d.state.LoadAcquire()
	closedCount, writer := decodeState(state)
	if writer {
		return nil
	}
	oldArr := d.active.Load()
	if d.state.LoadAcquire() != state {
		// active or state moved under us between the two loads above;
		// let the caller re-resolve from scratch rather than act on a
		// torn (array, state) pairing.
		return nil
	}
	if oldArr.capacity >= d.maxCapacity {
		return withInfo(CodeQueueFull, "TryPush", "active array already at maxCapacity", ErrFull)
	}
	if closedCount >= d.maxClosedArrays {
		return withInfo(CodeQueueFull, "TryPush", "closed-array bound exhausted", ErrFull)
	}
	if !d.state.CompareAndSwapAcqRel(state, state|stateWriterBit) {
		return nil
	}

	newCapacity := oldArr.capacity * d.growthFactor
	if newCapacity > d.maxCapacity || newCapacity <= oldArr.capacity {
		newCapacity = d.maxCapacity
	}
	newOffset := 1 + maxUint64(d.pushTicket.LoadAcquire(), d.popTicket.LoadAcquire())
	newArr := newDynArray[T](newOffset, newCapacity)

	d.closedArrays[closedCount].Store(oldArr)
	d.active.Store(newArr)
	d.state.StoreRelease(encodeState(closedCount+1, false))
	return nil
}

// TryPush attempts to enqueue v without blocking. If the active array is
// full and growth room remains, it installs a larger array, but the call
// that triggered the growth still fails with ErrFull: its ticket belongs
// to the now-retired array, and any ticket blocked in a retired array
// must be retried once the blocking slot has been drained, exactly like
// a plain Ring. Later tickets land in the larger array.
func (d *DynamicRing[T]) TryPush(v T) error {
	if d.ApproximateDepth() >= int(d.maxCapacity) {
		return ErrFull
	}
	sw := spin.Wait{}
	for {
		ticket := d.pushTicket.LoadAcquire()
		arr := d.resolveArray(ticket)
		slot := &arr.slots[arr.slotIndex(ticket)]
		expected := arr.enqueueTurn(ticket)
		turn := slot.turn.LoadAcquire()
		diff := int64(turn) - int64(expected)

		switch {
		case diff == 0:
			if d.pushTicket.CompareAndSwapAcqRel(ticket, ticket+1) {
				slot.value = v
				slot.turn.StoreRelease(expected + 1)
				d.pushCount.AddAcqRel(1)
				d.popNotify.notify(&slot.turn, expected+1)
				return nil
			}
		case diff < 0:
			if d.pushTicket.LoadAcquire() != ticket {
				break
			}
			if arr != d.active.Load() {
				return ErrFull
			}
			if err := d.tryGrow(); err != nil {
				return err
			}
			continue
		}
		sw.Once()
	}
}

// TryPop attempts to dequeue a value without blocking.
func (d *DynamicRing[T]) TryPop() (T, error) {
	sw := spin.Wait{}
	for {
		ticket := d.popTicket.LoadAcquire()
		arr := d.resolveArray(ticket)
		slot := &arr.slots[arr.slotIndex(ticket)]
		expected := arr.dequeueTurn(ticket)
		turn := slot.turn.LoadAcquire()
		diff := int64(turn) - int64(expected)

		switch {
		case diff == 0:
			if d.popTicket.CompareAndSwapAcqRel(ticket, ticket+1) {
				v := slot.value
				var zero T
				slot.value = zero
				slot.turn.StoreRelease(expected + 1)
				d.popCount.AddAcqRel(1)
				d.pushNotify.notify(&slot.turn, expected+1)
				return v, nil
			}
		case diff < 0:
			if d.popTicket.LoadAcquire() == ticket {
				var zero T
				return zero, ErrEmpty
			}
		}
		sw.Once()
	}
}

func (d *DynamicRing[T]) pushWait() (*atomix.Uint64, uint64) {
	ticket := d.pushTicket.LoadAcquire()
	arr := d.resolveArray(ticket)
	slot := &arr.slots[arr.slotIndex(ticket)]
	return &slot.turn, arr.enqueueTurn(ticket)
}

func (d *DynamicRing[T]) popWait() (*atomix.Uint64, uint64) {
	ticket := d.popTicket.LoadAcquire()
	arr := d.resolveArray(ticket)
	slot := &arr.slots[arr.slotIndex(ticket)]
	return &slot.turn, arr.dequeueTurn(ticket)
}

func (d *DynamicRing[T]) notifyForPush() *Notify { return &d.pushNotify }
func (d *DynamicRing[T]) notifyForPop() *Notify  { return &d.popNotify }

// Cap returns the current (active-array) capacity.
func (d *DynamicRing[T]) Cap() int { return int(d.active.Load().capacity) }

// MaxCapacity returns the ceiling this ring will never grow past.
func (d *DynamicRing[T]) MaxCapacity() int { return int(d.maxCapacity) }

// ApproximateDepth returns a relaxed, potentially stale estimate of the
// number of values currently in the ring.
func (d *DynamicRing[T]) ApproximateDepth() int {
	v := int64(d.pushTicket.LoadAcquire()) - int64(d.popTicket.LoadAcquire())
	if v < 0 {
		return 0
	}
	return int(v)
}

// PushCount returns the total number of successful TryPush calls.
func (d *DynamicRing[T]) PushCount() uint64 { return d.pushCount.LoadAcquire() }

// PopCount returns the total number of successful TryPop calls.
func (d *DynamicRing[T]) PopCount() uint64 { return d.popCount.LoadAcquire() }

// Empty reports an approximate emptiness.
func (d *DynamicRing[T]) Empty() bool { return d.ApproximateDepth() == 0 }

// Full reports whether total outstanding items has reached maxCapacity,
// the same threshold TryPush's fast path checks before attempting a push.
func (d *DynamicRing[T]) Full() bool {
	return uint64(d.ApproximateDepth()) >= d.maxCapacity
}

// LockFree reports whether this ring's atomics are lock-free on the
// current platform. Always true.
func (d *DynamicRing[T]) LockFree() bool { return true }
