// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

import (
	"math/bits"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// ringSlot is one element of a ring's backing array. A slot with an even
// turn is empty and owned by the producer round turn/2; with an odd turn
// it is full and owned by the consumer round (turn-1)/2. Value storage
// is only meaningful while turn is odd.
type ringSlot[T any] struct {
	turn  atomix.Uint64
	value T
	_     padShort
}

// Ring is a lock-free, fixed-capacity multi-producer multi-consumer FIFO
// queue. Producers and consumers claim monotonically increasing tickets
// and publish by advancing the target slot's turn; see ringSlot for the
// turn discipline each slot follows.
//
// A Ring must not be copied after first use.
type Ring[T any] struct {
	_          pad
	pushTicket atomix.Uint64
	_          pad
	popTicket  atomix.Uint64
	_          pad
	pushCount  atomix.Uint64
	popCount   atomix.Uint64
	_          pad

	slots    []ringSlot[T]
	capacity uint64
	stride   uint64
	padCount int
	pow2     bool
	mask     uint64
	shift    uint

	// pushNotify wakes producers parked on a full slot; popNotify wakes
	// consumers parked on an empty slot.
	pushNotify Notify
	popNotify  Notify
}

// NewBounded constructs a fixed-capacity ring. Capacity is used exactly
// as given, it is never rounded up: the stride/modulo scheme below
// serves arbitrary capacities, with the power-of-two case only enabling
// a shift/mask fast path. Panics if capacity < 1.
func NewBounded[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("turnqueue: capacity must be >= 1")
	}
	return newRing[T](uint64(capacity))
}

func newRing[T any](capacity uint64) *Ring[T] {
	var zero ringSlot[T]
	padCount := slotPadding(unsafe.Sizeof(zero))
	r := &Ring[T]{
		slots:    make([]ringSlot[T], capacity+2*uint64(padCount)),
		capacity: capacity,
		stride:   computeStride(capacity),
		padCount: padCount,
	}
	if isPow2(capacity) {
		r.pow2 = true
		r.mask = capacity - 1
		r.shift = uint(bits.TrailingZeros64(capacity))
	}
	return r
}

func (r *Ring[T]) slotIndex(ticket uint64) uint64 {
	if r.pow2 {
		return uint64(r.padCount) + (ticket*r.stride)&r.mask
	}
	return uint64(r.padCount) + (ticket*r.stride)%r.capacity
}

func (r *Ring[T]) round(ticket uint64) uint64 {
	if r.pow2 {
		return ticket >> r.shift
	}
	return ticket / r.capacity
}

func (r *Ring[T]) enqueueTurn(ticket uint64) uint64 { return 2 * r.round(ticket) }
func (r *Ring[T]) dequeueTurn(ticket uint64) uint64 { return r.enqueueTurn(ticket) + 1 }

// TryPush attempts to enqueue v without blocking. Returns ErrFull if the
// ring is observed full.
func (r *Ring[T]) TryPush(v T) error {
	sw := spin.Wait{}
	for {
		ticket := r.pushTicket.LoadAcquire()
		slot := &r.slots[r.slotIndex(ticket)]
		expected := r.enqueueTurn(ticket)
		turn := slot.turn.LoadAcquire()
		diff := int64(turn) - int64(expected)

		switch {
		case diff == 0:
			if r.pushTicket.CompareAndSwapAcqRel(ticket, ticket+1) {
				slot.value = v
				slot.turn.StoreRelease(expected + 1)
				r.pushCount.AddAcqRel(1)
				r.popNotify.notify(&slot.turn, expected+1)
				return nil
			}
		case diff < 0:
			if r.pushTicket.LoadAcquire() == ticket {
				return ErrFull
			}
		}
		sw.Once()
	}
}

// TryPop attempts to dequeue a value without blocking. Returns
// (zero-value, ErrEmpty) if the ring is observed empty.
func (r *Ring[T]) TryPop() (T, error) {
	sw := spin.Wait{}
	for {
		ticket := r.popTicket.LoadAcquire()
		slot := &r.slots[r.slotIndex(ticket)]
		expected := r.dequeueTurn(ticket)
		turn := slot.turn.LoadAcquire()
		diff := int64(turn) - int64(expected)

		switch {
		case diff == 0:
			if r.popTicket.CompareAndSwapAcqRel(ticket, ticket+1) {
				v := slot.value
				var zero T
				slot.value = zero
				slot.turn.StoreRelease(expected + 1)
				r.popCount.AddAcqRel(1)
				r.pushNotify.notify(&slot.turn, expected+1)
				return v, nil
			}
		case diff < 0:
			if r.popTicket.LoadAcquire() == ticket {
				var zero T
				return zero, ErrEmpty
			}
		}
		sw.Once()
	}
}

// pushWait returns the turn word and expected turn a parked producer
// must arm against right now, i.e. the slot the current push ticket
// targets.
func (r *Ring[T]) pushWait() (*atomix.Uint64, uint64) {
	ticket := r.pushTicket.LoadAcquire()
	slot := &r.slots[r.slotIndex(ticket)]
	return &slot.turn, r.enqueueTurn(ticket)
}

// popWait returns the turn word and expected turn a parked consumer
// must arm against right now, i.e. the slot the current pop ticket
// targets.
func (r *Ring[T]) popWait() (*atomix.Uint64, uint64) {
	ticket := r.popTicket.LoadAcquire()
	slot := &r.slots[r.slotIndex(ticket)]
	return &slot.turn, r.dequeueTurn(ticket)
}

func (r *Ring[T]) notifyForPush() *Notify { return &r.pushNotify }
func (r *Ring[T]) notifyForPop() *Notify  { return &r.popNotify }

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int { return int(r.capacity) }

// ApproximateDepth returns a relaxed, potentially stale estimate of the
// number of values currently in the ring. May briefly disagree with a
// subsequent TryPush/TryPop.
func (r *Ring[T]) ApproximateDepth() int {
	d := int64(r.pushTicket.LoadAcquire()) - int64(r.popTicket.LoadAcquire())
	if d < 0 {
		return 0
	}
	return int(d)
}

// PushCount returns the total number of successful TryPush calls.
func (r *Ring[T]) PushCount() uint64 { return r.pushCount.LoadAcquire() }

// PopCount returns the total number of successful TryPop calls.
func (r *Ring[T]) PopCount() uint64 { return r.popCount.LoadAcquire() }

// Empty reports an approximate emptiness; like ApproximateDepth it may
// be stale by the time the caller acts on it.
func (r *Ring[T]) Empty() bool { return r.ApproximateDepth() == 0 }

// Full reports an approximate fullness; like ApproximateDepth it may be
// stale by the time the caller acts on it.
func (r *Ring[T]) Full() bool { return r.ApproximateDepth() >= int(r.capacity) }

// LockFree reports whether this ring's atomics are lock-free on the
// current platform. Always true: every word this ring synchronizes on
// is a 64-bit machine word, natively lock-free on every architecture Go
// supports.
func (r *Ring[T]) LockFree() bool { return true }
