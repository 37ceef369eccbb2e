// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package turnqueue provides a lock-free multi-producer multi-consumer
// FIFO built on a ticket/turn discipline, a closable channel on top of
// it, and an async facade exposing blocking, sender, and callback
// completion shapes over the same operations.
//
// # Quick Start
//
//	q := turnqueue.NewBounded[Event](1024)
//	if err := q.TryPush(ev); turnqueue.IsWouldBlock(err) {
//	    // ring is full - apply backpressure
//	}
//	ev, err := q.TryPop()
//
// Builder API for fixed vs. growable rings:
//
//	q := turnqueue.Build[Event](turnqueue.New(1024))                  // fixed capacity
//	q := turnqueue.Build[Event](turnqueue.New(1024).Dynamic(65536, 2)) // grows to 65536
//
// # Ring vs DynamicRing
//
// Ring is a fixed-capacity ring: TryPush returns ErrFull once the ring
// holds Cap() values, and callers own backpressure. DynamicRing starts
// at an initial capacity and, when a producer observes the active array
// full, installs a larger array (up to maxCapacity, growing by
// growthFactor each step) so that later pushes find room. The push that
// triggered the growth still returns ErrFull: its ticket stays on the
// retired array's slot and succeeds only once that slot is drained.
// Values already claimed against a retired array keep resolving
// correctly; retired arrays are never compacted, only released once
// nothing references them.
//
//	d := turnqueue.NewDynamic[Job](256, 1<<20, 4)
//	err := d.TryPush(job) // ErrFull on the push that triggers growth; later pushes use the larger array
//
// # Async Facade
//
// Every Ring and DynamicRing exposes the same three completion shapes
// over Push/Pop:
//
//	err := q.Push(ctx, v)             // blocking: parks until room, cancel, or deadline
//	send := q.PushSender(ctx, v)      // lazy: nothing happens until send() is called
//	q.PushCallback(ctx, v, func(err error) { ... }) // detached goroutine + handler
//
// PushUntil/PopUntil take an explicit deadline instead of a pre-built
// context. A canceled or expired ctx completes with ErrCanceled or
// ErrTimeout respectively, without ever touching the ring if ctx was
// already done when the call was made.
//
// # Closable Channel
//
// Channel wraps a Ring with a one-shot Close: once closed, TryPush and
// Push report ErrClosed immediately, while TryPop and Pop continue to
// drain whatever was already buffered before switching to ErrClosed
// themselves.
//
//	ch := turnqueue.NewChannel[Result](64)
//	sender, receiver := ch.Split()
//	go func() {
//	    defer sender.Close()
//	    for r := range results {
//	        sender.Push(ctx, r)
//	    }
//	}()
//	for {
//	    r, err := receiver.Pop(ctx)
//	    if errors.Is(err, turnqueue.ErrClosed) {
//	        break
//	    }
//	    process(r)
//	}
//
// # Notify
//
// Parked producers and consumers are woken through Notify, a hashed
// table of wait channels keyed on the exact slot turn a caller is
// blocked on. Callers do not construct a Notify directly; Ring,
// DynamicRing, and Channel each own the ones they need.
//
// # Error Handling
//
// Operations return [ErrFull]/[ErrEmpty] (wrapping
// [code.hybscloud.com/iox.ErrWouldBlock] for ecosystem consistency),
// [ErrClosed], [ErrCanceled], [ErrTimeout], and a small set of terminal
// and contract-violation sentinels. [Classify] maps any of these to a
// [Code], and [Code.Kind] groups them as transient, terminal, or
// contract violations:
//
//	err := q.TryPush(v)
//	if turnqueue.IsWouldBlock(err) {
//	    // transient: full/empty, safe to retry
//	}
//
// # Race Detection
//
// Ring, DynamicRing, and Notify synchronize non-atomic fields (slot
// values, waiter lists) through acquire-release orderings on separate
// turn and state words, a pattern the race detector's happens-before
// tracking cannot observe. Busy-spin stress tests exercising this skip
// themselves when RaceEnabled is true; see race.go.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit memory
// ordering, and [code.hybscloud.com/spin] for CPU pause instructions.
package turnqueue
