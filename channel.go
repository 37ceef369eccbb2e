// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

import (
	"context"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// closeEpochTarget is the fixed expected value every close-wait waiter
// arms against. Close is one-shot, so there is only ever one transition
// to wait for.
const closeEpochTarget = 1

// Channel is a closable FIFO built on a bounded Ring. Pushing after Close
// fails with ErrClosed; popping continues to drain whatever was already
// buffered and only then starts reporting ErrClosed, matching the
// reference implementation's post-close drain guarantee.
//
// A Channel must not be copied after first use.
type Channel[T any] struct {
	ring *Ring[T]

	closeEpoch  atomix.Uint64
	closed      atomix.Bool
	closeNotify Notify
}

// NewChannel constructs an open channel backed by a fixed-capacity ring.
func NewChannel[T any](capacity int) *Channel[T] {
	return &Channel[T]{ring: NewBounded[T](capacity)}
}

// TryPush attempts to enqueue v without blocking. Returns ErrClosed if
// the channel has been closed, otherwise behaves like the underlying
// ring's TryPush.
func (c *Channel[T]) TryPush(v T) error {
	if c.closed.LoadAcquire() {
		return ErrClosed
	}
	err := c.ring.TryPush(v)
	if err != nil && c.closed.LoadAcquire() {
		return ErrClosed
	}
	return err
}

// TryPop attempts to dequeue a value without blocking. A value buffered
// before Close was called is always delivered; ErrClosed is only
// returned once the channel is both closed and drained.
func (c *Channel[T]) TryPop() (T, error) {
	v, err := c.ring.TryPop()
	if err == nil {
		return v, nil
	}
	if c.closed.LoadAcquire() {
		if v2, err2 := c.ring.TryPop(); err2 == nil {
			return v2, nil
		}
		var zero T
		return zero, ErrClosed
	}
	return v, err
}

// Close closes the channel, waking every parked Push and Pop so they can
// re-check state. Returns true if this call performed the Open->Closed
// transition, false if the channel was already closed.
func (c *Channel[T]) Close() bool {
	if !c.closed.CompareAndSwapAcqRel(false, true) {
		return false
	}
	c.closeEpoch.StoreRelease(closeEpochTarget)
	c.closeNotify.notify(&c.closeEpoch, closeEpochTarget)
	return true
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool { return c.closed.LoadAcquire() }

// Cap returns the channel's fixed buffer capacity.
func (c *Channel[T]) Cap() int { return c.ring.Cap() }

// ApproximateDepth returns a relaxed, potentially stale estimate of the
// number of buffered values.
func (c *Channel[T]) ApproximateDepth() int { return c.ring.ApproximateDepth() }

// closeWait returns the turn word and expected value a parked operation
// arms against to be woken by Close.
func (c *Channel[T]) closeWait() (*atomix.Uint64, uint64) { return &c.closeEpoch, closeEpochTarget }

// armPair arms both a ring-side waiter and a close-side waiter for the
// same wake channel, disarming whichever one failed to arm so the caller
// never leaks a half-registered pair.
func armPair(ringNotify *Notify, ringW *waiter, closeNotify *Notify, closeW *waiter) bool {
	ringArmed := ringNotify.arm(ringW)
	closeArmed := closeNotify.arm(closeW)
	if ringArmed && closeArmed {
		return true
	}
	if ringArmed {
		ringNotify.disarm(ringW)
	}
	if closeArmed {
		closeNotify.disarm(closeW)
	}
	return false
}

// drivePushClosable is the Channel analogue of drivePush: it additionally
// arms a close-wait registration alongside the ring-wait registration so
// a Close call wakes parked pushers even though nothing was pushed.
func drivePushClosable[T any](ctx context.Context, c *Channel[T], v T) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}

	sw := spin.Wait{}
	for i := 0; i < asyncSpinRetryLimit; i++ {
		err := c.TryPush(v)
		if err == nil {
			return nil
		}
		if !IsWouldBlock(err) {
			return err
		}
		sw.Once()
	}

	for {
		err := c.TryPush(v)
		if err == nil {
			return nil
		}
		if !IsWouldBlock(err) {
			return err
		}

		turnPtr, expected := c.ring.pushWait()
		closeTurnPtr, closeExpected := c.closeWait()
		woke := make(chan struct{}, 1)
		wakeFn := func(*waiter) {
			select {
			case woke <- struct{}{}:
			default:
			}
		}
		ringW := newWaiter(turnPtr, expected, wakeFn)
		closeW := newWaiter(closeTurnPtr, closeExpected, wakeFn)

		if !armPair(c.ring.notifyForPush(), ringW, &c.closeNotify, closeW) {
			continue
		}

		select {
		case <-woke:
			c.ring.notifyForPush().disarm(ringW)
			c.closeNotify.disarm(closeW)
			continue
		case <-ctx.Done():
			c.ring.notifyForPush().disarm(ringW)
			c.closeNotify.disarm(closeW)
			return mapCtxErr(ctx.Err())
		}
	}
}

// drivePopClosable is the Channel analogue of drivePop, with the same
// close-wait registration as drivePushClosable. A wake caused by Close
// leads back into TryPop, which drains any buffered value before
// surfacing ErrClosed.
func drivePopClosable[T any](ctx context.Context, c *Channel[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, mapCtxErr(err)
	}

	sw := spin.Wait{}
	for i := 0; i < asyncSpinRetryLimit; i++ {
		v, err := c.TryPop()
		if err == nil {
			return v, nil
		}
		if !IsWouldBlock(err) {
			return zero, err
		}
		sw.Once()
	}

	for {
		v, err := c.TryPop()
		if err == nil {
			return v, nil
		}
		if !IsWouldBlock(err) {
			return zero, err
		}

		turnPtr, expected := c.ring.popWait()
		closeTurnPtr, closeExpected := c.closeWait()
		woke := make(chan struct{}, 1)
		wakeFn := func(*waiter) {
			select {
			case woke <- struct{}{}:
			default:
			}
		}
		ringW := newWaiter(turnPtr, expected, wakeFn)
		closeW := newWaiter(closeTurnPtr, closeExpected, wakeFn)

		if !armPair(c.ring.notifyForPop(), ringW, &c.closeNotify, closeW) {
			continue
		}

		select {
		case <-woke:
			c.ring.notifyForPop().disarm(ringW)
			c.closeNotify.disarm(closeW)
			continue
		case <-ctx.Done():
			c.ring.notifyForPop().disarm(ringW)
			c.closeNotify.disarm(closeW)
			return zero, mapCtxErr(ctx.Err())
		}
	}
}

// Push enqueues v, parking until a slot opens, the channel is closed, or
// ctx ends.
func (c *Channel[T]) Push(ctx context.Context, v T) error { return drivePushClosable(ctx, c, v) }

// Pop dequeues a value, parking until one is available, the channel is
// closed and drained, or ctx ends.
func (c *Channel[T]) Pop(ctx context.Context) (T, error) { return drivePopClosable(ctx, c) }

// PushUntil is Push with an explicit deadline.
func (c *Channel[T]) PushUntil(ctx context.Context, deadline time.Time, v T) error {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return drivePushClosable(dctx, c, v)
}

// PopUntil is Pop with an explicit deadline.
func (c *Channel[T]) PopUntil(ctx context.Context, deadline time.Time) (T, error) {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return drivePopClosable(dctx, c)
}

// PushSender returns the sender-token shape for Push.
func (c *Channel[T]) PushSender(ctx context.Context, v T) func() error {
	return func() error { return drivePushClosable(ctx, c, v) }
}

// PopSender returns the sender-token shape for Pop.
func (c *Channel[T]) PopSender(ctx context.Context) func() (T, error) {
	return func() (T, error) { return drivePopClosable(ctx, c) }
}

// PushCallback detaches a goroutine driving Push and reports the outcome
// to handler exactly once.
func (c *Channel[T]) PushCallback(ctx context.Context, v T, handler func(error)) {
	go handler(drivePushClosable(ctx, c, v))
}

// PopCallback detaches a goroutine driving Pop and reports the outcome to
// handler exactly once.
func (c *Channel[T]) PopCallback(ctx context.Context, handler func(T, error)) {
	go func() {
		v, err := drivePopClosable(ctx, c)
		handler(v, err)
	}()
}

// Sender is the push-only half of a Channel split by Split.
type Sender[T any] struct{ c *Channel[T] }

// TryPush delegates to the shared channel.
func (s Sender[T]) TryPush(v T) error { return s.c.TryPush(v) }

// Push delegates to the shared channel.
func (s Sender[T]) Push(ctx context.Context, v T) error { return s.c.Push(ctx, v) }

// PushUntil delegates to the shared channel.
func (s Sender[T]) PushUntil(ctx context.Context, deadline time.Time, v T) error {
	return s.c.PushUntil(ctx, deadline, v)
}

// Close delegates to the shared channel.
func (s Sender[T]) Close() bool { return s.c.Close() }

// Receiver is the pop-only half of a Channel split by Split.
type Receiver[T any] struct{ c *Channel[T] }

// TryPop delegates to the shared channel.
func (r Receiver[T]) TryPop() (T, error) { return r.c.TryPop() }

// Pop delegates to the shared channel.
func (r Receiver[T]) Pop(ctx context.Context) (T, error) { return r.c.Pop(ctx) }

// PopUntil delegates to the shared channel.
func (r Receiver[T]) PopUntil(ctx context.Context, deadline time.Time) (T, error) {
	return r.c.PopUntil(ctx, deadline)
}

// Split returns a push-only Sender and pop-only Receiver sharing this
// channel's underlying state, mirroring channel::sender/channel::receiver
// from the reference design.
func (c *Channel[T]) Split() (Sender[T], Receiver[T]) {
	return Sender[T]{c: c}, Receiver[T]{c: c}
}
