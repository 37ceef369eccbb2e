// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

import (
	"context"
	"errors"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// asyncSpinRetryLimit bounds how many times the drive loop retries the
// lock-free fast path before it computes a wait registration and parks.
const asyncSpinRetryLimit = 64

// asyncQueue is the minimal surface the async facade needs from a ring:
// the fast-path try operations, plus enough to compute a wait
// registration (the slot turn word and expected turn the caller's next
// ticket targets) and reach the Notify table that will wake it. Both
// Ring and DynamicRing satisfy this.
type asyncQueue[T any] interface {
	TryPush(v T) error
	TryPop() (T, error)
	pushWait() (*atomix.Uint64, uint64)
	popWait() (*atomix.Uint64, uint64)
	notifyForPush() *Notify
	notifyForPop() *Notify
}

// mapCtxErr turns a context error into the terminal outcome it
// represents: a deadline produces Timeout, anything else (explicit
// cancellation) produces Canceled.
func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCanceled
}

// drivePush is the shared push drive loop described in the design notes:
// spin-try the fast path up to asyncSpinRetryLimit times, then park on
// the exact slot turn the next push ticket targets, waking up either
// because that turn advanced or because ctx ended.
func drivePush[T any](ctx context.Context, q asyncQueue[T], v T) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}

	sw := spin.Wait{}
	for i := 0; i < asyncSpinRetryLimit; i++ {
		err := q.TryPush(v)
		if err == nil {
			return nil
		}
		if !IsWouldBlock(err) {
			return err
		}
		sw.Once()
	}

	for {
		err := q.TryPush(v)
		if err == nil {
			return nil
		}
		if !IsWouldBlock(err) {
			return err
		}

		turnPtr, expected := q.pushWait()
		woke := make(chan struct{}, 1)
		w := newWaiter(turnPtr, expected, func(*waiter) {
			select {
			case woke <- struct{}{}:
			default:
			}
		})
		if !q.notifyForPush().arm(w) {
			continue
		}
		select {
		case <-woke:
			continue
		case <-ctx.Done():
			q.notifyForPush().disarm(w)
			return mapCtxErr(ctx.Err())
		}
	}
}

// drivePop is the pop-side mirror of drivePush.
func drivePop[T any](ctx context.Context, q asyncQueue[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, mapCtxErr(err)
	}

	sw := spin.Wait{}
	for i := 0; i < asyncSpinRetryLimit; i++ {
		v, err := q.TryPop()
		if err == nil {
			return v, nil
		}
		if !IsWouldBlock(err) {
			return zero, err
		}
		sw.Once()
	}

	for {
		v, err := q.TryPop()
		if err == nil {
			return v, nil
		}
		if !IsWouldBlock(err) {
			return zero, err
		}

		turnPtr, expected := q.popWait()
		woke := make(chan struct{}, 1)
		w := newWaiter(turnPtr, expected, func(*waiter) {
			select {
			case woke <- struct{}{}:
			default:
			}
		})
		if !q.notifyForPop().arm(w) {
			continue
		}
		select {
		case <-woke:
			continue
		case <-ctx.Done():
			q.notifyForPop().disarm(w)
			return zero, mapCtxErr(ctx.Err())
		}
	}
}

// Push enqueues v, parking the calling goroutine if the ring is full
// until a slot opens or ctx ends. This is the awaitable-token shape from
// the design notes: on a goroutine-based runtime, the blocking call and
// the coroutine adaptor are the same thing.
func (r *Ring[T]) Push(ctx context.Context, v T) error { return drivePush[T](ctx, r, v) }

// Pop dequeues a value, parking the calling goroutine until one is
// available or ctx ends.
func (r *Ring[T]) Pop(ctx context.Context) (T, error) { return drivePop[T](ctx, r) }

// PushUntil is Push with an explicit deadline instead of a pre-built
// context; a deadline firing before a slot opens completes with
// ErrTimeout and guarantees v was not enqueued.
func (r *Ring[T]) PushUntil(ctx context.Context, deadline time.Time, v T) error {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return drivePush[T](dctx, r, v)
}

// PopUntil is Pop with an explicit deadline; a deadline firing before a
// value is available completes with ErrTimeout and guarantees no value
// was consumed.
func (r *Ring[T]) PopUntil(ctx context.Context, deadline time.Time) (T, error) {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return drivePop[T](dctx, r)
}

// PushSender returns the sender-token shape: a closure that performs
// nothing until called, at which point it behaves exactly like Push.
func (r *Ring[T]) PushSender(ctx context.Context, v T) func() error {
	return func() error { return drivePush[T](ctx, r, v) }
}

// PopSender returns the sender-token shape for Pop.
func (r *Ring[T]) PopSender(ctx context.Context) func() (T, error) {
	return func() (T, error) { return drivePop[T](ctx, r) }
}

// PushCallback detaches a goroutine driving Push and reports the outcome
// to handler exactly once. If ctx is already done, handler runs without
// the queue ever being touched.
func (r *Ring[T]) PushCallback(ctx context.Context, v T, handler func(error)) {
	go handler(drivePush[T](ctx, r, v))
}

// PopCallback detaches a goroutine driving Pop and reports the outcome
// to handler exactly once.
func (r *Ring[T]) PopCallback(ctx context.Context, handler func(T, error)) {
	go func() {
		v, err := drivePop[T](ctx, r)
		handler(v, err)
	}()
}

// Push enqueues v, growing the ring and/or parking the calling goroutine
// as needed until a slot opens or ctx ends.
func (d *DynamicRing[T]) Push(ctx context.Context, v T) error { return drivePush[T](ctx, d, v) }

// Pop dequeues a value, parking the calling goroutine until one is
// available or ctx ends.
func (d *DynamicRing[T]) Pop(ctx context.Context) (T, error) { return drivePop[T](ctx, d) }

// PushUntil is Push with an explicit deadline.
func (d *DynamicRing[T]) PushUntil(ctx context.Context, deadline time.Time, v T) error {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return drivePush[T](dctx, d, v)
}

// PopUntil is Pop with an explicit deadline.
func (d *DynamicRing[T]) PopUntil(ctx context.Context, deadline time.Time) (T, error) {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return drivePop[T](dctx, d)
}

// PushSender returns the sender-token shape for Push.
func (d *DynamicRing[T]) PushSender(ctx context.Context, v T) func() error {
	return func() error { return drivePush[T](ctx, d, v) }
}

// PopSender returns the sender-token shape for Pop.
func (d *DynamicRing[T]) PopSender(ctx context.Context) func() (T, error) {
	return func() (T, error) { return drivePop[T](ctx, d) }
}

// PushCallback detaches a goroutine driving Push and reports the outcome
// to handler exactly once.
func (d *DynamicRing[T]) PushCallback(ctx context.Context, v T, handler func(error)) {
	go handler(drivePush[T](ctx, d, v))
}

// PopCallback detaches a goroutine driving Pop and reports the outcome
// to handler exactly once.
func (d *DynamicRing[T]) PopCallback(ctx context.Context, handler func(T, error)) {
	go func() {
		v, err := drivePop[T](ctx, d)
		handler(v, err)
	}()
}
