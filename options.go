// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

// Options configures ring creation.
type Options struct {
	capacity     int
	dynamic      bool
	maxCapacity  int
	growthFactor int
}

// Builder creates rings with fluent configuration.
//
// Example:
//
//	// Fixed-capacity ring
//	q := turnqueue.BuildBounded[Event](turnqueue.New(1024))
//
//	// Ring that grows from 1024 up to 65536 slots, doubling each step
//	q := turnqueue.BuildDynamic[Event](turnqueue.New(1024).Dynamic(65536, 2))
type Builder struct {
	opts Options
}

// New creates a ring builder with the given initial capacity. Panics if
// capacity < 1.
func New(capacity int) *Builder {
	if capacity < 1 {
		panic("turnqueue: capacity must be >= 1")
	}
	return &Builder{opts: Options{capacity: capacity, growthFactor: 2}}
}

// Dynamic declares that the ring should grow up to maxCapacity by
// growthFactor whenever the active array fills, instead of staying a
// fixed size. Panics if maxCapacity is smaller than the builder's
// initial capacity or growthFactor < 2.
func (b *Builder) Dynamic(maxCapacity, growthFactor int) *Builder {
	if maxCapacity < b.opts.capacity || growthFactor < 2 {
		panic("turnqueue: invalid Dynamic parameters")
	}
	b.opts.dynamic = true
	b.opts.maxCapacity = maxCapacity
	b.opts.growthFactor = growthFactor
	return b
}

// Queue is the surface Ring and DynamicRing share, letting Build return
// either behind one interface.
type Queue[T any] interface {
	TryPush(v T) error
	TryPop() (T, error)
	Cap() int
	ApproximateDepth() int
	PushCount() uint64
	PopCount() uint64
	Empty() bool
	Full() bool
	LockFree() bool
}

// Build creates a Queue[T] with automatic bounded/dynamic selection: a
// plain New(capacity) builds a fixed-capacity Ring; New(capacity).
// Dynamic(max, factor) builds a DynamicRing.
func Build[T any](b *Builder) Queue[T] {
	if b.opts.dynamic {
		return NewDynamic[T](b.opts.capacity, b.opts.maxCapacity, b.opts.growthFactor)
	}
	return NewBounded[T](b.opts.capacity)
}

// BuildBounded creates a Ring with compile-time type safety. Panics if
// the builder was configured with Dynamic.
func BuildBounded[T any](b *Builder) *Ring[T] {
	if b.opts.dynamic {
		panic("turnqueue: BuildBounded requires a builder without Dynamic()")
	}
	return NewBounded[T](b.opts.capacity)
}

// BuildDynamic creates a DynamicRing with compile-time type safety.
// Panics if the builder was not configured with Dynamic.
func BuildDynamic[T any](b *Builder) *DynamicRing[T] {
	if !b.opts.dynamic {
		panic("turnqueue: BuildDynamic requires Dynamic(max, factor)")
	}
	return NewDynamic[T](b.opts.capacity, b.opts.maxCapacity, b.opts.growthFactor)
}
