// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/turnqueue"
)

func TestDynamicRingGrowsInsteadOfFailing(t *testing.T) {
	d := turnqueue.NewDynamic[int](2, 16, 2)

	if d.Cap() != 2 {
		t.Fatalf("initial Cap: got %d, want 2", d.Cap())
	}

	// Pushing past the initial capacity forces growth, but the ticket
	// that discovers the array full is pinned to the array it just
	// retired, not the bigger one it caused to be allocated. Draining
	// the oldest value whenever a push is rejected clears the way for
	// it to succeed on retry, and the ring keeps growing as needed.
	pushed := 0
	var popped []int
	for pushed < 10 {
		if err := d.TryPush(pushed); err == nil {
			pushed++
			continue
		} else if !errors.Is(err, turnqueue.ErrFull) {
			t.Fatalf("TryPush(%d): unexpected error %v", pushed, err)
		}
		v, err := d.TryPop()
		if err != nil {
			t.Fatalf("TryPop while draining a full slot: %v", err)
		}
		popped = append(popped, v)
	}
	for i := 0; i < 10; i++ {
		if i < len(popped) {
			if popped[i] != i {
				t.Fatalf("drained value %d: got %d, want %d", i, popped[i], i)
			}
			continue
		}
		v, err := d.TryPop()
		if err != nil {
			t.Fatalf("final TryPop(%d): %v", i, err)
		}
		if v != i {
			t.Fatalf("final TryPop(%d): got %d, want %d (FIFO order across growth)", i, v, i)
		}
	}
	if d.Cap() <= 2 {
		t.Fatalf("Cap should have grown past the initial capacity: got %d", d.Cap())
	}
}

func TestDynamicRingRespectsMaxCapacity(t *testing.T) {
	d := turnqueue.NewDynamic[int](2, 4, 2)

	if err := d.TryPush(0); err != nil {
		t.Fatalf("TryPush(0): %v", err)
	}
	if err := d.TryPush(1); err != nil {
		t.Fatalf("TryPush(1): %v", err)
	}

	// The initial array is full; this push triggers an internal growth
	// to capacity 4, but the ticket that discovered the fullness stays
	// pinned to the now-closed array and still reports ErrFull.
	if err := d.TryPush(2); !errors.Is(err, turnqueue.ErrFull) {
		t.Fatalf("TryPush(2) at initial capacity: got %v, want ErrFull", err)
	}
	if d.Cap() != 4 {
		t.Fatalf("Cap after triggering growth: got %d, want 4", d.Cap())
	}

	if v, err := d.TryPop(); err != nil || v != 0 {
		t.Fatalf("TryPop: got (%d, %v), want (0, nil)", v, err)
	}

	// With the closed array's slot freed, the pinned ticket succeeds.
	if err := d.TryPush(2); err != nil {
		t.Fatalf("TryPush(2) after drain: %v", err)
	}
	if err := d.TryPush(3); err != nil {
		t.Fatalf("TryPush(3): %v", err)
	}
	if err := d.TryPush(4); err != nil {
		t.Fatalf("TryPush(4): %v", err)
	}

	// Total outstanding items now equals maxCapacity; further pushes
	// fail regardless of which array a ticket would resolve into.
	if err := d.TryPush(99); !errors.Is(err, turnqueue.ErrFull) {
		t.Fatalf("TryPush past maxCapacity: got %v, want ErrFull", err)
	}
	if d.Cap() != 4 {
		t.Fatalf("Cap should not exceed maxCapacity: got %d", d.Cap())
	}
}

func TestDynamicRingTicketsAcrossGenerationsResolve(t *testing.T) {
	// growthFactor 2 from an initial capacity of 1 forces several
	// generations (1 -> 2 -> 4) within eight pushes. Draining immediately whenever a
	// push is rejected exercises resolveArray's closed-array path and
	// confirms values still come back out in push order.
	d := turnqueue.NewDynamic[int](1, 8, 2)

	var pushed []int
	next := 0
	for next < 8 {
		if err := d.TryPush(next); err == nil {
			pushed = append(pushed, next)
			next++
			continue
		} else if !errors.Is(err, turnqueue.ErrFull) {
			t.Fatalf("TryPush(%d): unexpected error %v", next, err)
		}
		v, err := d.TryPop()
		if err != nil {
			t.Fatalf("TryPop while draining a full slot: %v", err)
		}
		if len(pushed) == 0 || v != pushed[0] {
			t.Fatalf("TryPop: got %d, want %d (FIFO order)", v, pushed[0])
		}
		pushed = pushed[1:]
	}
	for len(pushed) > 0 {
		v, err := d.TryPop()
		if err != nil {
			t.Fatalf("TryPop: %v", err)
		}
		if v != pushed[0] {
			t.Fatalf("TryPop: got %d, want %d", v, pushed[0])
		}
		pushed = pushed[1:]
	}
}

func TestDynamicRingMaxCapacityEqualsInitial(t *testing.T) {
	// growthFactor is required but growth never triggers when
	// maxCapacity == initialCapacity; behaves exactly like a bounded ring.
	d := turnqueue.NewDynamic[int](4, 4, 2)
	for i := 0; i < 4; i++ {
		if err := d.TryPush(i); err != nil {
			t.Fatalf("TryPush(%d): %v", i, err)
		}
	}
	if err := d.TryPush(5); !errors.Is(err, turnqueue.ErrFull) {
		t.Fatalf("TryPush past fixed maxCapacity: got %v, want ErrFull", err)
	}
}

func TestNewDynamicPanicsOnInvalidParameters(t *testing.T) {
	cases := []struct {
		name         string
		initial, max int
		growth       int
	}{
		{"zero initial", 0, 8, 2},
		{"max below initial", 8, 4, 2},
		{"growth factor below 2", 4, 8, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("NewDynamic(%d, %d, %d) did not panic", c.initial, c.max, c.growth)
				}
			}()
			turnqueue.NewDynamic[int](c.initial, c.max, c.growth)
		})
	}
}
