// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue_test

import (
	"errors"
	"sync"
	"testing"

	"code.hybscloud.com/turnqueue"
)

func TestRingBasic(t *testing.T) {
	q := turnqueue.NewBounded[int](4)

	if q.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", q.Cap())
	}

	for i := range 4 {
		if err := q.TryPush(i + 100); err != nil {
			t.Fatalf("TryPush(%d): %v", i, err)
		}
	}

	if err := q.TryPush(999); !errors.Is(err, turnqueue.ErrFull) {
		t.Fatalf("TryPush on full: got %v, want ErrFull", err)
	}

	for i := range 4 {
		v, err := q.TryPop()
		if err != nil {
			t.Fatalf("TryPop(%d): %v", i, err)
		}
		if v != i+100 {
			t.Fatalf("TryPop(%d): got %d, want %d", i, v, i+100)
		}
	}

	if _, err := q.TryPop(); !errors.Is(err, turnqueue.ErrEmpty) {
		t.Fatalf("TryPop on empty: got %v, want ErrEmpty", err)
	}
}

func TestRingArbitraryCapacityNotRounded(t *testing.T) {
	for _, capacity := range []int{1, 3, 5, 6, 7, 1000} {
		q := turnqueue.NewBounded[int](capacity)
		if q.Cap() != capacity {
			t.Fatalf("Cap(%d): got %d, want exact capacity, no rounding", capacity, q.Cap())
		}
		for i := 0; i < capacity; i++ {
			if err := q.TryPush(i); err != nil {
				t.Fatalf("TryPush filling capacity %d at %d: %v", capacity, i, err)
			}
		}
		if err := q.TryPush(-1); !errors.Is(err, turnqueue.ErrFull) {
			t.Fatalf("capacity %d: TryPush past capacity: got %v, want ErrFull", capacity, err)
		}
	}
}

func TestRingFIFOOrderMPMC(t *testing.T) {
	if turnqueue.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}
	const capacity = 64
	const producers = 8
	const perProducer = 500
	const total = producers * perProducer

	q := turnqueue.NewBounded[int](capacity)
	seen := make([]bool, total)
	var seenMu sync.Mutex
	// Each producer pushes its values in increasing order and there is a
	// single consumer, so per-producer order must survive the ring.
	last := make([]int, producers)
	for p := range last {
		last[p] = -1
	}

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := base*perProducer + i
				for q.TryPush(v) != nil {
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		count := 0
		for count < total {
			v, err := q.TryPop()
			if err != nil {
				continue
			}
			seenMu.Lock()
			if seen[v] {
				t.Errorf("value %d observed twice", v)
			}
			seen[v] = true
			seenMu.Unlock()
			if p, i := v/perProducer, v%perProducer; i <= last[p] {
				t.Errorf("producer %d: value %d popped after %d", p, i, last[p])
			} else {
				last[p] = i
			}
			count++
		}
		close(done)
	}()

	wg.Wait()
	<-done

	for i, ok := range seen {
		if !ok {
			t.Fatalf("value %d never observed", i)
		}
	}
}

func TestRingApproximateDepth(t *testing.T) {
	q := turnqueue.NewBounded[int](8)
	if !q.Empty() {
		t.Fatalf("new ring should be Empty")
	}
	for i := 0; i < 5; i++ {
		_ = q.TryPush(i)
	}
	if d := q.ApproximateDepth(); d != 5 {
		t.Fatalf("ApproximateDepth: got %d, want 5", d)
	}
	if q.Empty() || q.Full() {
		t.Fatalf("ring with 5/8 should be neither Empty nor Full")
	}
}

func TestRingLockFree(t *testing.T) {
	q := turnqueue.NewBounded[int](4)
	if !q.LockFree() {
		t.Fatalf("LockFree: got false, want true")
	}
}
