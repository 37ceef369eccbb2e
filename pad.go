// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

import "unsafe"

const cacheLineSize = 64

// ptrSize is the size of a pointer in bytes.
const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// pad is cache line padding to prevent false sharing between adjacent
// atomic fields.
type pad [cacheLineSize]byte

// padShort pads a struct that already carries one 8-byte field out to a
// full cache line.
type padShort [cacheLineSize - 8]byte

// padPtr pads a struct that already carries one pointer-sized field out
// to a full cache line.
type padPtr [cacheLineSize - ptrSize]byte

// strideCandidates are the small primes considered when choosing a slot
// stride, in the order the reference implementation tries them.
var strideCandidates = [...]uint64{2, 3, 5, 7, 11, 13, 17, 19, 23}

// isPow2 reports whether n is a nonzero power of two.
func isPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// slotPadding returns the number of slots of size slotSize needed to
// cover one cache line, at least 1.
func slotPadding(slotSize uintptr) int {
	if slotSize == 0 {
		return 1
	}
	n := (uintptr(cacheLineSize) + slotSize - 1) / slotSize
	if n == 0 {
		n = 1
	}
	return int(n)
}

// computeStride picks a small prime coprime to capacity that maximizes
// the minimal circular separation between successive tickets, so that
// consecutive tickets land on slots that are far apart in the array and
// therefore rarely share a cache line. Falls back to a stride of 1 when
// no candidate is both smaller than capacity and coprime to it: capacity
// 1 or 2, or a multiple of the product of all nine candidates.
func computeStride(capacity uint64) uint64 {
	if capacity < 2 {
		return 1
	}
	best := uint64(1)
	bestScore := int64(-1)
	for _, s := range strideCandidates {
		if s >= capacity {
			continue
		}
		if capacity%s == 0 {
			continue
		}
		sep := s % capacity
		score := int64(sep)
		if rem := int64(capacity) - score; rem < score {
			score = rem
		}
		if score > bestScore {
			bestScore = score
			best = s
		}
	}
	return best
}
