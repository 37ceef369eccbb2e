// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package turnqueue

// RaceEnabled is true when the race detector is active.
// Used by tests to skip busy-spin Ring stress tests, whose correctness
// rests on acquire-release turn words the race detector's happens-before
// tracking cannot observe.
const RaceEnabled = true
