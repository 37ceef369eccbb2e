// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package turnqueue

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// Code is an enumerated outcome kind consumed by every fallible operation
// in this package. Codes are not error types on their own; they classify
// the sentinel errors below.
type Code uint8

const (
	CodeOK Code = iota
	CodeCanceled
	CodeTimeout
	CodeUnavailable
	CodeQueueEmpty
	CodeQueueFull
	CodeChannelClosed
	CodeInvalidArgument
	CodeResourceExhausted
	CodeContractViolation
	CodeInternalError
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeCanceled:
		return "Canceled"
	case CodeTimeout:
		return "Timeout"
	case CodeUnavailable:
		return "Unavailable"
	case CodeQueueEmpty:
		return "QueueEmpty"
	case CodeQueueFull:
		return "QueueFull"
	case CodeChannelClosed:
		return "ChannelClosed"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeResourceExhausted:
		return "ResourceExhausted"
	case CodeContractViolation:
		return "ContractViolation"
	case CodeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Kind groups codes by propagation policy (see §7 of the design notes):
// transient codes never cross the async surface, terminal codes are the
// only outcomes an async operation may complete with besides success, and
// contract codes indicate a broken precondition or resource failure.
type Kind uint8

const (
	KindTerminal Kind = iota
	KindTransient
	KindContract
)

// Kind classifies c for propagation-policy decisions.
func (c Code) Kind() Kind {
	switch c {
	case CodeQueueEmpty, CodeQueueFull:
		return KindTransient
	case CodeInvalidArgument, CodeResourceExhausted, CodeContractViolation, CodeInternalError:
		return KindContract
	default:
		return KindTerminal
	}
}

// queueError is the concrete error type behind every sentinel below. The
// transient sentinels wrap iox.ErrWouldBlock so IsWouldBlock keeps working
// across the whole call chain the way it does for every queue variant in
// this ecosystem.
type queueError struct {
	code Code
	err  error
}

func (e *queueError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("turnqueue: %s: %v", e.code, e.err)
	}
	return "turnqueue: " + e.code.String()
}

func (e *queueError) Unwrap() error { return e.err }

func (e *queueError) Code() Code { return e.code }

var (
	// ErrFull is returned by TryPush when the ring or channel has no free
	// slot. Transient: never crosses the async surface.
	ErrFull = &queueError{code: CodeQueueFull, err: iox.ErrWouldBlock}
	// ErrEmpty is returned by TryPop when the ring or channel has no
	// available value. Transient: never crosses the async surface.
	ErrEmpty = &queueError{code: CodeQueueEmpty, err: iox.ErrWouldBlock}
	// ErrClosed is the terminal outcome once a Channel has been closed and
	// (for pop) drained.
	ErrClosed = &queueError{code: CodeChannelClosed}
	// ErrCanceled is the terminal outcome when the caller's context is
	// canceled while an async operation is parked.
	ErrCanceled = &queueError{code: CodeCanceled}
	// ErrTimeout is the terminal outcome when a deadline passed while an
	// async operation was parked.
	ErrTimeout = &queueError{code: CodeTimeout}
	// ErrUnavailable signals a scheduler- or timer-layer failure unrelated
	// to queue state.
	ErrUnavailable = &queueError{code: CodeUnavailable}
	// ErrInvalidArgument is the sentinel for a bad construction argument
	// (zero capacity, growth factor < 2, ...). The constructors in this
	// package panic on such arguments rather than return it.
	ErrInvalidArgument = &queueError{code: CodeInvalidArgument}
	// ErrResourceExhausted signals an allocation failure. DynamicRing does
	// not return it: an exhausted closed-array bound or maxCapacity is
	// reported as ErrFull.
	ErrResourceExhausted = &queueError{code: CodeResourceExhausted}
	// ErrContractViolation signals a broken pre/post-condition.
	ErrContractViolation = &queueError{code: CodeContractViolation}
	// ErrInternal is the release-build surfacing of a contract violation.
	ErrInternal = &queueError{code: CodeInternalError}
)

// Classify maps err onto its Code. nil maps to CodeOK. Errors that do not
// originate from this package but still satisfy IsWouldBlock classify as
// CodeUnavailable rather than a specific queue code, since only this
// package's own sentinels know whether the block was on push or pop.
func Classify(err error) Code {
	if err == nil {
		return CodeOK
	}
	var qe *queueError
	if errors.As(err, &qe) {
		return qe.code
	}
	if iox.IsWouldBlock(err) {
		return CodeUnavailable
	}
	return CodeInternalError
}

// IsWouldBlock reports whether err is a transient fast-path miss
// (ErrFull or ErrEmpty), delegating classification to iox the same way
// every other queue package in this module family does.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsTransient reports whether err is ErrFull or ErrEmpty.
func IsTransient(err error) bool {
	return Classify(err).Kind() == KindTransient
}

// IsTerminal reports whether err is a valid completion of an async
// operation (including nil/OK).
func IsTerminal(err error) bool {
	return Classify(err).Kind() == KindTerminal
}

// IsContract reports whether err signals a broken precondition or a
// resource failure rather than expected control flow.
func IsContract(err error) bool {
	return Classify(err).Kind() == KindContract
}

// Info wraps a package sentinel with an operation name and a detail
// string, mirroring the causal-chain view the reference implementation
// attaches to its errors. The only current use is DynamicRing.TryPush,
// which wraps ErrFull when growth is impossible; errors.Is, IsWouldBlock
// and Classify still see the wrapped sentinel. The plain fast-path
// failures are returned as bare sentinels.
type Info struct {
	Code   Code
	Op     string
	Detail string
	Cause  error
}

func (i *Info) Error() string {
	if i.Detail == "" {
		return fmt.Sprintf("turnqueue: %s: %s", i.Op, i.Code)
	}
	return fmt.Sprintf("turnqueue: %s: %s: %s", i.Op, i.Code, i.Detail)
}

func (i *Info) Unwrap() error { return i.Cause }

// withInfo annotates cause (one of the package sentinels) with an
// operation name and a free-form detail string.
func withInfo(code Code, op, detail string, cause error) error {
	return &Info{Code: code, Op: op, Detail: detail, Cause: cause}
}
