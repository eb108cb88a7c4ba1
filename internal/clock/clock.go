// Package clock provides the monotonic time source and the cross-process
// tick lock (spec.md §4.A).
package clock

import "time"

// Clock is the monotonic wall-clock source the reconciler uses for
// cooldown and thrash-window arithmetic. A real Clock just wraps time.Now;
// tests substitute a fake.
type Clock interface {
	NowMs() int64
}

// System is the production Clock backed by the OS wall clock.
type System struct{}

// NowMs returns the current time as epoch milliseconds.
func (System) NowMs() int64 {
	return time.Now().UnixMilli()
}

// Fake is a test Clock with a settable current time.
type Fake struct {
	ms int64
}

// NewFake returns a Fake clock starting at ms.
func NewFake(ms int64) *Fake {
	return &Fake{ms: ms}
}

func (f *Fake) NowMs() int64 { return f.ms }

// Advance moves the fake clock forward by ms milliseconds.
func (f *Fake) Advance(ms int64) { f.ms += ms }

// Set pins the fake clock to an absolute epoch-ms value.
func (f *Fake) Set(ms int64) { f.ms = ms }
