// Package command models requests to worker processes as non-blocking state
// machines.
//
// A Command advances only when polled and never blocks inside Poll. Drive
// polls a command on a ticker in its own goroutine; WaitFor is a receive on
// the channel Drive returns. Commands group into Composites, Sequences and
// Retries without changing how they are driven.
package command

import (
	"errors"
	"sync"
)

// ErrPollAfterFinish reports that a composite found a child finished that it
// had not polled to completion: the child was driven by someone else.
var ErrPollAfterFinish = errors.New("command: child finished outside its composite")

// Command is a non-blocking, poll-driven operation
type Command interface {
	// Poll advances the command by at most one step. Polling a finished
	// command is a no-op.
	Poll() error

	// Finished reports whether the command reached its terminal state.
	// Once true it never reverts.
	Finished() bool

	// Accepted reports whether the target acknowledged the request. It
	// implies Finished.
	Accepted() bool

	// Err returns a terminal error, if any
	Err() error
}

// Bell wakes a driver before its next tick. Ringing never blocks and
// coalesces: any number of rings between two receives count as one.
type Bell struct {
	ch chan struct{}
}

// NewBell creates a bell
func NewBell() *Bell {
	return &Bell{ch: make(chan struct{}, 1)}
}

// Ring wakes the driver
func (b *Bell) Ring() {
	if b == nil {
		return
	}
	select {
	case b.ch <- struct{}{}:
	default:
	}
}

// C returns the channel the driver selects on
func (b *Bell) C() <-chan struct{} {
	if b == nil {
		return nil
	}
	return b.ch
}

// Waker is implemented by commands that can wake their driver early, for
// example when a marker disappears. Polling remains authoritative.
type Waker interface {
	AttachBell(b *Bell)
}

// attachBell hands b to cmd if it can use it
func attachBell(cmd Command, b *Bell) {
	if b == nil {
		return
	}
	if w, ok := cmd.(Waker); ok {
		w.AttachBell(b)
	}
}

// done is an already finished command
type done struct {
	accepted bool
}

// Done returns a command that is finished from the start
func Done(accepted bool) Command {
	return &done{accepted: accepted}
}

func (d *done) Poll() error    { return nil }
func (d *done) Finished() bool { return true }
func (d *done) Accepted() bool { return d.accepted }
func (d *done) Err() error     { return nil }

// Func adapts a blocking function into a command. fn runs in its own
// goroutine on the first poll; the command finishes when fn returns, accepted
// when fn returned nil.
type Func struct {
	fn func() error

	once     sync.Once
	mu       sync.Mutex
	finished bool
	err      error
	bell     *Bell
}

// NewFunc creates a command around fn
func NewFunc(fn func() error) *Func {
	return &Func{fn: fn}
}

// Poll starts fn on first call
func (f *Func) Poll() error {
	f.once.Do(func() {
		go func() {
			err := f.fn()
			f.mu.Lock()
			f.err = err
			f.finished = true
			bell := f.bell
			f.mu.Unlock()
			bell.Ring()
		}()
	})
	return nil
}

// Finished reports whether fn returned
func (f *Func) Finished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// Accepted reports whether fn returned nil
func (f *Func) Accepted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished && f.err == nil
}

// Err returns fn's error
func (f *Func) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// AttachBell rings b when fn returns
func (f *Func) AttachBell(b *Bell) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bell = b
}

var (
	_ Command = (*done)(nil)
	_ Command = (*Func)(nil)
	_ Waker   = (*Func)(nil)
)
