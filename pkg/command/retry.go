package command

import (
	"sync"
	"time"
)

// Canceler is implemented by commands that can be abandoned mid-flight
type Canceler interface {
	Cancel()
}

// RetryPolicy bounds a Retry
type RetryPolicy struct {
	// Attempts is the maximum number of attempts, at least one
	Attempts int

	// Delay separates a rejected attempt from the next one
	Delay time.Duration

	// Settled is checked on every poll after the current attempt was polled.
	// Returning true ends the retry with the given outcome and cancels the
	// current attempt.
	Settled func() (settled, accepted bool)

	// Exhausted supplies a final stage once every attempt was rejected. Its
	// outcome becomes the retry's. Nil means finish rejected.
	Exhausted func() Command
}

// Retry creates a fresh attempt until one is accepted or the policy runs out
type Retry struct {
	policy  RetryPolicy
	attempt func(n int) Command
	now     func() time.Time

	mu        sync.Mutex
	n         int
	current   Command
	final     Command
	waitUntil time.Time
	finished  bool
	accepted  bool
	bell      *Bell
}

// NewRetry creates a retry. attempt is called with 1, 2, ... to build each
// attempt lazily.
func NewRetry(policy RetryPolicy, attempt func(n int) Command) *Retry {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Retry{
		policy:  policy,
		attempt: attempt,
		now:     time.Now,
	}
}

// Attempts returns how many attempts were made so far
func (r *Retry) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Poll advances the current attempt or the final stage
func (r *Retry) Poll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return nil
	}

	if r.final != nil {
		return r.pollFinalLocked()
	}

	if r.current == nil {
		if r.n > 0 && r.now().Before(r.waitUntil) {
			return r.checkSettledLocked()
		}
		r.n++
		r.current = r.attempt(r.n)
		attachBell(r.current, r.bell)
	}

	if err := r.current.Poll(); err != nil {
		return err
	}

	if err := r.checkSettledLocked(); err != nil || r.finished {
		return err
	}

	if !r.current.Finished() {
		return nil
	}

	if r.current.Accepted() {
		r.finishLocked(true)
		return nil
	}

	if r.n < r.policy.Attempts {
		r.current = nil
		r.waitUntil = r.now().Add(r.policy.Delay)
		return nil
	}

	if r.policy.Exhausted == nil {
		r.finishLocked(false)
		return nil
	}
	r.final = r.policy.Exhausted()
	attachBell(r.final, r.bell)
	return r.pollFinalLocked()
}

func (r *Retry) checkSettledLocked() error {
	if r.policy.Settled == nil {
		return nil
	}
	settled, accepted := r.policy.Settled()
	if !settled {
		return nil
	}
	if r.current != nil && !r.current.Finished() {
		if c, ok := r.current.(Canceler); ok {
			c.Cancel()
		}
	}
	r.finishLocked(accepted)
	return nil
}

func (r *Retry) pollFinalLocked() error {
	if err := r.final.Poll(); err != nil {
		return err
	}
	if r.final.Finished() {
		r.finishLocked(r.final.Accepted())
	}
	return nil
}

func (r *Retry) finishLocked(accepted bool) {
	r.finished = true
	r.accepted = accepted
}

// Finished reports whether the retry is over
func (r *Retry) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Accepted reports the retry's outcome
func (r *Retry) Accepted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished && r.accepted
}

// Err returns the final stage's error
func (r *Retry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final != nil {
		return r.final.Err()
	}
	return nil
}

// AttachBell passes b to the current and future attempts
func (r *Retry) AttachBell(b *Bell) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bell = b
	if r.current != nil {
		attachBell(r.current, b)
	}
	if r.final != nil {
		attachBell(r.final, b)
	}
}

// after finishes once a delay has elapsed since its first poll
type after struct {
	delay    time.Duration
	accepted bool
	now      func() time.Time

	mu       sync.Mutex
	started  bool
	until    time.Time
	finished bool
}

// After returns a command that finishes with the given outcome once d has
// elapsed since it was first polled
func After(d time.Duration, accepted bool) Command {
	return &after{delay: d, accepted: accepted, now: time.Now}
}

func (a *after) Poll() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if !a.started {
		a.started = true
		a.until = now.Add(a.delay)
	}
	if !now.Before(a.until) {
		a.finished = true
	}
	return nil
}

func (a *after) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

func (a *after) Accepted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished && a.accepted
}

func (a *after) Err() error { return nil }

var (
	_ Command  = (*Retry)(nil)
	_ Waker    = (*Retry)(nil)
	_ Command  = (*after)(nil)
	_ Canceler = (*SignalCommand)(nil)
)
