package command

import (
	"errors"
	"sync"
)

// Composite groups commands. It is finished when every child is finished and
// accepted when every child is accepted.
type Composite struct {
	mu       sync.Mutex
	children []Command
	polled   []bool
	done     []bool
	finished bool
	accepted bool
	fired    bool
	onFinish func(*Composite)
}

// NewComposite groups children. Children that are already finished, such as
// Done commands, count as completed.
func NewComposite(children ...Command) *Composite {
	c := &Composite{
		children: children,
		polled:   make([]bool, len(children)),
		done:     make([]bool, len(children)),
	}
	for i, child := range children {
		c.done[i] = child.Finished()
	}
	c.recomputeLocked()
	return c
}

// OnFinish registers fn to run exactly once, on the poll that observes the
// composite finished. A composite that is born finished is never polled by
// its parent, so fn runs right away.
func (c *Composite) OnFinish(fn func(*Composite)) *Composite {
	c.mu.Lock()
	c.onFinish = fn
	now := c.finished && !c.fired
	if now {
		c.fired = true
	}
	c.mu.Unlock()

	if now && fn != nil {
		fn(c)
	}
	return c
}

// Children returns the grouped commands in order
func (c *Composite) Children() []Command {
	return c.children
}

// Poll polls every child that has not finished yet
func (c *Composite) Poll() error {
	c.mu.Lock()

	if !c.finished {
		for i, child := range c.children {
			if c.done[i] {
				continue
			}
			if !c.polled[i] && child.Finished() {
				c.mu.Unlock()
				return ErrPollAfterFinish
			}
			if err := child.Poll(); err != nil {
				c.mu.Unlock()
				return err
			}
			c.polled[i] = true
			c.done[i] = child.Finished()
		}
		c.recomputeLocked()
	}

	var fn func(*Composite)
	if c.finished && !c.fired {
		c.fired = true
		fn = c.onFinish
	}
	c.mu.Unlock()

	if fn != nil {
		fn(c)
	}
	return nil
}

func (c *Composite) recomputeLocked() {
	finished := true
	accepted := true
	for i, child := range c.children {
		if !c.done[i] {
			finished = false
		}
		if !child.Accepted() {
			accepted = false
		}
	}
	c.finished = finished
	c.accepted = finished && accepted
}

// Finished reports whether every child finished
func (c *Composite) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Accepted reports whether every child was accepted
func (c *Composite) Accepted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Counts returns how many children finished accepted and rejected so far
func (c *Composite) Counts() (accepted, rejected int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, child := range c.children {
		if !c.done[i] {
			continue
		}
		if child.Accepted() {
			accepted++
		} else {
			rejected++
		}
	}
	return accepted, rejected
}

// Err joins the children's errors
func (c *Composite) Err() error {
	var errs []error
	for _, child := range c.children {
		if err := child.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AttachBell passes b to every child that can use it
func (c *Composite) AttachBell(b *Bell) {
	for _, child := range c.children {
		attachBell(child, b)
	}
}

var (
	_ Command = (*Composite)(nil)
	_ Waker   = (*Composite)(nil)
)
