package command

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// memTransport keeps markers in memory
type memTransport struct {
	mu         sync.Mutex
	markers    map[string]bool
	issued     int
	withdrawn  int
	failIssues int
}

func newMemTransport() *memTransport {
	return &memTransport{markers: make(map[string]bool)}
}

func (m *memTransport) RequestPath(command string, port int) string {
	return fmt.Sprintf("mem/.command.%d.%s", port, command)
}

func (m *memTransport) Issue(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIssues > 0 {
		m.failIssues--
		return errors.New("transient")
	}
	m.issued++
	m.markers[path] = true
	return nil
}

func (m *memTransport) IsPending(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[path]
}

func (m *memTransport) Withdraw(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawn++
	delete(m.markers, path)
}

func (m *memTransport) Ready() error { return nil }

// consume plays the worker's part
func (m *memTransport) consume(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, path)
}

func (m *memTransport) counts() (issued, withdrawn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued, m.withdrawn
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stepCommand finishes after a fixed number of polls
type stepCommand struct {
	mu       sync.Mutex
	steps    int
	polls    int
	accepted bool
	err      error
}

func newStep(steps int, accepted bool) *stepCommand {
	return &stepCommand{steps: steps, accepted: accepted}
}

func (s *stepCommand) Poll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polls < s.steps {
		s.polls++
	}
	return nil
}

func (s *stepCommand) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls >= s.steps
}

func (s *stepCommand) Accepted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls >= s.steps && s.accepted
}

func (s *stepCommand) Err() error { return s.err }

func (s *stepCommand) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// exitHandle is a procmgr.Handle whose exit the test controls
type exitHandle struct {
	done chan struct{}
	once sync.Once
}

func newExitHandle() *exitHandle {
	return &exitHandle{done: make(chan struct{})}
}

func (h *exitHandle) Pid() int                { return 4242 }
func (h *exitHandle) StartedAt() time.Time    { return time.Time{} }
func (h *exitHandle) Exited() <-chan struct{} { return h.done }
func (h *exitHandle) ExitErr() error          { return nil }
func (h *exitHandle) Kill() error             { h.exit(); return nil }
func (h *exitHandle) exit()                   { h.once.Do(func() { close(h.done) }) }

func (h *exitHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
