package command

import (
	"errors"
	"sync"
)

// Sequence runs commands one after another. Each stage is first polled only
// after the previous one finished. The sequence's outcome is its last stage's.
type Sequence struct {
	mu      sync.Mutex
	stages  []Command
	current int
	bell    *Bell
}

// NewSequence chains stages
func NewSequence(stages ...Command) *Sequence {
	return &Sequence{stages: stages}
}

// Poll advances the current stage, moving on within the same poll when a
// stage finishes
func (s *Sequence) Poll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.current < len(s.stages) {
		stage := s.stages[s.current]
		if err := stage.Poll(); err != nil {
			return err
		}
		if !stage.Finished() {
			return nil
		}
		s.current++
		if s.current < len(s.stages) {
			attachBell(s.stages[s.current], s.bell)
		}
	}
	return nil
}

// Finished reports whether the last stage finished
func (s *Sequence) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current >= len(s.stages)
}

// Accepted reports whether the last stage was accepted
func (s *Sequence) Accepted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < len(s.stages) {
		return false
	}
	if len(s.stages) == 0 {
		return true
	}
	return s.stages[len(s.stages)-1].Accepted()
}

// Err joins the errors of every stage
func (s *Sequence) Err() error {
	var errs []error
	for _, stage := range s.stages {
		if err := stage.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AttachBell passes b to the current stage and every later one
func (s *Sequence) AttachBell(b *Bell) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bell = b
	if s.current < len(s.stages) {
		attachBell(s.stages[s.current], b)
	}
}

var (
	_ Command = (*Sequence)(nil)
	_ Waker   = (*Sequence)(nil)
)
