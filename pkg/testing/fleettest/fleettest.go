// Package fleettest provides fakes for exercising the fleet controller
// without real worker binaries: a scripted spawner, controllable process
// handles, a scripted health checker and a worker that consumes markers.
package fleettest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
)

// Handle is a fake process the test controls
type Handle struct {
	pid       int
	startedAt time.Time
	done      chan struct{}
	once      sync.Once
	killed    atomic.Bool
}

var nextPid atomic.Int64

// NewHandle creates a running fake process
func NewHandle() *Handle {
	return &Handle{
		pid:       int(nextPid.Add(1)) + 10_000,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (h *Handle) Pid() int                { return h.pid }
func (h *Handle) StartedAt() time.Time    { return h.startedAt }
func (h *Handle) Exited() <-chan struct{} { return h.done }

func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) ExitErr() error {
	if h.Alive() {
		return nil
	}
	if h.killed.Load() {
		return errors.New("signal: killed")
	}
	return nil
}

// Kill terminates the fake process
func (h *Handle) Kill() error {
	h.killed.Store(true)
	h.Exit()
	return nil
}

// Exit simulates the process ending on its own
func (h *Handle) Exit() {
	h.once.Do(func() { close(h.done) })
}

// Killed reports whether Kill was called
func (h *Handle) Killed() bool {
	return h.killed.Load()
}

// Behavior scripts what a spawned fake process does
type Behavior int

const (
	// Run - the process keeps running until killed or exited
	Run Behavior = iota
	// ExitImmediately - the process dies right after spawning
	ExitImmediately
	// FailSpawn - the executable cannot be launched
	FailSpawn
)

// Spawner is a procmgr.Spawner that hands out fake handles
type Spawner struct {
	mu        sync.Mutex
	scripts   map[procmgr.ProcessID][]Behavior
	spawned   map[procmgr.ProcessID][]*Handle
	specs     []procmgr.Spec
	onSpawned func(spec procmgr.Spec, h *Handle)
}

// NewSpawner creates a spawner whose processes Run unless scripted otherwise
func NewSpawner() *Spawner {
	return &Spawner{
		scripts: make(map[procmgr.ProcessID][]Behavior),
		spawned: make(map[procmgr.ProcessID][]*Handle),
	}
}

// Script queues behaviors for the next spawns of id. Once the queue is
// drained, spawns Run.
func (s *Spawner) Script(id procmgr.ProcessID, behaviors ...Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[id] = append(s.scripts[id], behaviors...)
}

// OnSpawn registers a hook that runs after every successful spawn
func (s *Spawner) OnSpawn(fn func(spec procmgr.Spec, h *Handle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpawned = fn
}

// Spawn implements procmgr.Spawner
func (s *Spawner) Spawn(ctx context.Context, spec procmgr.Spec) (procmgr.Handle, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)

	behavior := Run
	if queue := s.scripts[spec.ID]; len(queue) > 0 {
		behavior = queue[0]
		s.scripts[spec.ID] = queue[1:]
	}

	if behavior == FailSpawn {
		s.mu.Unlock()
		return nil, fmt.Errorf("start process: %w", &exec.Error{Name: spec.Executable, Err: exec.ErrNotFound})
	}

	h := NewHandle()
	if behavior == ExitImmediately {
		h.Exit()
	}
	s.spawned[spec.ID] = append(s.spawned[spec.ID], h)
	hook := s.onSpawned
	s.mu.Unlock()

	if hook != nil {
		hook(spec, h)
	}
	return h, nil
}

// Spawned returns every handle created for id, oldest first
func (s *Spawner) Spawned(id procmgr.ProcessID) []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.spawned[id]...)
}

// Count returns how many spawns were attempted for id, failed ones included
func (s *Spawner) Count(id procmgr.ProcessID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, spec := range s.specs {
		if spec.ID == id {
			n++
		}
	}
	return n
}

// Last returns the newest handle for id
func (s *Spawner) Last(id procmgr.ProcessID) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.spawned[id]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// Health is a scripted health checker. Ports are unhealthy unless marked up.
type Health struct {
	mu     sync.Mutex
	up     map[int]bool
	checks map[int]int
	upIn   map[int]int
}

// NewHealth creates a checker with every port down
func NewHealth() *Health {
	return &Health{
		up:     make(map[int]bool),
		checks: make(map[int]int),
		upIn:   make(map[int]int),
	}
}

// Set marks port healthy or not
func (h *Health) Set(port int, up bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.up[port] = up
	delete(h.upIn, port)
}

// UpAfter makes port report healthy from the n-th check on
func (h *Health) UpAfter(port, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.up[port] = false
	h.upIn[port] = n
}

// Checks returns how many times port was checked
func (h *Health) Checks(port int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checks[port]
}

// Alive implements the controller's health checker
func (h *Health) Alive(ctx context.Context, ep config.Endpoint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks[ep.Port]++
	if n, ok := h.upIn[ep.Port]; ok && h.checks[ep.Port] >= n {
		h.up[ep.Port] = true
		delete(h.upIn, ep.Port)
	}
	return h.up[ep.Port]
}

// Worker plays the worker side of the marker protocol: it deletes markers
// addressed to its port and runs a callback for each one.
type Worker struct {
	folder   string
	port     int
	interval time.Duration
	onMarker func(command string)

	consumed atomic.Int64
	stop     chan struct{}
	stopped  chan struct{}
}

// NewWorker creates a worker polling folder for markers on port
func NewWorker(folder string, port int, onMarker func(command string)) *Worker {
	return &Worker{
		folder:   folder,
		port:     port,
		interval: 20 * time.Millisecond,
		onMarker: onMarker,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins consuming markers
func (w *Worker) Start() {
	go w.run()
}

// Stop stops consuming markers and waits for the loop to end
func (w *Worker) Stop() {
	close(w.stop)
	<-w.stopped
}

// Consumed returns how many markers the worker deleted
func (w *Worker) Consumed() int {
	return int(w.consumed.Load())
}

func (w *Worker) run() {
	defer close(w.stopped)

	prefix := ".command." + strconv.Itoa(w.port) + "."
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}

		matches, err := filepath.Glob(filepath.Join(w.folder, prefix+"*"))
		if err != nil {
			continue
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				continue
			}
			w.consumed.Add(1)
			if w.onMarker != nil {
				w.onMarker(filepath.Base(path)[len(prefix):])
			}
		}
	}
}

var _ procmgr.Spawner = (*Spawner)(nil)
var _ procmgr.Handle = (*Handle)(nil)
