package command

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
	"github.com/jrepp/pyramid-fleet/pkg/signal"
)

// SignalState is the position of a SignalCommand in its lifecycle
type SignalState int

const (
	// SignalStateIssuing - the marker has not been created yet
	SignalStateIssuing SignalState = iota
	// SignalStatePending - the marker exists and nobody consumed it
	SignalStatePending
	// SignalStateWaitingGrace - the marker was consumed; waiting for the
	// target to act on it
	SignalStateWaitingGrace
	// SignalStateFinished - terminal
	SignalStateFinished
)

// String returns the string representation of a SignalState
func (s SignalState) String() string {
	switch s {
	case SignalStateIssuing:
		return "Issuing"
	case SignalStatePending:
		return "Pending"
	case SignalStateWaitingGrace:
		return "WaitingGrace"
	case SignalStateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// SignalConfig describes one marker request
type SignalConfig struct {
	// Command is the marker suffix, e.g. signal.CommandFinish
	Command string

	// Port identifies the target worker
	Port int

	// Timeout bounds the whole request from creation
	Timeout time.Duration

	// DelayAfterAccept is how long to wait after the marker was consumed
	DelayAfterAccept time.Duration
}

// SignalOption configures a SignalCommand
type SignalOption func(*SignalCommand)

// WithHandle lets the command finish early, rejected, when the target
// process exits before consuming the marker
func WithHandle(h procmgr.Handle) SignalOption {
	return func(c *SignalCommand) {
		c.handle = h
	}
}

// WithLogger sets the command's logger
func WithLogger(logger *slog.Logger) SignalOption {
	return func(c *SignalCommand) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records the command's outcome
func WithMetrics(m procmgr.MetricsCollector) SignalOption {
	return func(c *SignalCommand) {
		if m != nil {
			c.metrics = m
		}
	}
}

func withClock(now func() time.Time) SignalOption {
	return func(c *SignalCommand) {
		c.now = now
	}
}

// SignalCommand asks one worker to act by creating a marker file and waits
// until the worker deletes it or the timeout elapses.
type SignalCommand struct {
	transport signal.Transport
	cfg       SignalConfig
	path      string
	handle    procmgr.Handle
	logger    *slog.Logger
	metrics   procmgr.MetricsCollector
	now       func() time.Time

	mu           sync.Mutex
	state        SignalState
	acknowledged bool
	createdAt    time.Time
	deadline     time.Time
	graceUntil   time.Time
	bell         *Bell
	unsubscribe  func()
}

// NewSignal creates a request. Nothing touches the filesystem until the first
// poll; the timeout starts now.
func NewSignal(transport signal.Transport, cfg SignalConfig, opts ...SignalOption) *SignalCommand {
	c := &SignalCommand{
		transport: transport,
		cfg:       cfg,
		path:      transport.RequestPath(cfg.Command, cfg.Port),
		logger:    slog.Default(),
		metrics:   procmgr.NewNoopMetricsCollector(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("marker", c.path, "port", cfg.Port)
	c.createdAt = c.now()
	c.deadline = c.createdAt.Add(cfg.Timeout)
	return c
}

// Path returns the marker location
func (c *SignalCommand) Path() string {
	return c.path
}

// State returns the current lifecycle state
func (c *SignalCommand) State() SignalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Poll advances the request by one step
func (c *SignalCommand) Poll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == SignalStateFinished {
		return nil
	}

	if c.handle != nil && !c.handle.Alive() {
		if c.state == SignalStateWaitingGrace {
			c.finishLocked(true)
			return nil
		}
		c.logger.Debug("target exited before consuming marker", "pid", c.handle.Pid())
		c.transport.Withdraw(c.path)
		c.finishLocked(false)
		return nil
	}

	now := c.now()

	switch c.state {
	case SignalStateIssuing:
		if !now.Before(c.deadline) {
			c.logger.Debug("marker never issued before timeout")
			c.finishLocked(false)
			return nil
		}
		if err := c.transport.Issue(c.path); err != nil {
			c.logger.Debug("failed to issue marker, retrying", "error", err)
			return nil
		}
		c.state = SignalStatePending
		c.subscribeLocked()

	case SignalStatePending:
		if !c.transport.IsPending(c.path) {
			c.acknowledged = true
			c.cancelSubscriptionLocked()
			c.graceUntil = now.Add(c.cfg.DelayAfterAccept)
			c.state = SignalStateWaitingGrace
			c.logger.Debug("marker consumed")
			if c.cfg.DelayAfterAccept <= 0 {
				c.finishLocked(true)
			}
			return nil
		}
		if !now.Before(c.deadline) {
			c.logger.Debug("marker not consumed before timeout, withdrawing")
			c.transport.Withdraw(c.path)
			c.finishLocked(false)
		}

	case SignalStateWaitingGrace:
		if !now.Before(c.graceUntil) {
			c.finishLocked(true)
		}
	}

	return nil
}

// Cancel withdraws an outstanding marker and finishes the command rejected
func (c *SignalCommand) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == SignalStateFinished {
		return
	}
	if c.state == SignalStateWaitingGrace {
		c.finishLocked(true)
		return
	}
	c.transport.Withdraw(c.path)
	c.finishLocked(false)
}

// Finished reports whether the request is over
func (c *SignalCommand) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == SignalStateFinished
}

// Accepted reports whether the worker consumed the marker. It is false until
// the command has finished.
func (c *SignalCommand) Accepted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == SignalStateFinished && c.acknowledged
}

// Err is always nil: marker failures are retried, then reported as rejection
func (c *SignalCommand) Err() error {
	return nil
}

// AttachBell rings b when the marker disappears
func (c *SignalCommand) AttachBell(b *Bell) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bell = b
	if c.state == SignalStatePending {
		c.cancelSubscriptionLocked()
		c.subscribeLocked()
	}
}

func (c *SignalCommand) subscribeLocked() {
	if c.bell == nil || c.unsubscribe != nil {
		return
	}
	n, ok := c.transport.(signal.Notifier)
	if !ok {
		return
	}
	cancel, ok := n.Notify(c.path, c.bell.Ring)
	if ok {
		c.unsubscribe = cancel
	}
}

func (c *SignalCommand) cancelSubscriptionLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *SignalCommand) finishLocked(accepted bool) {
	c.cancelSubscriptionLocked()
	c.acknowledged = accepted
	c.state = SignalStateFinished
	c.metrics.SignalCompleted(c.cfg.Command, accepted, c.now().Sub(c.createdAt))
}

var (
	_ Command = (*SignalCommand)(nil)
	_ Waker   = (*SignalCommand)(nil)
)
