package procmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Spec describes how to launch one process. Argument construction is the
// configuration's job; the spawner runs exactly what it is given.
type Spec struct {
	ID         ProcessID
	Executable string
	Args       []string
	WorkDir    string
	Env        map[string]string
}

// Spawner launches processes
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

// ExecSpawner launches processes with os/exec. Each process writes its
// stdout and stderr to <logDir>/<id>.log when a log directory is set.
type ExecSpawner struct {
	logDir string
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// NewExecSpawner creates a spawner
func NewExecSpawner(opts ...Option) *ExecSpawner {
	s := &ExecSpawner{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts the process and returns once it is running. The process is not
// tied to ctx: workers outlive the launcher invocation that started them.
func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.WorkDir

	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("PYRAMID_PROCESS_ID=%s", spec.ID))

	var logFile *os.File
	if s.logDir != "" {
		if err := os.MkdirAll(s.logDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		var err error
		logFile, err = os.OpenFile(filepath.Join(s.logDir, string(spec.ID)+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open process log: %w", err)
		}
	}

	cmd.Stdout = pickWriter(s.stdout, logFile)
	cmd.Stderr = pickWriter(s.stderr, logFile)

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("start process: %w", err)
	}

	h := &ExecHandle{
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.done)
		s.logger.Debug("process exited", "process_id", spec.ID, "pid", cmd.Process.Pid, "error", err)
	}()

	s.logger.Info("process spawned", "process_id", spec.ID, "pid", cmd.Process.Pid, "executable", spec.Executable)
	return h, nil
}

func pickWriter(custom io.Writer, logFile *os.File) io.Writer {
	switch {
	case custom != nil && logFile != nil:
		return io.MultiWriter(custom, logFile)
	case custom != nil:
		return custom
	case logFile != nil:
		return logFile
	default:
		return nil
	}
}

// ExecHandle tracks a process started by ExecSpawner
type ExecHandle struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}

	mu      sync.Mutex
	exitErr error
}

// Pid returns the OS process id
func (h *ExecHandle) Pid() int {
	return h.cmd.Process.Pid
}

// StartedAt returns when the process was spawned
func (h *ExecHandle) StartedAt() time.Time {
	return h.startedAt
}

// Exited is closed once the process has exited
func (h *ExecHandle) Exited() <-chan struct{} {
	return h.done
}

// Alive reports whether the process is still running
func (h *ExecHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the wait error once the process has exited
func (h *ExecHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Kill sends SIGKILL. Killing an already exited process is not an error.
func (h *ExecHandle) Kill() error {
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", h.Pid(), err)
	}
	return nil
}

var _ Handle = (*ExecHandle)(nil)
