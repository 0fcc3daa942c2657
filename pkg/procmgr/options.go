package procmgr

import (
	"io"
	"log/slog"
)

// Option configures the ExecSpawner
type Option func(*ExecSpawner)

// WithLogDir writes each process's output to <dir>/<id>.log
func WithLogDir(dir string) Option {
	return func(s *ExecSpawner) {
		s.logDir = dir
	}
}

// WithOutput copies process stdout and stderr to the given writers
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *ExecSpawner) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithLogger sets the spawner's logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *ExecSpawner) {
		if logger != nil {
			s.logger = logger
		}
	}
}
