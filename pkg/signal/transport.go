// Package signal implements the inter-process command protocol between the
// launcher and worker processes.
//
// A request is a zero-length marker file in the system commands folder.
// Creating the file asks the worker listening on a port to act; the worker
// deletes the file once it has accepted the request; the issuer deletes it
// itself when it gives up waiting. The file's existence is the whole state of
// an outstanding request.
package signal

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// MarkerPrefix starts every marker file name
const MarkerPrefix = ".command"

// Well-known command suffixes understood by workers
const (
	CommandFinish = "finish"
	CommandReload = "reload"
)

// Transport carries boolean "please act" requests to a process and reports
// whether the process has reacted.
type Transport interface {
	// RequestPath returns the location of the request for command on port
	RequestPath(command string, port int) string

	// Issue replaces any stale request at path with a fresh one
	Issue(path string) error

	// IsPending reports whether the request at path has not been consumed
	IsPending(path string) bool

	// Withdraw removes the request at path. It never fails.
	Withdraw(path string)

	// Ready reports whether requests can be exchanged at all
	Ready() error
}

// Notifier is implemented by transports that can wake a waiter as soon as a
// request is consumed. fn must not block. ok is false when notifications are
// unavailable and the caller has to rely on polling alone.
type Notifier interface {
	Notify(path string, fn func()) (cancel func(), ok bool)
}

// FolderMissingError reports that the system commands folder does not exist
type FolderMissingError struct {
	Folder string
	Err    error
}

func (e *FolderMissingError) Error() string {
	return fmt.Sprintf("system commands folder %s: %v", e.Folder, e.Err)
}

func (e *FolderMissingError) Unwrap() error { return e.Err }

// FileTransport exchanges requests through marker files in one folder
type FileTransport struct {
	folder string
	logger *slog.Logger
	events *eventHub
}

// NewFileTransport creates a transport rooted at folder. The folder is not
// created; Ready reports when it is missing.
func NewFileTransport(folder string, logger *slog.Logger) *FileTransport {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "signal", "folder", folder)

	return &FileTransport{
		folder: folder,
		logger: logger,
		events: newEventHub(folder, logger),
	}
}

// Folder returns the system commands folder
func (t *FileTransport) Folder() string {
	return t.folder
}

// RequestPath returns <folder>/.command.<port>.<command>
func (t *FileTransport) RequestPath(command string, port int) string {
	return filepath.Join(t.folder, MarkerPrefix+"."+strconv.Itoa(port)+"."+command)
}

// Issue deletes a stale marker and creates a fresh one. A marker created by
// a concurrent issuer between the two steps is the same request and counts as
// success.
func (t *FileTransport) Issue(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale marker: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			t.logger.Debug("marker already issued by a concurrent request", "marker", path)
			return nil
		}
		return fmt.Errorf("create marker: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close marker: %w", err)
	}

	t.logger.Debug("marker issued", "marker", path)
	return nil
}

// IsPending reports whether the marker still exists. A stat failure other
// than "not found" keeps the request pending so a transient error is retried
// on the next poll instead of being read as acceptance.
func (t *FileTransport) IsPending(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	t.logger.Debug("marker stat failed", "marker", path, "error", err)
	return true
}

// Withdraw deletes the marker if it exists. Errors are logged and swallowed:
// failing to withdraw must never block a shutdown.
func (t *FileTransport) Withdraw(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.logger.Warn("failed to withdraw marker", "marker", path, "error", err)
	}
}

// Ready checks that the commands folder exists
func (t *FileTransport) Ready() error {
	info, err := os.Stat(t.folder)
	if err != nil {
		return &FolderMissingError{Folder: t.folder, Err: err}
	}
	if !info.IsDir() {
		return &FolderMissingError{Folder: t.folder, Err: errors.New("not a directory")}
	}
	return nil
}

// Notify calls fn whenever the marker at path is removed or renamed
func (t *FileTransport) Notify(path string, fn func()) (func(), bool) {
	return t.events.subscribe(path, fn)
}

// Close stops watching the commands folder
func (t *FileTransport) Close() error {
	return t.events.close()
}

var (
	_ Transport = (*FileTransport)(nil)
	_ Notifier  = (*FileTransport)(nil)
)
