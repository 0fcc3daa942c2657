// Package launcher orchestrates the whole fleet: every worker group plus the
// reverse proxy.
//
// # Quick Start
//
//	cfg, err := config.Load(projectRoot, "servers.yaml")
//	if err != nil {
//	    return err
//	}
//
//	l, err := launcher.NewBuilder(cfg).WithLogger(logger).Build()
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	if err := l.StartAll(ctx, true); err != nil {
//	    return err
//	}
//
// # Requests
//
// Starting blocks: StartAll walks the groups in configuration order, then the
// proxy, and returns once each was tried. Stopping and restarting never
// block. StopAllRequest and RestartAllRequest return a command.Composite
// with one child per target; drive it with command.WaitFor to learn the
// outcome:
//
//	if err := l.Ready(); err != nil {
//	    return err // commands folder missing
//	}
//	accepted, err := command.WaitFor(ctx, l.StopAllRequest(ctx, false), l.PollInterval())
//
// A stop is accepted when the worker consumed its finish marker or exited.
// A worker that ignores every request is killed and reported as not accepted.
//
// # Targets
//
// The per-target variants take a group id; the proxy has its own methods and
// the reserved id config.ProxyKey. Unknown ids fail with
// fleeterr.ErrorCodeUnknownGroup.
//
// # Events
//
// Lifecycle transitions (starting, ready, skipped, failed, stopping,
// stopped, restarting, signaled) go to an EventPublisher. The default
// publisher logs them.
package launcher
