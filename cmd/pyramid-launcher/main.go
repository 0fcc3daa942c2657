// Command pyramid-launcher starts, stops, restarts and supervises the
// image-pyramid worker fleet described by a server configuration file.
package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/jrepp/pyramid-fleet/cmd/pyramid-launcher/internal/ui"
)

func main() {
	a := &app{
		ui:     ui.NewUI(),
		stdin:  os.Stdin,
		stderr: os.Stderr,
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	a.flushTraces()

	if err != nil {
		a.fail(err)
		os.Exit(1)
	}
}
