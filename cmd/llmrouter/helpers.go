package main

import (
	"context"
	"io"
	"os"

	"github.com/joss/llmrouter/internal/app"
	"github.com/joss/llmrouter/internal/config"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/render"
	"github.com/joss/llmrouter/internal/runtime"
)

var (
	shutdown *runtime.ShutdownManager
	log      = logging.New("cli")
)

// setupLogging sends JSON lines to the log file, or a console stream to
// stderr with --verbose. The returned closer releases the file.
func setupLogging(home string, interactive bool) io.Closer {
	if verbose && !interactive {
		logging.Setup(logging.Options{Writer: os.Stderr, Console: true, Debug: true})
		return io.NopCloser(nil)
	}
	f, err := logging.OpenFile(config.NewPaths(home).LogFile)
	if err != nil {
		logging.Setup(logging.Options{})
		return io.NopCloser(nil)
	}
	logging.Setup(logging.Options{Writer: f, Debug: verbose})
	return f
}

// openApp wires the pipeline and the shutdown manager. Any failure is
// fatal: missing files, unresolvable models, or a held store lock.
func openApp(interactive bool) (*app.App, context.Context) {
	home := config.ResolveHome(homeFlag)
	logFile := setupLogging(home, interactive)

	shutdown = runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	shutdown.RegisterSimple("log", func() { logFile.Close() })

	a, err := app.Open(app.Options{Home: home})
	if err != nil {
		exitOnError(err)
	}
	shutdown.Register("store", func(ctx context.Context) error { return a.Close() })
	shutdown.ListenForSignals()
	return a, shutdown.Context()
}

// exitOnError logs err, prints its explanation to stderr, runs cleanup,
// and exits 1.
func exitOnError(err error) {
	kind, _ := errkind.KindOf(err)
	log.Error("command_failed", logging.Fields{"kind": string(kind)}, err)
	render.Error(os.Stderr, err)
	finish()
	os.Exit(1)
}

// finish runs the registered cleanup handlers.
func finish() {
	if shutdown == nil {
		return
	}
	if err := shutdown.Shutdown(); err != nil {
		log.Warn("shutdown_incomplete", nil, err)
	}
}

func renderer() *render.Renderer {
	return render.New(pretty).WithWidth(render.Width())
}
