package nodert

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// defaultDelay bounds the selector wait when no timer is pending. The
// wakeup contract makes the exact value unobservable; it exists as a
// liveness backstop so a missed wakeup delays work instead of losing it.
const defaultDelay = time.Hour

const (
	defaultAsyncWorkers = 8
	defaultAsyncQueue   = 32
)

// RuntimeConfig configures a single script runtime. Analogous to the
// engine configuration of the worker engine this runtime grew out of:
// plain data, validated at construction.
type RuntimeConfig struct {
	// ScriptName is the display name of the main script (argv[1]).
	ScriptName string
	// ScriptSource is the main script source. ES module sources are
	// lowered to plain scripts before evaluation.
	ScriptSource string
	// Args are the script's own arguments (argv[2:]).
	Args []string
	// ExecArgs are the runtime flags consumed at startup (--expose-gc and
	// friends). An unrecognized --flag is a fatal configuration error.
	ExecArgs []string
	// Env is exposed as process.env.
	Env map[string]string
	// NodeVersion is reported as process.version.
	NodeVersion string

	// Sandbox optionally confines the filesystem view and replaces stdio.
	Sandbox *Sandbox

	// Registry supplies native modules and the bootstrap main script.
	Registry *ModuleRegistry

	// TimeLimit bounds each script invocation; zero disables the watchdog.
	TimeLimit time.Duration

	// AsyncPoolWorkers and AsyncPoolQueue size the bounded pool. The
	// sandbox's pool override wins when set.
	AsyncPoolWorkers int
	AsyncPoolQueue   int

	// CleanupHook runs during shutdown, before open handles are closed.
	CleanupHook func()

	// LogOutput receives structured logs; defaults to stderr.
	LogOutput io.Writer
	// Logger overrides the constructed logger entirely when non-nil.
	Logger *zerolog.Logger
}
