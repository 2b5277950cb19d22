package nodert

import "strings"

// execFlags is the decoded form of the runtime flags recognized at startup.
// Flags outside this set that begin with "--" are a fatal configuration
// error before any event processing begins.
type execFlags struct {
	exposeGC         bool
	throwDeprecation bool
	traceDeprecation bool
	noDeprecation    bool
}

// parseExecFlags interprets the recognized execution flags. The
// --http-adapter*, --node-version*, --debug, and --trace families are
// recognized no-ops at this level; they are handled by outer layers.
func parseExecFlags(args []string) (execFlags, error) {
	var f execFlags
	for _, arg := range args {
		switch {
		case arg == "--expose-gc" || arg == "--expose_gc":
			f.exposeGC = true
		case arg == "--throw-deprecation":
			f.throwDeprecation = true
		case arg == "--trace-deprecation":
			f.traceDeprecation = true
		case arg == "--no-deprecation":
			f.noDeprecation = true
		case strings.HasPrefix(arg, "--http-adapter"):
			// handled by the HTTP adapter layer
		case strings.HasPrefix(arg, "--node-version") || strings.HasPrefix(arg, "--node_version"):
			// handled by the version selection layer
		case arg == "--debug" || strings.HasPrefix(arg, "--debug="):
			// recognized no-op
		case arg == "--trace" || strings.HasPrefix(arg, "--trace="):
			// recognized no-op
		case strings.HasPrefix(arg, "--"):
			return f, &ConfigError{Flag: arg}
		}
	}
	return f, nil
}
