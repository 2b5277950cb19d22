package nodert

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// newRuntimeLogger builds the runtime's structured logger. Component
// sub-loggers hang off it via With().Str("component", ...).
func newRuntimeLogger(w io.Writer, runtimeID string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("runtime", runtimeID).
		Logger()
}
