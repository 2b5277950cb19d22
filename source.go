package nodert

import "github.com/evanw/esbuild/pkg/api"

// prepareSource runs a script source through esbuild's IIFE transform, which
// lowers ES module syntax into a plain script the interpreter can evaluate.
// Every source that parses is re-emitted wrapped in a function expression,
// plain scripts included, so top-level declarations do not become globals.
// If esbuild reports errors the source is returned as-is so the
// interpreter's own compile error surfaces downstream.
func prepareSource(source string) string {
	result := api.Transform(source, api.TransformOptions{
		Format: api.FormatIIFE,
		Target: api.ESNext,
	})
	if len(result.Errors) > 0 {
		return source
	}
	return string(result.Code)
}
