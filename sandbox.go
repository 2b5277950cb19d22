package nodert

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Mount maps a virtual path prefix (seen by scripts) onto a physical path
// prefix (used for real I/O).
type Mount struct {
	Virtual  string
	Physical string
}

// Sandbox confines a runtime: a filesystem root, a working directory,
// mounts layered over the root, an async-pool override, alternative stdio
// streams, and a network policy predicate.
type Sandbox struct {
	// Root is the physical directory that backs the virtual filesystem
	// root. Empty means no translation.
	Root string
	// WorkingDir is the virtual working directory reported to scripts.
	WorkingDir string
	// Mounts are checked before the root, longest virtual prefix first.
	Mounts []Mount

	// AsyncPool overrides the runtime's bounded pool when non-nil.
	AsyncPool *AsyncPool

	// Stdout and Stderr replace the process streams when non-nil. Streams
	// that implement io.Closer and are not the real stdio are closed during
	// shutdown.
	Stdout io.Writer
	Stderr io.Writer

	// NetworkPolicy, when non-nil, is consulted before outbound
	// connections; false rejects the address.
	NetworkPolicy func(addr string) bool
}

// PathTranslator maps virtual paths to physical paths and back, honoring
// the sandbox root and mounts. With no sandbox both directions are the
// identity.
type PathTranslator struct {
	root   string
	mounts []Mount // sorted by descending virtual prefix length
}

func newPathTranslator(sb *Sandbox) *PathTranslator {
	t := &PathTranslator{}
	if sb == nil {
		return t
	}
	t.root = strings.TrimSuffix(path.Clean(sb.Root), "/")
	if t.root == "." {
		t.root = ""
	}
	for _, m := range sb.Mounts {
		t.mounts = append(t.mounts, Mount{
			Virtual:  path.Clean(m.Virtual),
			Physical: path.Clean(m.Physical),
		})
	}
	sort.SliceStable(t.mounts, func(i, j int) bool {
		return len(t.mounts[i].Virtual) > len(t.mounts[j].Virtual)
	})
	return t
}

// Translate maps a virtual path to the physical path used for I/O. The path
// is cleaned against the virtual root first, so leading .. segments collapse
// there and the result stays under the root or a mount.
func (t *PathTranslator) Translate(virtual string) (string, error) {
	if t.root == "" && len(t.mounts) == 0 {
		return virtual, nil
	}
	p := path.Clean("/" + virtual)
	if p == "/.." || strings.HasPrefix(p, "/../") {
		return "", fmt.Errorf("path %q escapes the sandbox root", virtual)
	}
	for _, m := range t.mounts {
		if rest, ok := pathWithin(m.Virtual, p); ok {
			return path.Join(m.Physical, rest), nil
		}
	}
	return path.Join(t.root, p), nil
}

// ReverseTranslate maps a physical path back to the virtual path a script
// would use for it.
func (t *PathTranslator) ReverseTranslate(physical string) (string, error) {
	if t.root == "" && len(t.mounts) == 0 {
		return physical, nil
	}
	p := path.Clean(physical)
	best := ""
	bestLen := -1
	for _, m := range t.mounts {
		if rest, ok := pathWithin(m.Physical, p); ok && len(m.Physical) > bestLen {
			best = path.Join(m.Virtual, rest)
			bestLen = len(m.Physical)
		}
	}
	if bestLen >= 0 {
		return best, nil
	}
	if rest, ok := pathWithin(t.root, p); ok {
		return path.Clean("/" + rest), nil
	}
	return "", fmt.Errorf("path %q is outside the sandbox", physical)
}

// pathWithin reports whether p is prefix itself or under it, returning the
// relative remainder.
func pathWithin(prefix, p string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	if p == prefix {
		return "", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix)+1:], true
	}
	return "", false
}
