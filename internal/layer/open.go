package layer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/zhangyi089/overlayfs-progs/internal/pathutil"
)

var (
	// ErrNotDirectory indicates a layer root that is not a directory.
	ErrNotDirectory = errors.New("layer root is not a directory")

	// ErrNestedLayers indicates one layer root nested inside another.
	ErrNestedLayers = errors.New("layer roots must not nest")

	// ErrNoLayers indicates an empty layer stack.
	ErrNoLayers = errors.New("no layers given")
)

// Open validates the given layer roots and opens them as a Set. The upper
// root may be empty, in which case only the lower stack is checked and the
// highest-priority lower acts as the top layer.
//
// Validation here is deliberately light: every root must exist, be a
// directory, and not nest inside another root. A layer the process cannot
// write to is opened read-only.
func Open(upper string, lowers []string) (*Set, error) {
	roots := make([]string, 0, len(lowers)+1)
	if upper != "" {
		roots = append(roots, upper)
	}
	roots = append(roots, lowers...)
	if len(roots) == 0 {
		return nil, ErrNoLayers
	}

	abs := make([]string, len(roots))
	for i, root := range roots {
		a, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", root, err)
		}
		fi, err := os.Stat(a)
		if err != nil {
			return nil, fmt.Errorf("open layer %q: %w", root, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("layer %q: %w", root, ErrNotDirectory)
		}
		abs[i] = a
	}

	for i := range abs {
		for j := range abs {
			if i == j {
				continue
			}
			if r := pathutil.Relativize(abs[i], abs[j]); r != abs[i] {
				return nil, fmt.Errorf("%q inside %q: %w", abs[i], abs[j], ErrNestedLayers)
			}
		}
	}

	layers := make([]*Layer, len(abs))
	for i, a := range abs {
		layers[i] = &Layer{
			Root:     a,
			FS:       NewOSFS(a),
			Index:    i,
			ReadOnly: unix.Access(a, unix.W_OK) != nil,
		}
	}
	return NewSet(layers...), nil
}
