// Package layer models the ordered stack of directory trees that make up an
// overlay mount: one upper layer over zero or more lower layers.
//
// All filesystem access by the engine goes through the FS interface, with
// paths relative to a layer root. Two implementations exist: an OS-backed one
// used by the CLI and an in-memory one used as a test fixture.
package layer

import (
	"errors"
	"os"
)

// ErrXattrNotFound is returned by FS.Getxattr when the attribute is not set
// on the entry, or when the underlying filesystem does not support extended
// attributes at all.
var ErrXattrNotFound = errors.New("extended attribute not found")

// FS provides filesystem access within a single layer root.
// All paths are relative to the layer root; "" and "." address the root
// itself.
type FS interface {
	// Lstat returns file info without following symlinks.
	Lstat(path string) (os.FileInfo, error)

	// ReadDir lists the entries of a directory.
	ReadDir(path string) ([]os.FileInfo, error)

	// Getxattr reads an extended attribute, returning ErrXattrNotFound when
	// the attribute is absent.
	Getxattr(path, attr string) ([]byte, error)

	// Setxattr writes an extended attribute.
	Setxattr(path, attr string, value []byte) error

	// Removexattr removes an extended attribute.
	Removexattr(path, attr string) error

	// IsWhiteout reports whether the entry at path is a whiteout node.
	IsWhiteout(path string) (bool, error)

	// Whiteout creates a whiteout node at path.
	Whiteout(path string) error

	// Remove removes a file or empty directory.
	Remove(path string) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error
}
