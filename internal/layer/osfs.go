package layer

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// osFS implements FS against a real directory tree.
type osFS struct {
	root string
}

// NewOSFS returns an FS rooted at the given directory.
func NewOSFS(root string) FS {
	return &osFS{root: root}
}

// abs resolves a layer-relative path to a host path.
func (f *osFS) abs(path string) string {
	if path == "" || path == "." {
		return f.root
	}
	return filepath.Join(f.root, path)
}

// Lstat returns file info without following symlinks.
func (f *osFS) Lstat(path string) (os.FileInfo, error) {
	return os.Lstat(f.abs(path))
}

// ReadDir lists the entries of a directory.
func (f *osFS) ReadDir(path string) ([]os.FileInfo, error) {
	dir, err := os.Open(f.abs(path))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = dir.Close()
	}()

	return dir.Readdir(-1)
}

// Getxattr reads an extended attribute without following symlinks.
// A missing attribute and an unsupported filesystem both map to
// ErrXattrNotFound; the caller treats either as "marker absent".
func (f *osFS) Getxattr(path, attr string) ([]byte, error) {
	host := f.abs(path)
	for {
		size, err := unix.Lgetxattr(host, attr, nil)
		if err != nil {
			return nil, mapXattrError(path, attr, err)
		}
		if size == 0 {
			return []byte{}, nil
		}

		buf := make([]byte, size)
		n, err := unix.Lgetxattr(host, attr, buf)
		if err == unix.ERANGE {
			// Attribute grew between the two calls.
			continue
		}
		if err != nil {
			return nil, mapXattrError(path, attr, err)
		}
		return buf[:n], nil
	}
}

// Setxattr writes an extended attribute without following symlinks.
func (f *osFS) Setxattr(path, attr string, value []byte) error {
	if err := unix.Lsetxattr(f.abs(path), attr, value, 0); err != nil {
		return fmt.Errorf("setxattr %s on %q: %w", attr, path, err)
	}
	return nil
}

// Removexattr removes an extended attribute without following symlinks.
func (f *osFS) Removexattr(path, attr string) error {
	if err := unix.Lremovexattr(f.abs(path), attr); err != nil {
		return fmt.Errorf("removexattr %s on %q: %w", attr, path, err)
	}
	return nil
}

// IsWhiteout reports whether the entry at path is an overlay whiteout:
// a character device with device number 0/0.
func (f *osFS) IsWhiteout(path string) (bool, error) {
	fi, err := os.Lstat(f.abs(path))
	if err != nil {
		return false, err
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return false, nil
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}
	return st.Rdev == 0, nil
}

// Whiteout creates a whiteout node at path.
func (f *osFS) Whiteout(path string) error {
	if err := unix.Mknod(f.abs(path), unix.S_IFCHR, 0); err != nil {
		return fmt.Errorf("mknod whiteout %q: %w", path, err)
	}
	return nil
}

// Remove removes a file or empty directory.
func (f *osFS) Remove(path string) error {
	return os.Remove(f.abs(path))
}

// MkdirAll creates a directory and all parent directories.
func (f *osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(f.abs(path), perm)
}

// mapXattrError folds "attribute absent" and "xattrs unsupported" into
// ErrXattrNotFound and wraps everything else.
func mapXattrError(path, attr string, err error) error {
	switch err {
	case unix.ENODATA, unix.ENOTSUP:
		return ErrXattrNotFound
	}
	return fmt.Errorf("getxattr %s on %q: %w", attr, path, err)
}
