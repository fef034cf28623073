package layer

import (
	"os"
	"path"
	"sync"

	"github.com/spf13/afero"
)

// MemFS implements FS in memory on top of an afero MemMapFs, with extended
// attributes and whiteout nodes tracked in side tables. It exists so that
// engine behavior can be exercised without root privileges or a scratch
// overlay on disk.
type MemFS struct {
	mu        sync.RWMutex
	fs        afero.Fs
	xattrs    map[string]map[string][]byte
	whiteouts map[string]bool
	failures  map[failKey]error
}

// failKey identifies an operation on a path that should fail.
type failKey struct {
	op   string
	path string
}

// NewMemFS returns an empty in-memory layer filesystem.
func NewMemFS() *MemFS {
	return &MemFS{
		fs:        afero.NewMemMapFs(),
		xattrs:    make(map[string]map[string][]byte),
		whiteouts: make(map[string]bool),
		failures:  make(map[failKey]error),
	}
}

// key normalizes a layer-relative path for use in the side tables.
func key(p string) string {
	return path.Clean("/" + p)
}

// FailWith makes the named operation ("lstat", "readdir", "setxattr",
// "removexattr", "whiteout", "remove") fail with err for the given path.
func (m *MemFS) FailWith(op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[failKey{op: op, path: key(p)}] = err
}

func (m *MemFS) failure(op, p string) error {
	return m.failures[failKey{op: op, path: key(p)}]
}

// WriteFile creates a regular file with the given contents, creating parent
// directories as needed.
func (m *MemFS) WriteFile(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return afero.WriteFile(m.fs, key(p), data, 0644)
}

// Lstat returns file info.
func (m *MemFS) Lstat(p string) (os.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("lstat", p); err != nil {
		return nil, err
	}
	return m.fs.Stat(key(p))
}

// ReadDir lists the entries of a directory.
func (m *MemFS) ReadDir(p string) ([]os.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("readdir", p); err != nil {
		return nil, err
	}
	return afero.ReadDir(m.fs, key(p))
}

// Getxattr reads an extended attribute.
func (m *MemFS) Getxattr(p, attr string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.fs.Stat(key(p)); err != nil {
		return nil, err
	}
	if v, ok := m.xattrs[key(p)][attr]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, ErrXattrNotFound
}

// Setxattr writes an extended attribute.
func (m *MemFS) Setxattr(p, attr string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("setxattr", p); err != nil {
		return err
	}
	if _, err := m.fs.Stat(key(p)); err != nil {
		return err
	}
	attrs := m.xattrs[key(p)]
	if attrs == nil {
		attrs = make(map[string][]byte)
		m.xattrs[key(p)] = attrs
	}
	attrs[attr] = append([]byte(nil), value...)
	return nil
}

// Removexattr removes an extended attribute.
func (m *MemFS) Removexattr(p, attr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("removexattr", p); err != nil {
		return err
	}
	if _, ok := m.xattrs[key(p)][attr]; !ok {
		return ErrXattrNotFound
	}
	delete(m.xattrs[key(p)], attr)
	return nil
}

// IsWhiteout reports whether the entry at path is a whiteout node.
func (m *MemFS) IsWhiteout(p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.whiteouts[key(p)], nil
}

// Whiteout creates a whiteout node at path.
func (m *MemFS) Whiteout(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("whiteout", p); err != nil {
		return err
	}
	if err := afero.WriteFile(m.fs, key(p), nil, 0); err != nil {
		return err
	}
	m.whiteouts[key(p)] = true
	return nil
}

// Remove removes a file or empty directory along with its side-table state.
func (m *MemFS) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("remove", p); err != nil {
		return err
	}
	if err := m.fs.Remove(key(p)); err != nil {
		return err
	}
	delete(m.whiteouts, key(p))
	delete(m.xattrs, key(p))
	return nil
}

// MkdirAll creates a directory and all parent directories.
func (m *MemFS) MkdirAll(p string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fs.MkdirAll(key(p), perm)
}
