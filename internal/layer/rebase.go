package layer

import (
	"os"

	"github.com/zhangyi089/overlayfs-progs/internal/pathutil"
)

// Rebase returns a view of fs in which paths under from resolve under to
// instead. A redirected directory merges at mount time with its origin's
// subtree in the lower layers, where the same entries live under a different
// name; the rebased view lets the walker descend both sides under one path.
func Rebase(fs FS, from, to string) FS {
	return &rebasedFS{fs: fs, from: from, to: to}
}

type rebasedFS struct {
	fs   FS
	from string
	to   string
}

func (r *rebasedFS) path(p string) string {
	rel := pathutil.Relativize(p, r.from)
	switch rel {
	case ".":
		return r.to
	case p:
		return p
	}
	return pathutil.Join(r.to, rel)
}

func (r *rebasedFS) Lstat(p string) (os.FileInfo, error) {
	return r.fs.Lstat(r.path(p))
}

func (r *rebasedFS) ReadDir(p string) ([]os.FileInfo, error) {
	return r.fs.ReadDir(r.path(p))
}

func (r *rebasedFS) Getxattr(p, attr string) ([]byte, error) {
	return r.fs.Getxattr(r.path(p), attr)
}

func (r *rebasedFS) Setxattr(p, attr string, value []byte) error {
	return r.fs.Setxattr(r.path(p), attr, value)
}

func (r *rebasedFS) Removexattr(p, attr string) error {
	return r.fs.Removexattr(r.path(p), attr)
}

func (r *rebasedFS) IsWhiteout(p string) (bool, error) {
	return r.fs.IsWhiteout(r.path(p))
}

func (r *rebasedFS) Whiteout(p string) error {
	return r.fs.Whiteout(r.path(p))
}

func (r *rebasedFS) Remove(p string) error {
	return r.fs.Remove(r.path(p))
}

func (r *rebasedFS) MkdirAll(p string, perm os.FileMode) error {
	return r.fs.MkdirAll(r.path(p), perm)
}
