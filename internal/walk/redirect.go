package walk

import (
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/pathutil"
)

// Resolution is the terminal state of one redirect origin.
type Resolution int

const (
	// ResolutionUnique means exactly one claimant exists and the origin is
	// properly covered: consistent.
	ResolutionUnique Resolution = iota

	// ResolutionDuplicate means two or more top-layer directories claim the
	// same origin. There is no safe automatic choice.
	ResolutionDuplicate

	// ResolutionNotFound means the origin path does not exist in any lower
	// layer: the redirect is dangling.
	ResolutionNotFound

	// ResolutionUncovered means the origin exists below but nothing in the
	// top layer covers it.
	ResolutionUncovered

	// ResolutionMergeCovered means the origin is covered by a generic
	// (non-opaque, non-redirect) top-layer directory merging with it: the
	// ambiguous redirect-versus-merge case.
	ResolutionMergeCovered
)

// String returns the resolution name used in findings and logs.
func (r Resolution) String() string {
	switch r {
	case ResolutionUnique:
		return "unique"
	case ResolutionDuplicate:
		return "duplicate"
	case ResolutionNotFound:
		return "not found"
	case ResolutionUncovered:
		return "uncovered"
	case ResolutionMergeCovered:
		return "covered by merge"
	default:
		return "unknown"
	}
}

// Resolved is the outcome of resolving one origin.
type Resolved struct {
	// Origin is the canonical layer-root-relative origin path.
	Origin string

	// Claimants lists the top-layer directories that recorded the origin, in
	// walk order.
	Claimants []string

	// State is the terminal resolution.
	State Resolution

	// CoverPath is the covering top-layer directory for
	// ResolutionMergeCovered.
	CoverPath string
}

// Index is the global mapping from redirect origins to the directories that
// claim them. Claims are recorded during the walk; coverage is resolved
// afterwards by probing the layer stack directly, so the outcome does not
// depend on visit order. Claimants are never retracted within one pass.
type Index struct {
	set    *layer.Set
	claims map[string][]string
}

// NewIndex creates an empty index over the given stack.
func NewIndex(set *layer.Set) *Index {
	return &Index{
		set:    set,
		claims: make(map[string][]string),
	}
}

// Record appends dir to the origin's claimant set.
func (ix *Index) Record(origin, dir string) {
	ix.claims[origin] = append(ix.claims[origin], dir)
}

// Origins returns all recorded origins in sorted order.
func (ix *Index) Origins() []string {
	origins := make([]string, 0, len(ix.claims))
	for origin := range ix.claims {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}

// Resolve determines the terminal state of one origin. It must only be
// called after the walk has completed. Probe failures are returned as
// operational errors.
func (ix *Index) Resolve(origin string) (*Resolved, error) {
	r := &Resolved{Origin: origin, Claimants: ix.claims[origin]}

	if len(r.Claimants) > 1 {
		r.State = ResolutionDuplicate
		return r, nil
	}

	if origin == "" || origin == "." {
		// Degenerate marker value ("/", ".", empty).
		r.State = ResolutionNotFound
		return r, nil
	}

	var lowerFi os.FileInfo
	for _, l := range ix.set.Lowers() {
		fi, err := l.FS.Lstat(origin)
		if err == nil {
			lowerFi = fi
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if lowerFi == nil {
		r.State = ResolutionNotFound
		return r, nil
	}

	state, coverPath, err := ix.coverState(origin, lowerFi.IsDir())
	if err != nil {
		return nil, err
	}
	r.State = state
	r.CoverPath = coverPath
	return r, nil
}

// coverState walks the origin path component by component in the top layer.
// A whiteout, non-directory, opaque directory, or redirected directory on
// the way (or at the origin itself) covers the lower entry. A plain
// directory at the origin merging with a lower directory is the ambiguous
// case; a missing component leaves the origin uncovered.
func (ix *Index) coverState(origin string, lowerIsDir bool) (Resolution, string, error) {
	upper := ix.set.Upper().FS

	cur := ""
	components := strings.Split(origin, "/")
	for i, c := range components {
		cur = pathutil.Join(cur, c)
		last := i == len(components)-1

		fi, err := upper.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return ResolutionUncovered, "", nil
		}
		if err != nil {
			return 0, "", err
		}

		if !fi.IsDir() {
			// Whiteout or generic file, either covers the origin.
			return ResolutionUnique, "", nil
		}

		opaque, err := layer.BoolMarker(upper, cur, layer.OpaqueXattr)
		if err != nil {
			return 0, "", err
		}
		if opaque {
			return ResolutionUnique, "", nil
		}

		_, redirected, err := layer.Marker(upper, cur, layer.RedirectXattr)
		if err != nil {
			return 0, "", err
		}
		if redirected {
			// The directory merges elsewhere; the lower tree under this
			// name is hidden.
			return ResolutionUnique, "", nil
		}

		if last {
			if lowerIsDir {
				return ResolutionMergeCovered, cur, nil
			}
			return ResolutionUnique, "", nil
		}
	}
	return ResolutionUncovered, "", nil
}
