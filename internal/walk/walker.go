package walk

import (
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/pathutil"
	"github.com/zhangyi089/overlayfs-progs/internal/util"
)

// Walker performs a single sequential depth-first descent over a layer
// stack. Directory handles are held only for the duration of one listing,
// so open-handle usage is bounded by tree depth times layer count.
type Walker struct {
	set   *layer.Set
	index *Index
	sink  Sink
	log   zerolog.Logger
}

// New creates a Walker over the given stack, recording redirect claims into
// index and emitting merged entries into sink.
func New(set *layer.Set, index *Index, sink Sink) *Walker {
	return &Walker{
		set:   set,
		index: index,
		sink:  sink,
		log:   util.GetLogger("walk"),
	}
}

// Walk descends from the layer roots. Operational failures are reported
// through the sink and abandon only the affected subtree.
func (w *Walker) Walk() {
	upper := w.set.Upper()
	root := &LayerEntry{Layer: upper, IsDir: true}
	impure, err := layer.BoolMarker(upper.FS, ".", layer.ImpureXattr)
	if err != nil {
		w.sink.Error(".", err)
	}
	root.Impure = impure

	layers := make([]*layer.Layer, w.set.Len())
	for i := range layers {
		layers[i] = w.set.At(i)
	}
	w.walkDir(".", root, layers)
}

// walkDir merges the listings of dir across the layers that contain it,
// classifies each name, and recurses into merged directories. dirUpper is
// the directory's own top-layer view (nil in lower-only subtrees).
func (w *Walker) walkDir(dir string, dirUpper *LayerEntry, in []*layer.Layer) {
	w.log.Debug().Str("dir", dir).Int("layers", len(in)).Msg("visiting directory")

	views := make(map[string][]*LayerEntry)
	for _, l := range in {
		infos, err := l.FS.ReadDir(dir)
		if err != nil {
			w.sink.Error(dir, err)
			return
		}
		for _, fi := range infos {
			le := w.layerEntry(pathutil.Join(dir, fi.Name()), fi, l)
			views[fi.Name()] = append(views[fi.Name()], le)
		}
	}

	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)

	d := &Directory{
		Path:     dir,
		Upper:    dirUpper,
		Children: make([]*MergedEntry, 0, len(names)),
	}
	for _, name := range names {
		e := w.merge(dir, name, views[name])
		w.sink.Entry(e)
		d.Children = append(d.Children, e)
	}
	w.sink.Directory(d)

	for _, e := range d.Children {
		w.descend(e)
	}
}

// layerEntry builds the per-layer view of one name. Markers are only read in
// the top layer; lower layers contribute existence and directory-ness.
func (w *Walker) layerEntry(path string, fi os.FileInfo, l *layer.Layer) *LayerEntry {
	le := &LayerEntry{Layer: l, IsDir: fi.IsDir()}
	if l != w.set.Upper() {
		return le
	}

	if !fi.IsDir() {
		wh, err := l.FS.IsWhiteout(path)
		if err != nil {
			w.sink.Error(path, err)
		}
		le.Whiteout = wh
		if !wh {
			le.HasOrigin = w.hasMarker(l.FS, path, layer.OriginXattr)
		}
		return le
	}

	var ok bool
	var err error
	le.Redirect, ok, err = layer.Marker(l.FS, path, layer.RedirectXattr)
	if err != nil {
		w.sink.Error(path, err)
	}
	le.HasRedirect = ok
	le.Opaque = w.boolMarker(l.FS, path, layer.OpaqueXattr)
	le.Impure = w.boolMarker(l.FS, path, layer.ImpureXattr)
	le.HasOrigin = w.hasMarker(l.FS, path, layer.OriginXattr)
	return le
}

func (w *Walker) boolMarker(fs layer.FS, path, attr string) bool {
	v, err := layer.BoolMarker(fs, path, attr)
	if err != nil {
		w.sink.Error(path, err)
	}
	return v
}

func (w *Walker) hasMarker(fs layer.FS, path, attr string) bool {
	_, ok, err := layer.Marker(fs, path, attr)
	if err != nil {
		w.sink.Error(path, err)
	}
	return ok
}

// merge assembles and classifies the merged entry for one name. Redirect
// claims are recorded for any top-layer directory carrying the marker,
// opaque or not, so that duplicate detection sees every claimant.
func (w *Walker) merge(dir, name string, views []*LayerEntry) *MergedEntry {
	e := &MergedEntry{Name: name, Path: pathutil.Join(dir, name)}
	for _, le := range views {
		if le.Layer == w.set.Upper() {
			e.Upper = le
		} else {
			e.Lower = append(e.Lower, le)
		}
	}
	e.Kind = classify(e)

	if e.Upper != nil && e.Upper.IsDir && e.Upper.HasRedirect {
		e.Origin = originPath(dir, e.Upper.Redirect)
		w.index.Record(e.Origin, e.Path)
		w.log.Debug().Str("dir", e.Path).Str("origin", e.Origin).Msg("redirect claim")
	}
	return e
}

// classify derives the merged kind. Precedence: whiteout, then non-directory,
// then redirect, then opaque, then merge.
func classify(e *MergedEntry) Kind {
	if e.Upper == nil {
		return KindLowerOnly
	}
	u := e.Upper
	switch {
	case u.Whiteout:
		return KindWhiteout
	case !u.IsDir:
		return KindRegularFile
	case u.HasRedirect && !u.Opaque:
		return KindRedirectDirectory
	case u.Opaque:
		return KindOpaqueDirectory
	case len(e.Lower) > 0 && e.Lower[0].IsDir:
		return KindMergeDirectory
	default:
		return KindDirectory
	}
}

// descend recurses into the layers that remain visible below the entry.
// Whiteouts and files are leaves; opaque directories continue in the top
// layer only, since their lower counterparts are covered. A redirect
// directory merges with its origin's lower subtree, not with its own name.
func (w *Walker) descend(e *MergedEntry) {
	switch e.Kind {
	case KindDirectory, KindOpaqueDirectory:
		w.walkDir(e.Path, e.Upper, []*layer.Layer{w.set.Upper()})
	case KindRedirectDirectory:
		in := append([]*layer.Layer{w.set.Upper()}, w.originRun(e)...)
		w.walkDir(e.Path, e.Upper, in)
	case KindMergeDirectory:
		in := append([]*layer.Layer{w.set.Upper()}, dirRun(e.Lower)...)
		w.walkDir(e.Path, e.Upper, in)
	case KindLowerOnly:
		if in := dirRun(e.Lower); len(in) > 0 {
			w.walkDir(e.Path, nil, in)
		}
	}
}

// originRun returns the lower layers that contribute to a redirect
// directory's merge, rebased so the origin subtree appears under the
// directory's own path. The run stops at the first non-directory origin
// entry, which covers everything below it.
func (w *Walker) originRun(e *MergedEntry) []*layer.Layer {
	var out []*layer.Layer
	for _, l := range w.set.Lowers() {
		fi, err := l.FS.Lstat(e.Origin)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			w.sink.Error(e.Path, err)
			continue
		}
		if !fi.IsDir() {
			break
		}
		out = append(out, &layer.Layer{
			Root:     l.Root,
			FS:       layer.Rebase(l.FS, e.Path, e.Origin),
			Index:    l.Index,
			ReadOnly: l.ReadOnly,
		})
	}
	return out
}

// dirRun returns the layers of the leading run of directory views. Merging
// stops at the first non-directory, which covers everything below it.
func dirRun(views []*LayerEntry) []*layer.Layer {
	var out []*layer.Layer
	for _, le := range views {
		if !le.IsDir {
			break
		}
		out = append(out, le.Layer)
	}
	return out
}

// originPath canonicalizes a redirect marker value to a layer-root-relative
// path. Absolute values are anchored at the layer root; bare names resolve
// against the claiming directory's parent.
func originPath(dir, value string) string {
	if strings.HasPrefix(value, "/") {
		return strings.TrimLeft(value, "/")
	}
	return pathutil.Join(dir, value)
}
