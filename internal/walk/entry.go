// Package walk performs the synchronized descent over all layers of an
// overlay stack, merging directory listings by name and classifying every
// merged entry. It also collects redirect claims into an Index for the
// post-walk resolution pass.
package walk

import "github.com/zhangyi089/overlayfs-progs/internal/layer"

// Kind classifies a merged entry. The enumeration is closed: every check
// rule switches over it exhaustively.
type Kind int

const (
	// KindWhiteout is a whiteout node in the top layer. Lower entries of the
	// same name are covered, not merged.
	KindWhiteout Kind = iota

	// KindRegularFile is a non-directory in the top layer (regular file,
	// symlink, or device). It covers any lower entries of the same name.
	KindRegularFile

	// KindDirectory is a directory present only in the top layer.
	KindDirectory

	// KindOpaqueDirectory is a top-layer directory with the opaque marker.
	// Same-named lower entries are fully covered.
	KindOpaqueDirectory

	// KindMergeDirectory is a plain top-layer directory merged with at least
	// one lower directory of the same name.
	KindMergeDirectory

	// KindRedirectDirectory is a non-opaque top-layer directory carrying a
	// redirect marker.
	KindRedirectDirectory

	// KindLowerOnly is a name with no top-layer presence. Top-layer
	// invariants (redirect, impure) do not apply to it.
	KindLowerOnly
)

// String returns the kind name used in findings and logs.
func (k Kind) String() string {
	switch k {
	case KindWhiteout:
		return "whiteout"
	case KindRegularFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindOpaqueDirectory:
		return "opaque directory"
	case KindMergeDirectory:
		return "merge directory"
	case KindRedirectDirectory:
		return "redirect directory"
	case KindLowerOnly:
		return "lower-only entry"
	default:
		return "unknown"
	}
}

// LayerEntry is the view of one name within one layer.
type LayerEntry struct {
	// Layer is the layer the entry was found in.
	Layer *layer.Layer

	// IsDir reports whether the entry is a directory.
	IsDir bool

	// Whiteout reports whether the entry is a whiteout node. Only read for
	// top-layer entries.
	Whiteout bool

	// Redirect is the redirect marker value; HasRedirect distinguishes an
	// empty value from an absent marker.
	Redirect    string
	HasRedirect bool

	// Opaque and Impure are the boolean directory markers.
	Opaque bool
	Impure bool

	// HasOrigin reports whether the entry carries an origin marker, i.e. it
	// was copied up from a lower layer.
	HasOrigin bool
}

// MergedEntry is the merged view of one name within one directory across all
// layers of the stack. Kind is only assigned once every layer has been
// inspected for the name; partial classifications are never emitted.
type MergedEntry struct {
	// Name is the entry's filename.
	Name string

	// Path is the layer-relative path of the entry.
	Path string

	// Kind is the merged classification.
	Kind Kind

	// Origin is the canonical redirect origin for entries whose top-layer
	// view carries a redirect marker, empty otherwise.
	Origin string

	// Upper is the top-layer view, nil when the name is absent there.
	Upper *LayerEntry

	// Lower lists the views in layers below the top, highest priority first.
	Lower []*LayerEntry
}

// Directory is the completed view of one merged directory, emitted after all
// of its children have been classified.
type Directory struct {
	// Path is the layer-relative directory path.
	Path string

	// Upper is the directory's own top-layer view, nil for lower-only
	// directories.
	Upper *LayerEntry

	// Children holds every merged entry in the directory.
	Children []*MergedEntry
}

// Sink receives the walker's output.
type Sink interface {
	// Entry is called once per merged entry, after classification.
	Entry(e *MergedEntry)

	// Directory is called once per visited directory, after every child has
	// been emitted through Entry.
	Directory(d *Directory)

	// Error is called for operational failures. The walker abandons the
	// affected subtree but continues with siblings.
	Error(path string, err error)
}
