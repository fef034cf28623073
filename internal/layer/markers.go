package layer

import "errors"

// Overlay metadata markers stored as extended attributes on upper-layer
// entries.
const (
	// RedirectXattr holds the origin path of a renamed directory: either an
	// absolute path relative to the layer root, or a bare name resolved
	// against the directory's parent.
	RedirectXattr = "trusted.overlay.redirect"

	// OpaqueXattr marks a directory as hiding all lower entries of the same
	// name.
	OpaqueXattr = "trusted.overlay.opaque"

	// ImpureXattr asserts that a directory contains at least one origin-
	// tracked, merge, or redirect child.
	ImpureXattr = "trusted.overlay.impure"

	// OriginXattr is set by the kernel on copied-up entries. Only its
	// presence matters here.
	OriginXattr = "trusted.overlay.origin"
)

// markerYes is the value of the boolean-valued markers.
const markerYes = "y"

// Marker reads a marker value. The second return value reports whether the
// marker is present; an absent marker is not an error.
func Marker(fs FS, path, attr string) (string, bool, error) {
	v, err := fs.Getxattr(path, attr)
	if errors.Is(err, ErrXattrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

// BoolMarker reads a boolean-valued marker. Any value other than "y" counts
// as unset, matching how the kernel parses these attributes.
func BoolMarker(fs FS, path, attr string) (bool, error) {
	v, ok, err := Marker(fs, path, attr)
	if err != nil {
		return false, err
	}
	return ok && v == markerYes, nil
}

// SetBoolMarker sets a boolean-valued marker.
func SetBoolMarker(fs FS, path, attr string) error {
	return fs.Setxattr(path, attr, []byte(markerYes))
}
