// Package pathutil provides pure string helpers for layer-relative paths.
//
// Both helpers operate on already-normalized inputs: they strip leading "./"
// segments and collapse the boundary slash, but do not interpret ".." or
// duplicate slashes in the middle of a path. Neither touches the filesystem.
package pathutil

import "strings"

// Join concatenates a base directory path and a subdirectory path or file
// name into a single pathname.
//
// A duplicate '/' at the boundary is removed and a missing one is filled in.
// If either input is "." or empty, the other is returned; if both are, the
// result is ".".
//
// Examples:
//
//	Join("/usr", "lib")  -> "/usr/lib"
//	Join("/usr", ".")    -> "/usr"
//	Join("/usr", "..")   -> "/usr/.."
//	Join(".", "lib")     -> "lib"
//	Join("..", "lib")    -> "../lib"
//	Join(".", ".")       -> "."
//	Join("..", "..")     -> "../.."
func Join(base, name string) string {
	base = trimDotPrefix(base)
	name = strings.TrimLeft(trimDotPrefix(name), "/")

	switch {
	case base == "" && name == "":
		return "."
	case base == "":
		return name
	case name == "":
		return base
	}

	if strings.HasSuffix(base, "/") {
		return base + name
	}
	return base + "/" + name
}

// Relativize breaks a pathname into the remainder past the given base
// directory.
//
// If base is not a prefix of path (on a path-component boundary), path is
// returned unchanged. If path equals base, "." is returned. An empty path
// also yields ".".
//
// Examples:
//
//	Relativize("/usr/lib", "/usr") -> "lib"
//	Relativize("/usr", "/usr")     -> "."
//	Relativize("/usr/lib", "/")    -> "/usr/lib"
//	Relativize(".", "/usr")        -> "."
//	Relativize("..", "/usr")       -> ".."
func Relativize(path, base string) string {
	path = stripDotSlash(path)
	base = stripDotSlash(base)
	if base == "." {
		base = ""
	}
	base = strings.TrimSuffix(base, "/")

	if base != "" && strings.HasPrefix(path, base) {
		rest := path[len(base):]
		if rest == "" {
			return "."
		}
		if rest[0] == '/' {
			rest = strings.TrimLeft(rest, "/")
			if rest == "" {
				return "."
			}
			return rest
		}
		// Prefix match fell inside a component ("/usr" vs "/usrlocal").
	}

	if path == "" {
		return "."
	}
	return path
}

// trimDotPrefix removes leading "./" segments and maps a bare "." to "".
func trimDotPrefix(p string) string {
	p = stripDotSlash(p)
	if p == "." {
		return ""
	}
	return p
}

// stripDotSlash removes leading "./" segments only.
func stripDotSlash(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}
