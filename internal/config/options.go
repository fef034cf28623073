// Package config parses the mount-style option string that names the layer
// stack under check.
//
// The accepted syntax matches the overlay mount options: comma-separated
// key=value pairs, with lowerdir holding a colon-separated list of
// directories ordered highest priority first. Commas and colons inside a
// path are escaped with a backslash, as the kernel accepts them.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoLayerDirs is returned when the option string names no layer at all.
var ErrNoLayerDirs = errors.New("no layer directories given")

// Config is the parsed layer stack description.
type Config struct {
	// Upper is the upper layer directory, empty when checking lowers only.
	Upper string

	// Lowers holds the lower layer directories, highest priority first.
	Lowers []string

	// Work is the overlay work directory. It is accepted for command-line
	// compatibility with mount but takes no part in the check.
	Work string
}

// ParseMountOptions parses an option string like
// "lowerdir=/l1:/l2,upperdir=/u,workdir=/w".
func ParseMountOptions(s string) (*Config, error) {
	cfg := &Config{}
	seen := map[string]bool{}

	for _, opt := range splitEscaped(s, ',') {
		if opt == "" {
			continue
		}
		key, value, ok := strings.Cut(opt, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("malformed option %q", opt)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate option %q", key)
		}
		seen[key] = true

		switch key {
		case "lowerdir":
			for _, dir := range splitEscaped(value, ':') {
				if dir == "" {
					return nil, fmt.Errorf("empty directory in lowerdir %q", value)
				}
				cfg.Lowers = append(cfg.Lowers, unescape(dir))
			}
		case "upperdir":
			cfg.Upper = unescape(value)
		case "workdir":
			cfg.Work = unescape(value)
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}

	if cfg.Upper == "" && len(cfg.Lowers) == 0 {
		return nil, ErrNoLayerDirs
	}
	return cfg, nil
}

// splitEscaped splits s on sep, honoring backslash escapes. The escapes are
// left in place so that key=value cutting sees the raw text; unescape strips
// them once a path is isolated.
func splitEscaped(s string, sep byte) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			cur.WriteByte(s[i])
			cur.WriteByte(s[i+1])
			i++
		case s[i] == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// unescape removes backslash escapes from a path.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		out.WriteByte(s[i])
	}
	return out.String()
}
