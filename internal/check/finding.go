// Package check evaluates the consistency rules over the walker's merged
// entry stream and the completed redirect index, producing findings for the
// repair planner.
package check

import "fmt"

// Rule identifies one consistency rule.
type Rule int

const (
	// RuleOrphanWhiteout is a whiteout with no lower entry to cover.
	RuleOrphanWhiteout Rule = iota

	// RuleInvalidRedirect is a redirect marker whose origin exists in no
	// lower layer.
	RuleInvalidRedirect

	// RuleMissingWhiteout is a redirect origin that exists below but is not
	// covered in the top layer.
	RuleMissingWhiteout

	// RuleRedirectMergeConflict is a redirect origin covered by a generic
	// merge directory: two remediations are possible and neither is clearly
	// right.
	RuleRedirectMergeConflict

	// RuleDuplicateRedirect is an origin claimed by more than one directory.
	RuleDuplicateRedirect

	// RuleMissingImpure is a directory with origin-tracked, merge, or
	// redirect children but no impure marker.
	RuleMissingImpure

	// RuleStaleImpure is an impure marker on a directory with no such
	// children.
	RuleStaleImpure
)

// String returns the rule name used in the report.
func (r Rule) String() string {
	switch r {
	case RuleOrphanWhiteout:
		return "orphan whiteout"
	case RuleInvalidRedirect:
		return "invalid redirect marker"
	case RuleMissingWhiteout:
		return "missing whiteout at origin"
	case RuleRedirectMergeConflict:
		return "redirect conflicts with merge directory"
	case RuleDuplicateRedirect:
		return "duplicate redirect claims"
	case RuleMissingImpure:
		return "impure marker missing"
	case RuleStaleImpure:
		return "impure marker stale"
	default:
		return "unknown rule"
	}
}

// Finding is an immutable record of one detected inconsistency.
type Finding struct {
	// Path is the layer-relative path the finding is attached to. For
	// duplicate redirects it is the contested origin.
	Path string

	// Rule is the violated rule.
	Rule Rule

	// Detail is a human-readable explanation.
	Detail string

	// Layer is the index of the layer that acted as upper when the finding
	// was produced.
	Layer int

	// Origin is the canonical redirect origin, for redirect rules.
	Origin string

	// CoverPath is the covering merge directory, for
	// RuleRedirectMergeConflict.
	CoverPath string

	// Claimants lists all claiming directories, for RuleDuplicateRedirect.
	Claimants []string
}

// Describe returns the one-line form used in prompts and the report.
func (f *Finding) Describe() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s: %s", f.Path, f.Rule)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Path, f.Rule, f.Detail)
}

// OpError is an operational failure recorded during a scan.
type OpError struct {
	// Path is the subtree or entry the failure applies to.
	Path string

	// Err is the underlying error.
	Err error
}
