// Package repair converts findings into repair actions, rules on them
// through a policy, and applies approved actions to the top layer.
package repair

import (
	"fmt"

	"github.com/zhangyi089/overlayfs-progs/internal/check"
)

// Op enumerates the repair operations. Each is a single atomic filesystem
// operation; there are no multi-step transactions.
type Op int

const (
	// OpRemoveWhiteout removes an orphan whiteout node.
	OpRemoveWhiteout Op = iota

	// OpRemoveRedirect removes a redirect marker from a directory.
	OpRemoveRedirect

	// OpCreateWhiteout creates a whiteout node covering a lower entry.
	OpCreateWhiteout

	// OpSetOpaque sets the opaque marker on a directory.
	OpSetOpaque

	// OpSetImpure sets the impure marker on a directory.
	OpSetImpure

	// OpClearImpure clears the impure marker from a directory.
	OpClearImpure
)

// String returns the operation name used in prompts and the report.
func (o Op) String() string {
	switch o {
	case OpRemoveWhiteout:
		return "remove whiteout"
	case OpRemoveRedirect:
		return "remove redirect marker"
	case OpCreateWhiteout:
		return "create whiteout"
	case OpSetOpaque:
		return "set opaque marker"
	case OpSetImpure:
		return "set impure marker"
	case OpClearImpure:
		return "clear impure marker"
	default:
		return "unknown operation"
	}
}

// Action is one planned repair. It exists between planning and execution or
// rejection.
type Action struct {
	// Target is the layer-relative path the operation applies to.
	Target string

	// Op is the operation.
	Op Op

	// Finding is the inconsistency the action repairs.
	Finding *check.Finding

	// Ambiguous marks actions that must never be applied without explicit
	// confirmation.
	Ambiguous bool
}

// Describe returns the one-line form used in prompts and the report.
func (a *Action) Describe() string {
	return fmt.Sprintf("%s at %q", a.Op, a.Target)
}

// Status tags a finding's resolution in the final report.
type Status int

const (
	// StatusCorrected means the repair was applied, or the inconsistency
	// was already resolved by an earlier repair.
	StatusCorrected Status = iota

	// StatusUncorrected means the inconsistency remains.
	StatusUncorrected

	// StatusSkipped means the finding was ambiguous and no repair was
	// chosen.
	StatusSkipped
)

// String returns the status tag used in the report.
func (s Status) String() string {
	switch s {
	case StatusCorrected:
		return "corrected"
	case StatusUncorrected:
		return "uncorrected"
	case StatusSkipped:
		return "skipped (ambiguous)"
	default:
		return "unknown"
	}
}

// Outcome pairs a finding with its resolution. Every finding produced by the
// validator appears in the final report as exactly one outcome.
type Outcome struct {
	// Finding is the original finding.
	Finding check.Finding

	// Action is the planned repair, nil when none was planned.
	Action *Action

	// Status is the resolution tag.
	Status Status

	// Err is the execution failure, if the action was approved but failed.
	Err error

	// Note explains the resolution ("declined", "layer is read-only", ...).
	Note string
}
