package check

// Severity is the aggregate outcome of a run, ordered worst-last. The
// surrounding CLI maps it to the conventional fsck exit codes.
type Severity int

const (
	// SeverityNone means no inconsistencies were found.
	SeverityNone Severity = iota

	// SeverityCorrected means inconsistencies were found and all repaired.
	SeverityCorrected

	// SeverityUncorrected means at least one inconsistency was left in
	// place.
	SeverityUncorrected

	// SeverityOperational means an I/O or permission failure unrelated to
	// consistency occurred.
	SeverityOperational

	// SeverityUsage means the tool was invoked incorrectly.
	SeverityUsage

	// SeverityCanceled means the operator aborted the run.
	SeverityCanceled

	// SeverityInternal means an internal failure.
	SeverityInternal
)

// String returns the severity name used in the report.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "clean"
	case SeverityCorrected:
		return "corrected"
	case SeverityUncorrected:
		return "uncorrected"
	case SeverityOperational:
		return "operational error"
	case SeverityUsage:
		return "usage error"
	case SeverityCanceled:
		return "canceled"
	case SeverityInternal:
		return "internal error"
	default:
		return "unknown"
	}
}

// Worst returns the more severe of a and b.
func Worst(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}
