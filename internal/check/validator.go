package check

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/util"
	"github.com/zhangyi089/overlayfs-progs/internal/walk"
)

// Validator consumes the walker's output and produces findings. Rules that
// only need local state (orphan whiteouts, impure markers) fire during the
// walk; redirect rules fire in Finish, once the index holds every claim.
type Validator struct {
	set      *layer.Set
	index    *walk.Index
	findings []Finding
	opErrs   []OpError
	log      zerolog.Logger
}

// NewValidator creates a Validator for one scan of the given stack.
func NewValidator(set *layer.Set, index *walk.Index) *Validator {
	return &Validator{
		set:   set,
		index: index,
		log:   util.GetLogger("check"),
	}
}

// Entry applies the local rules to one merged entry.
func (v *Validator) Entry(e *walk.MergedEntry) {
	if e.Kind == walk.KindWhiteout && len(e.Lower) == 0 {
		v.add(Finding{
			Path:   e.Path,
			Rule:   RuleOrphanWhiteout,
			Detail: "covers no lower entry",
		})
	}
}

// Directory applies the impurity rule once a directory's full child set is
// known. Lower-only directories carry no top-layer markers and are skipped.
func (v *Validator) Directory(d *walk.Directory) {
	if d.Upper == nil {
		return
	}

	should := false
	for _, c := range d.Children {
		if c.Kind == walk.KindMergeDirectory || c.Kind == walk.KindRedirectDirectory {
			should = true
			break
		}
		if c.Upper != nil && c.Upper.HasOrigin {
			should = true
			break
		}
	}

	switch {
	case should && !d.Upper.Impure:
		v.add(Finding{
			Path:   d.Path,
			Rule:   RuleMissingImpure,
			Detail: "directory has origin-tracked or merged children",
		})
	case !should && d.Upper.Impure:
		v.add(Finding{
			Path:   d.Path,
			Rule:   RuleStaleImpure,
			Detail: "directory has no origin-tracked or merged children",
		})
	}
}

// Error records an operational failure. The finding stream is unaffected;
// the failure raises the run's severity instead.
func (v *Validator) Error(path string, err error) {
	v.log.Warn().Str("path", path).Err(err).Msg("operational error")
	v.opErrs = append(v.opErrs, OpError{Path: path, Err: err})
}

// Finish resolves every recorded redirect origin and applies the redirect
// rules. Must be called after the walk has completed.
func (v *Validator) Finish() {
	for _, origin := range v.index.Origins() {
		r, err := v.index.Resolve(origin)
		if err != nil {
			v.Error(origin, err)
			continue
		}

		switch r.State {
		case walk.ResolutionUnique:
			// Consistent.

		case walk.ResolutionNotFound:
			for _, dir := range r.Claimants {
				v.add(Finding{
					Path:   dir,
					Rule:   RuleInvalidRedirect,
					Origin: origin,
					Detail: fmt.Sprintf("origin %q does not exist in any lower layer", origin),
				})
			}

		case walk.ResolutionUncovered:
			v.add(Finding{
				Path:   r.Claimants[0],
				Rule:   RuleMissingWhiteout,
				Origin: origin,
				Detail: fmt.Sprintf("origin %q is not covered in the top layer", origin),
			})

		case walk.ResolutionMergeCovered:
			v.add(Finding{
				Path:      r.Claimants[0],
				Rule:      RuleRedirectMergeConflict,
				Origin:    origin,
				CoverPath: r.CoverPath,
				Detail:    fmt.Sprintf("origin %q is merged by directory %q", origin, r.CoverPath),
			})

		case walk.ResolutionDuplicate:
			v.add(Finding{
				Path:      origin,
				Rule:      RuleDuplicateRedirect,
				Origin:    origin,
				Claimants: r.Claimants,
				Detail: fmt.Sprintf("claimed by %s",
					strings.Join(r.Claimants, ", ")),
			})
		}
	}
}

// Findings returns every finding produced so far.
func (v *Validator) Findings() []Finding {
	return v.findings
}

// Errors returns the operational failures recorded so far.
func (v *Validator) Errors() []OpError {
	return v.opErrs
}

func (v *Validator) add(f Finding) {
	f.Layer = v.set.Upper().Index
	v.log.Info().Str("path", f.Path).Stringer("rule", f.Rule).Msg("finding")
	v.findings = append(v.findings, f)
}
