package repair

import (
	"errors"
	"os"
	"path"
	"sort"

	"github.com/rs/zerolog"

	"github.com/zhangyi089/overlayfs-progs/internal/check"
	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/pathutil"
	"github.com/zhangyi089/overlayfs-progs/internal/util"
)

// Remedy selects the remediation for the redirect-versus-merge conflict,
// which has two defensible repairs and no universally right one.
type Remedy int

const (
	// RemedyReport surfaces both candidates without picking one. In
	// interactive mode the operator chooses.
	RemedyReport Remedy = iota

	// RemedyRemoveRedirect removes the conflicting redirect marker.
	RemedyRemoveRedirect

	// RemedySetOpaque marks the covering merge directory opaque.
	RemedySetOpaque
)

// Planner converts findings into actions, consults the policy, executes
// approved actions against the top layer, and accumulates the worst
// severity seen.
type Planner struct {
	set    *layer.Set
	policy Policy
	remedy Remedy
	log    zerolog.Logger
}

// NewPlanner creates a Planner repairing the top layer of set.
func NewPlanner(set *layer.Set, policy Policy, remedy Remedy) *Planner {
	return &Planner{
		set:    set,
		policy: policy,
		remedy: remedy,
		log:    util.GetLogger("repair"),
	}
}

// Result is the resolution of one batch of findings.
type Result struct {
	// Outcomes holds one entry per finding, in execution order.
	Outcomes []Outcome

	// Severity is the worst severity observed while repairing.
	Severity check.Severity

	// Canceled reports an operator abort. Actions applied before the abort
	// stay applied.
	Canceled bool
}

// Run processes findings in order. Whiteout and marker repairs run before
// impure-marker repairs, since impurity depends on the final child
// classification; impure actions re-derive their target state at execution
// time for the same reason. A failed action never aborts the rest.
func (p *Planner) Run(findings []check.Finding) *Result {
	res := &Result{Severity: check.SeverityNone}

	ordered := make([]check.Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return phase(ordered[i].Rule) < phase(ordered[j].Rule)
	})

	for i := range ordered {
		f := ordered[i]
		if res.Canceled {
			res.record(Outcome{Finding: f, Status: StatusUncorrected, Note: "canceled"})
			continue
		}
		out := p.resolve(&f)
		if out.Err != nil && errors.Is(out.Err, ErrCanceled) {
			res.Canceled = true
			out.Err = nil
			out.Note = "canceled"
		}
		res.record(out)
	}

	if res.Canceled {
		res.Severity = check.Worst(res.Severity, check.SeverityCanceled)
	}
	return res
}

// phase orders repairs: everything else before impure-marker fixes.
func phase(r check.Rule) int {
	if r == check.RuleMissingImpure || r == check.RuleStaleImpure {
		return 1
	}
	return 0
}

// record appends the outcome and folds its status into the severity.
func (r *Result) record(out Outcome) {
	r.Outcomes = append(r.Outcomes, out)
	switch {
	case out.Err != nil:
		r.Severity = check.Worst(r.Severity, check.SeverityOperational)
	case out.Status == StatusCorrected:
		r.Severity = check.Worst(r.Severity, check.SeverityCorrected)
	default:
		r.Severity = check.Worst(r.Severity, check.SeverityUncorrected)
	}
}

// resolve plans and, policy permitting, executes the repair for one finding.
func (p *Planner) resolve(f *check.Finding) Outcome {
	a, err := p.plan(f)
	if err != nil {
		return Outcome{Finding: *f, Status: StatusUncorrected, Err: err}
	}
	if a == nil {
		return Outcome{Finding: *f, Status: StatusSkipped, Note: "no safe automatic repair"}
	}

	if p.set.Upper().ReadOnly {
		return Outcome{Finding: *f, Action: a, Status: StatusUncorrected, Note: "layer is read-only"}
	}

	dec, err := p.policy.Decide(a)
	if err != nil {
		return Outcome{Finding: *f, Action: a, Status: StatusUncorrected, Err: err}
	}

	switch dec {
	case DecisionApprove:
		return p.execute(f, a)
	case DecisionDefer:
		return Outcome{Finding: *f, Action: a, Status: StatusUncorrected, Note: "not applied"}
	default:
		return Outcome{Finding: *f, Action: a, Status: StatusUncorrected, Note: "declined"}
	}
}

// plan maps a finding to its repair action. Ambiguous findings may yield no
// action, one operator-chosen action, or one remedy-selected action.
func (p *Planner) plan(f *check.Finding) (*Action, error) {
	switch f.Rule {
	case check.RuleOrphanWhiteout:
		return &Action{Target: f.Path, Op: OpRemoveWhiteout, Finding: f}, nil

	case check.RuleInvalidRedirect:
		return &Action{Target: f.Path, Op: OpRemoveRedirect, Finding: f}, nil

	case check.RuleMissingWhiteout:
		return &Action{Target: f.Origin, Op: OpCreateWhiteout, Finding: f}, nil

	case check.RuleMissingImpure:
		return &Action{Target: f.Path, Op: OpSetImpure, Finding: f}, nil

	case check.RuleStaleImpure:
		return &Action{Target: f.Path, Op: OpClearImpure, Finding: f}, nil

	case check.RuleRedirectMergeConflict:
		candidates := []*Action{
			{Target: f.Path, Op: OpRemoveRedirect, Finding: f, Ambiguous: true},
			{Target: f.CoverPath, Op: OpSetOpaque, Finding: f, Ambiguous: true},
		}
		switch p.remedy {
		case RemedyRemoveRedirect:
			a := *candidates[0]
			a.Ambiguous = false
			return &a, nil
		case RemedySetOpaque:
			a := *candidates[1]
			a.Ambiguous = false
			return &a, nil
		default:
			return p.policy.Choose(f, candidates)
		}

	case check.RuleDuplicateRedirect:
		// Removing any claimant's marker is a guess; only the operator may
		// pick one.
		candidates := make([]*Action, 0, len(f.Claimants))
		for _, dir := range f.Claimants {
			candidates = append(candidates, &Action{
				Target: dir, Op: OpRemoveRedirect, Finding: f, Ambiguous: true,
			})
		}
		return p.policy.Choose(f, candidates)

	default:
		return nil, nil
	}
}

// execute applies an approved action. Failures downgrade the finding to
// uncorrected and raise the severity, nothing more.
func (p *Planner) execute(f *check.Finding, a *Action) Outcome {
	if a.Op == OpSetImpure || a.Op == OpClearImpure {
		// Earlier repairs may have changed the directory's children; check
		// whether the marker is still wrong before touching it.
		should, err := p.shouldBeImpure(a.Target)
		if err != nil {
			return Outcome{Finding: *f, Action: a, Status: StatusUncorrected, Err: err}
		}
		if should != (a.Op == OpSetImpure) {
			return Outcome{Finding: *f, Action: a, Status: StatusCorrected,
				Note: "resolved by earlier repairs"}
		}
	}

	if err := p.apply(a); err != nil {
		p.log.Warn().Str("target", a.Target).Stringer("op", a.Op).Err(err).
			Msg("repair failed")
		return Outcome{Finding: *f, Action: a, Status: StatusUncorrected, Err: err}
	}

	if a.Op == OpCreateWhiteout {
		// The whiteout's parent chain may contain directories this repair
		// just created, which merge with same-named lower directories and
		// need impure markers no finding asked for.
		if err := p.markAncestorsImpure(path.Dir(a.Target)); err != nil {
			return Outcome{Finding: *f, Action: a, Status: StatusCorrected, Err: err,
				Note: "impure markers on parent directories incomplete"}
		}
	}

	p.log.Info().Str("target", a.Target).Stringer("op", a.Op).Msg("repaired")
	return Outcome{Finding: *f, Action: a, Status: StatusCorrected}
}

// markAncestorsImpure walks from dir up to the layer root, setting the
// impure marker on every directory that now requires one.
func (p *Planner) markAncestorsImpure(dir string) error {
	upper := p.set.Upper().FS
	for {
		should, err := p.shouldBeImpure(dir)
		if err != nil {
			return err
		}
		if should {
			impure, err := layer.BoolMarker(upper, dir, layer.ImpureXattr)
			if err != nil {
				return err
			}
			if !impure {
				if err := layer.SetBoolMarker(upper, dir, layer.ImpureXattr); err != nil {
					return err
				}
			}
		}
		if dir == "." {
			return nil
		}
		dir = path.Dir(dir)
	}
}

// apply performs the single filesystem operation behind an action.
func (p *Planner) apply(a *Action) error {
	upper := p.set.Upper().FS
	switch a.Op {
	case OpRemoveWhiteout:
		return upper.Remove(a.Target)
	case OpRemoveRedirect:
		return upper.Removexattr(a.Target, layer.RedirectXattr)
	case OpCreateWhiteout:
		if dir := path.Dir(a.Target); dir != "." {
			if err := upper.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
		return upper.Whiteout(a.Target)
	case OpSetOpaque:
		return layer.SetBoolMarker(upper, a.Target, layer.OpaqueXattr)
	case OpSetImpure:
		return layer.SetBoolMarker(upper, a.Target, layer.ImpureXattr)
	case OpClearImpure:
		return upper.Removexattr(a.Target, layer.ImpureXattr)
	default:
		return errors.New("unknown repair operation")
	}
}

// shouldBeImpure recomputes the impurity requirement for a top-layer
// directory from its current children.
func (p *Planner) shouldBeImpure(dir string) (bool, error) {
	upper := p.set.Upper().FS
	infos, err := upper.ReadDir(dir)
	if err != nil {
		return false, err
	}

	for _, fi := range infos {
		child := pathutil.Join(dir, fi.Name())

		if !fi.IsDir() {
			wh, err := upper.IsWhiteout(child)
			if err != nil {
				return false, err
			}
			if wh {
				continue
			}
			if _, ok, err := layer.Marker(upper, child, layer.OriginXattr); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
			continue
		}

		if _, ok, err := layer.Marker(upper, child, layer.OriginXattr); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
		opaque, err := layer.BoolMarker(upper, child, layer.OpaqueXattr)
		if err != nil {
			return false, err
		}
		if opaque {
			continue
		}
		if _, ok, err := layer.Marker(upper, child, layer.RedirectXattr); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
		// Merge: the highest-priority lower entry decides.
		for _, l := range p.set.Lowers() {
			cfi, err := l.FS.Lstat(child)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return false, err
			}
			if cfi.IsDir() {
				return true, nil
			}
			break
		}
	}
	return false, nil
}
