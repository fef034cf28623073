// Package engine drives full consistency runs: it walks each layer stack,
// validates the merged view, and hands findings to the repair planner.
package engine

import (
	"github.com/rs/zerolog"

	"github.com/zhangyi089/overlayfs-progs/internal/check"
	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/repair"
	"github.com/zhangyi089/overlayfs-progs/internal/util"
	"github.com/zhangyi089/overlayfs-progs/internal/walk"
)

// Options configures a run.
type Options struct {
	// ScanAll checks every layer as the top of its own sub-stack, not just
	// the real upper layer. Lower layers are usually read-only, so their
	// findings are typically report-only.
	ScanAll bool

	// Policy rules on planned repairs. Nil means report-only.
	Policy repair.Policy

	// Remedy selects the fix for redirect-versus-merge conflicts.
	Remedy repair.Remedy
}

// LayerReport is the outcome of checking one layer as the top of its stack.
type LayerReport struct {
	// Layer is the layer that was checked.
	Layer *layer.Layer

	// Outcomes holds one entry per finding.
	Outcomes []repair.Outcome

	// OpErrors holds the operational failures hit during the scan.
	OpErrors []check.OpError

	// Severity is the worst severity for this layer.
	Severity check.Severity

	// Canceled reports an operator abort during this layer's repairs.
	Canceled bool
}

// Result aggregates a whole run.
type Result struct {
	// Layers holds one report per checked layer, upper first.
	Layers []LayerReport

	// Severity is the worst severity across all layers.
	Severity check.Severity

	// Canceled reports an operator abort. Layers after the abort are not
	// checked.
	Canceled bool
}

// Engine runs consistency checks over an opened layer stack.
type Engine struct {
	set  *layer.Set
	opts Options
	log  zerolog.Logger
}

// New creates an Engine for the given stack.
func New(set *layer.Set, opts Options) *Engine {
	if opts.Policy == nil {
		opts.Policy = repair.AutoNo{}
	}
	return &Engine{
		set:  set,
		opts: opts,
		log:  util.GetLogger("engine"),
	}
}

// Run checks the stack and returns the aggregated result. With ScanAll each
// layer is checked in turn as the top of its sub-stack; the bottom layer is
// checked alone, which still surfaces orphan whiteouts. An abort stops the
// run where it happened.
func (e *Engine) Run() *Result {
	res := &Result{Severity: check.SeverityNone}

	stacks := 1
	if e.opts.ScanAll {
		stacks = e.set.Len()
	}

	for i := 0; i < stacks; i++ {
		rep := e.checkStack(e.set.Stack(i))
		res.Layers = append(res.Layers, rep)
		res.Severity = check.Worst(res.Severity, rep.Severity)
		if rep.Canceled {
			res.Canceled = true
			break
		}
	}
	return res
}

// checkStack runs one scan with sub's top layer acting as the upper layer.
func (e *Engine) checkStack(sub *layer.Set) LayerReport {
	top := sub.Upper()
	e.log.Info().Stringer("layer", top).Int("lowers", sub.Len()-1).Msg("checking layer")

	index := walk.NewIndex(sub)
	v := check.NewValidator(sub, index)
	walk.New(sub, index, v).Walk()
	v.Finish()

	pr := repair.NewPlanner(sub, e.opts.Policy, e.opts.Remedy).Run(v.Findings())

	sev := pr.Severity
	if len(v.Errors()) > 0 {
		sev = check.Worst(sev, check.SeverityOperational)
	}

	e.log.Info().Stringer("layer", top).Int("findings", len(pr.Outcomes)).
		Stringer("severity", sev).Msg("layer checked")

	return LayerReport{
		Layer:    top,
		Outcomes: pr.Outcomes,
		OpErrors: v.Errors(),
		Severity: sev,
		Canceled: pr.Canceled,
	}
}
