package cli

import (
	"fmt"

	"github.com/zhangyi089/overlayfs-progs/internal/engine"
	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/repair"
)

// printReport renders the per-layer outcomes and the run summary.
func printReport(set *layer.Set, res *engine.Result) {
	findings := 0
	corrected := 0

	for _, rep := range res.Layers {
		if len(rep.Outcomes) == 0 && len(rep.OpErrors) == 0 {
			continue
		}
		PrintSection(fmt.Sprintf("%s (%s)", rep.Layer, rep.Layer.Root))

		for _, o := range rep.Outcomes {
			findings++
			switch {
			case o.Status == repair.StatusCorrected:
				corrected++
				PrintSuccess(o.Finding.Describe())
				if o.Action != nil {
					PrintDetail(o.Action.Describe())
				}
				if o.Note != "" {
					PrintDetail(o.Note)
				}
			case o.Err != nil:
				PrintError(o.Finding.Describe())
				PrintDetail(fmt.Sprintf("repair failed: %v", o.Err))
			default:
				PrintWarning(o.Finding.Describe())
				if o.Action != nil {
					PrintDetail(fmt.Sprintf("would %s", o.Action.Describe()))
				}
				if o.Note != "" {
					PrintDetail(o.Note)
				}
			}
		}

		for _, oe := range rep.OpErrors {
			PrintError(fmt.Sprintf("%s: %v", oe.Path, oe.Err))
		}
	}

	fmt.Println()
	switch {
	case res.Canceled:
		PrintWarning("run canceled, remaining layers not checked")
	case findings == 0:
		PrintSuccess("no inconsistencies found")
	case corrected == findings:
		PrintSuccess(fmt.Sprintf("%s corrected", PrintCount(findings, "inconsistency", "inconsistencies")))
	default:
		PrintWarning(fmt.Sprintf("%s found, %d corrected",
			PrintCount(findings, "inconsistency", "inconsistencies"), corrected))
	}
	PrintLabelValue("layers checked", fmt.Sprintf("%d of %d", len(res.Layers), set.Len()))
	PrintLabelValue("result", res.Severity.String())
}
