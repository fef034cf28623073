// Package cli wires the command line to the check engine and maps run
// severities to the conventional fsck exit codes.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhangyi089/overlayfs-progs/internal/check"
	"github.com/zhangyi089/overlayfs-progs/internal/config"
	"github.com/zhangyi089/overlayfs-progs/internal/engine"
	"github.com/zhangyi089/overlayfs-progs/internal/layer"
	"github.com/zhangyi089/overlayfs-progs/internal/repair"
	"github.com/zhangyi089/overlayfs-progs/internal/util"
)

var (
	// Global flags
	optStrings  []string
	autoYes     bool
	autoNo      bool
	dryRun      bool
	interactive bool
	mergeChoice string
	upperOnly   bool
	verbosity   int

	// severity carries the run outcome from RunE to Execute.
	severity = check.SeverityNone
)

// rootCmd is the root command for fsck.overlay.
var rootCmd = &cobra.Command{
	Use:     "fsck.overlay -o lowerdir=<dirs>[,upperdir=<dir>,workdir=<dir>]",
	Version: "dev",
	Short:   "Check and repair the consistency of an overlay layer stack",
	Long: `fsck.overlay checks the directories of an unmounted overlay filesystem for
inconsistencies left behind by interrupted operations or manual edits:
orphan whiteouts, invalid or duplicate redirect markers, and incorrect
impure markers. With -y it repairs what can be repaired safely.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	RunE: run,
}

// SetVersion overrides the version shown by --version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	f := rootCmd.Flags()
	f.StringArrayVarP(&optStrings, "options", "o", nil,
		"mount-style options naming the layers (lowerdir=, upperdir=, workdir=)")
	f.BoolVarP(&autoYes, "yes", "y", false, "repair inconsistencies without asking")
	f.BoolVarP(&autoNo, "no", "n", false, "report inconsistencies, repair nothing")
	f.BoolVar(&dryRun, "dry-run", false, "show the repairs that would be applied")
	f.BoolVarP(&interactive, "interactive", "i", false, "ask before each repair")
	f.StringVar(&mergeChoice, "merge-conflict", "report",
		"remediation for redirects covered by a merge directory (report, remove-redirect, set-opaque)")
	f.BoolVar(&upperOnly, "upper-only", false, "check only the upper layer, not every layer in turn")
	f.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
}

// run parses the layer options, opens the stack, and drives one full check.
func run(cmd *cobra.Command, args []string) error {
	util.InitLogger(verbosity)

	opts, err := buildOptions()
	if err != nil {
		severity = check.SeverityUsage
		return err
	}

	cfg, err := config.ParseMountOptions(strings.Join(optStrings, ","))
	if err != nil {
		severity = check.SeverityUsage
		return fmt.Errorf("invalid -o options: %w", err)
	}

	set, err := layer.Open(cfg.Upper, cfg.Lowers)
	if err != nil {
		severity = check.SeverityUsage
		return err
	}

	res := engine.New(set, opts).Run()
	severity = res.Severity
	printReport(set, res)
	return nil
}

// buildOptions validates mode flags and assembles the engine options. At most
// one of -y, -n, --dry-run, -i may be given; the default is report-only.
func buildOptions() (engine.Options, error) {
	modes := 0
	for _, on := range []bool{autoYes, autoNo, dryRun, interactive} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return engine.Options{}, errors.New("at most one of -y, -n, --dry-run, -i may be given")
	}

	var policy repair.Policy
	switch {
	case autoYes:
		policy = repair.AutoYes{}
	case dryRun:
		policy = repair.DryRun{}
	case interactive:
		policy = repair.NewInteractive(os.Stdin, os.Stdout)
	default:
		policy = repair.AutoNo{}
	}

	var remedy repair.Remedy
	switch mergeChoice {
	case "report":
		remedy = repair.RemedyReport
	case "remove-redirect":
		remedy = repair.RemedyRemoveRedirect
	case "set-opaque":
		remedy = repair.RemedySetOpaque
	default:
		return engine.Options{}, fmt.Errorf("unknown --merge-conflict value %q", mergeChoice)
	}

	return engine.Options{
		ScanAll: !upperOnly,
		Policy:  policy,
		Remedy:  remedy,
	}, nil
}

// exitCode maps a run severity to the conventional fsck exit code.
func exitCode(s check.Severity) int {
	switch s {
	case check.SeverityNone:
		return 0
	case check.SeverityCorrected:
		return 1
	case check.SeverityUncorrected:
		return 4
	case check.SeverityOperational:
		return 8
	case check.SeverityUsage:
		return 16
	case check.SeverityCanceled:
		return 32
	default:
		return 128
	}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		PrintError(err.Error())
		if severity == check.SeverityNone {
			// Flag parse failures never reach run.
			severity = check.SeverityUsage
		}
	}
	return exitCode(severity)
}
