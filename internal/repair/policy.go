package repair

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zhangyi089/overlayfs-progs/internal/check"
)

// ErrCanceled is returned by a policy when the operator aborts the run.
// Repairs applied before the abort stay applied.
var ErrCanceled = errors.New("canceled by operator")

// Decision is a policy's ruling on one action.
type Decision int

const (
	// DecisionApprove executes the action.
	DecisionApprove Decision = iota

	// DecisionReject declines the action; the finding is reported
	// uncorrected.
	DecisionReject

	// DecisionDefer reports the action without attempting it (dry-run, or
	// an ambiguous action in an unattended mode).
	DecisionDefer
)

// Policy rules on planned repairs. The planner is policy-agnostic; the four
// run modes are four implementations.
type Policy interface {
	// Decide rules on a single-candidate action.
	Decide(a *Action) (Decision, error)

	// Choose picks one of several candidate remediations for an ambiguous
	// finding. A nil result leaves the finding unrepaired.
	Choose(f *check.Finding, candidates []*Action) (*Action, error)
}

// DryRun reports every planned action and executes none.
type DryRun struct{}

// Decide defers every action.
func (DryRun) Decide(*Action) (Decision, error) { return DecisionDefer, nil }

// Choose declines to pick a candidate.
func (DryRun) Choose(*check.Finding, []*Action) (*Action, error) { return nil, nil }

// AutoYes executes every non-ambiguous action without asking.
type AutoYes struct{}

// Decide approves everything except ambiguous actions, which are deferred
// rather than guessed at.
func (AutoYes) Decide(a *Action) (Decision, error) {
	if a.Ambiguous {
		return DecisionDefer, nil
	}
	return DecisionApprove, nil
}

// Choose declines to pick a candidate.
func (AutoYes) Choose(*check.Finding, []*Action) (*Action, error) { return nil, nil }

// AutoNo executes nothing and reports everything found. This is the default
// report-only mode.
type AutoNo struct{}

// Decide rejects every action.
func (AutoNo) Decide(*Action) (Decision, error) { return DecisionReject, nil }

// Choose declines to pick a candidate.
func (AutoNo) Choose(*check.Finding, []*Action) (*Action, error) { return nil, nil }

// Interactive prompts the operator per action. Reading the answer blocks the
// single worker, which is fine for an offline tool.
type Interactive struct {
	in  *bufio.Reader
	out io.Writer
	eof bool
}

// NewInteractive creates an Interactive policy reading answers from in and
// writing prompts to out.
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{in: bufio.NewReader(in), out: out}
}

// Decide asks a yes/no/abort question for the action.
func (p *Interactive) Decide(a *Action) (Decision, error) {
	fmt.Fprintf(p.out, "%s\n", a.Finding.Describe())
	answer, err := p.ask(fmt.Sprintf("%s? [y/N/a] ", a.Describe()))
	if err != nil {
		return DecisionReject, err
	}
	switch answer {
	case "y", "yes":
		return DecisionApprove, nil
	case "a", "abort":
		return DecisionReject, ErrCanceled
	default:
		return DecisionReject, nil
	}
}

// Choose presents the candidate remediations as a numbered list.
func (p *Interactive) Choose(f *check.Finding, candidates []*Action) (*Action, error) {
	fmt.Fprintf(p.out, "%s\n", f.Describe())
	for i, c := range candidates {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, c.Describe())
	}
	answer, err := p.ask(fmt.Sprintf("choice? [1-%d/S/a] ", len(candidates)))
	if err != nil {
		return nil, err
	}
	switch answer {
	case "a", "abort":
		return nil, ErrCanceled
	default:
		for i := range candidates {
			if answer == fmt.Sprintf("%d", i+1) {
				return candidates[i], nil
			}
		}
		return nil, nil
	}
}

// ask prints the prompt and reads one lowercased answer line. After EOF all
// further questions answer "no".
func (p *Interactive) ask(prompt string) (string, error) {
	if p.eof {
		return "", nil
	}
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if errors.Is(err, io.EOF) {
		p.eof = true
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}
