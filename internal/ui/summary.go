// Package ui renders the outcome of a merge run for the terminal.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/mergepr"
)

const indent = "  "

// Printer writes colored summaries, colors are only used when the writer is
// a terminal.
type Printer struct {
	w io.Writer

	heading lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	commit  lipgloss.Style
	dim     lipgloss.Style
}

func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)

	return &Printer{
		w:       w,
		heading: r.NewStyle().Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		failure: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		commit:  r.NewStyle().Foreground(lipgloss.Color("14")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// indentLines prefixes each non-empty line of str with prefix.
func indentLines(str, prefix string) string {
	lines := strings.SplitAfter(str, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = prefix + l
		}
	}

	return strings.Join(lines, "")
}

// Summary returns the rendered summary of a merge run that ended with err.
func (p *Printer) Summary(res *mergepr.Result, err error) string {
	var sb strings.Builder

	if err != nil {
		sb.WriteString(p.failure.Render("✗ " + err.Error()))
		sb.WriteString("\n")

		var stepErr *ghmergeerr.StepError
		if errors.As(err, &stepErr) {
			sb.WriteString(p.dim.Render(fmt.Sprintf("%sexit code: %d", indent, stepErr.Code)))
			sb.WriteString("\n")
		}
	}

	if res == nil || res.PullRequest == nil {
		return sb.String()
	}

	pr := res.PullRequest

	if len(res.Commits) > 0 {
		sb.WriteString(p.heading.Render("Merged commits:"))
		sb.WriteString("\n")

		var commits strings.Builder
		for _, c := range res.Commits {
			commits.WriteString(p.commit.Render(c.ShortID()))
			commits.WriteString(" " + c.Subject + "\n")
		}
		sb.WriteString(indentLines(commits.String(), indent))
	}

	if len(res.Fixes) > 0 {
		sb.WriteString(p.heading.Render("Fixes:"))
		sb.WriteString("\n")

		var fixes strings.Builder
		for _, ref := range res.Fixes {
			fixes.WriteString(ref.String() + "\n")
		}
		sb.WriteString(indentLines(fixes.String(), indent))
	}

	if err != nil {
		return sb.String()
	}

	switch {
	case res.Pushed && res.DryRun:
		sb.WriteString(p.success.Render(fmt.Sprintf("✓ dry run: pull request #%d would be merged into %s", pr.Number, res.Branch)))
		sb.WriteString("\n")

	case res.Pushed:
		sb.WriteString(p.success.Render(fmt.Sprintf("✓ pull request #%d merged into %s", pr.Number, res.Branch)))
		sb.WriteString("\n")

	default:
		sb.WriteString(p.warning.Render(fmt.Sprintf(
			"⚠ %s was not pushed, the merged commits only exist in the local branch", res.Branch,
		)))
		sb.WriteString("\n")
	}

	if res.NotifyErr != nil {
		sb.WriteString(p.warning.Render(fmt.Sprintf(
			"⚠ closing the pull request failed, close it manually: %s", res.ManualReviewURL,
		)))
		sb.WriteString("\n")
	}

	if res.Pushed && !res.DryRun && !res.TempBranchDeleted {
		sb.WriteString(p.dim.Render(fmt.Sprintf("%sdelete the branch %s manually", indent, res.TempBranch)))
		sb.WriteString("\n")
	}

	return sb.String()
}

// Print writes the summary of a merge run to the writer of the Printer.
func (p *Printer) Print(res *mergepr.Result, err error) {
	fmt.Fprint(p.w, p.Summary(res, err))
}
