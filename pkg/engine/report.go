package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Exit codes for the install command. Configuration and graph errors
// surface before a run starts and map to ExitCodeUsage at the CLI.
const (
	// ExitCodeSuccess: every node applied or was benignly skipped.
	ExitCodeSuccess = 0

	// ExitCodeFailed: at least one node failed during execution.
	ExitCodeFailed = 1

	// ExitCodeUsage: the run never started (bad arguments, unknown
	// plugin, cycle, path escape, unresolved parameters).
	ExitCodeUsage = 2
)

// Report is the aggregate outcome of one run.
type Report struct {
	// RunID identifies the run (UUID).
	RunID string `json:"run_id"`

	// PluginID is the requested root plugin.
	PluginID string `json:"plugin_id"`

	// TargetRoot is the target tree the run applied to.
	TargetRoot string `json:"target_root"`

	// DryRun marks a planning-only run: actions are what would happen.
	DryRun bool `json:"dry_run,omitempty"`

	// Status is the aggregate outcome.
	Status RunStatus `json:"status"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Nodes holds every node result in topological order.
	Nodes []NodeResult `json:"nodes"`
}

// ExitCode maps the report to the install command's exit code.
func (r *Report) ExitCode() int {
	if r.Status == RunStatusFailed {
		return ExitCodeFailed
	}
	return ExitCodeSuccess
}

// Counts returns the number of applied, skipped, and failed nodes.
func (r *Report) Counts() (applied, skipped, failed int) {
	for _, n := range r.Nodes {
		switch n.Status {
		case NodeStatusApplied:
			applied++
		case NodeStatusSkipped:
			skipped++
		case NodeStatusFailed:
			failed++
		}
	}
	return applied, skipped, failed
}

// Warnings returns the optional validation failures across all nodes.
func (r *Report) Warnings() []string {
	var warnings []string
	for _, n := range r.Nodes {
		for _, v := range n.Validations {
			if !v.Passed && !v.Failed() {
				warnings = append(warnings, fmt.Sprintf("%s: optional check %q did not pass", n.PluginID, v.Name))
			}
		}
	}
	return warnings
}

var (
	summaryHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86"))

	appliedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Summary renders a human-readable run summary table.
func (r *Report) Summary() string {
	var rows []string

	title := fmt.Sprintf("Install %s → %s", r.PluginID, r.TargetRoot)
	if r.DryRun {
		title += " (dry run)"
	}
	rows = append(rows, summaryHeaderStyle.Render(title), "")

	widths := r.columnWidths()
	rows = append(rows, summaryHeaderStyle.Render(
		fmt.Sprintf("  %-*s  %-*s  %-*s  %s", widths[0], "PLUGIN", widths[1], "STATUS", widths[2], "DETAIL", "ARTIFACTS")))

	for _, n := range r.Nodes {
		status := string(n.Status)
		detail := ""
		switch {
		case n.Status == NodeStatusSkipped:
			detail = string(n.SkipReason)
		case n.Status == NodeStatusFailed:
			detail = n.Error
		}

		line := fmt.Sprintf("  %-*s  %-*s  %-*s  %s",
			widths[0], n.PluginID, widths[1], status, widths[2], detail, artifactSummary(n.Artifacts))

		switch n.Status {
		case NodeStatusApplied:
			line = appliedStyle.Render(line)
		case NodeStatusSkipped:
			line = skippedStyle.Render(line)
		case NodeStatusFailed:
			line = failedStyle.Render(line)
		}
		rows = append(rows, line)
	}

	applied, skipped, failed := r.Counts()
	rows = append(rows, "", fmt.Sprintf("  %d applied, %d skipped, %d failed in %s",
		applied, skipped, failed, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)))

	for _, w := range r.Warnings() {
		rows = append(rows, warnStyle.Render("  warning: "+w))
	}

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// columnWidths sizes the plugin, status, and detail columns to content.
func (r *Report) columnWidths() [3]int {
	widths := [3]int{len("PLUGIN"), len("STATUS"), len("DETAIL")}
	for _, n := range r.Nodes {
		if len(n.PluginID) > widths[0] {
			widths[0] = len(n.PluginID)
		}
		if len(n.Status) > widths[1] {
			widths[1] = len(n.Status)
		}
		detail := string(n.SkipReason)
		if n.Status == NodeStatusFailed {
			detail = n.Error
		}
		if len(detail) > widths[2] {
			widths[2] = len(detail)
		}
	}
	// Long error messages would blow the table apart.
	if widths[2] > 48 {
		widths[2] = 48
	}
	return widths
}

func artifactSummary(artifacts []ArtifactResult) string {
	if len(artifacts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Path, a.Action))
	}
	return strings.Join(parts, ", ")
}
