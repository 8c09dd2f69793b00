// Package render produces the styled terminal output for plans and run
// status, shared by the CLI commands and the watch view.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/scheduler"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	stageStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	waitStyle    = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	haltedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

func stateStyle(state scheduler.State) lipgloss.Style {
	switch state {
	case scheduler.StateSuccess:
		return successStyle
	case scheduler.StateFailed:
		return failedStyle
	case scheduler.StateStopped, scheduler.StateCanceled:
		return haltedStyle
	case scheduler.StateInProcess, scheduler.StateRequested:
		return activeStyle
	case scheduler.StateWaitingForPreApproval, scheduler.StateWaitingForApproval:
		return pendingStyle
	default:
		return waitStyle
	}
}

// Plan renders a compiled goal set stage by stage.
func Plan(gs *compiler.GoalSet) string {
	if gs == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Goal set %s", gs.ID)))
	b.WriteString("\n")
	b.WriteString(waitStyle.Render(fmt.Sprintf("%s/%s @ %s on %s", gs.Repo.Owner, gs.Repo.Name, gs.Revision, gs.Branch)))
	b.WriteString("\n")
	for _, warning := range gs.Warnings {
		b.WriteString(warnStyle.Render("warning: " + warning))
		b.WriteString("\n")
	}
	for _, stage := range gs.Stages {
		b.WriteString("\n")
		b.WriteString(stageStyle.Render(fmt.Sprintf("Stage %d", stage.Index)))
		b.WriteString("\n")
		for _, inst := range stage.Instances {
			b.WriteString(fmt.Sprintf("  %s", inst.ID))
			if len(inst.WaitsOn) > 0 {
				waits := make([]string, len(inst.WaitsOn))
				for i, w := range inst.WaitsOn {
					waits[i] = string(w)
				}
				b.WriteString(waitStyle.Render(fmt.Sprintf("  (waits on %s)", strings.Join(waits, ", "))))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Status renders one run snapshot with per-instance state badges.
func Status(snap scheduler.Snapshot) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Run %s", snap.RunID)))
	b.WriteString("  ")
	b.WriteString(stateBadge(snap.Status))
	b.WriteString("\n")
	b.WriteString(waitStyle.Render(fmt.Sprintf("%s/%s @ %s", snap.Repo.Owner, snap.Repo.Name, snap.Revision)))
	b.WriteString("\n")
	stage := -1
	for _, inst := range snap.Instances {
		if inst.Stage != stage {
			stage = inst.Stage
			b.WriteString(stageStyle.Render(fmt.Sprintf("Stage %d", stage)))
			b.WriteString("\n")
		}
		line := fmt.Sprintf("  %-32s %s", inst.ID, stateStyle(inst.State).Render(string(inst.State)))
		if inst.Attempts > 0 {
			line += waitStyle.Render(fmt.Sprintf("  attempts=%d", inst.Attempts+1))
		}
		if inst.Description != "" {
			line += waitStyle.Render("  " + inst.Description)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func stateBadge(status scheduler.RunStatus) string {
	switch status {
	case scheduler.RunStatusComplete:
		return successStyle.Render(string(status))
	case scheduler.RunStatusFailed:
		return failedStyle.Render(string(status))
	case scheduler.RunStatusCanceled:
		return haltedStyle.Render(string(status))
	case scheduler.RunStatusBlocked:
		return pendingStyle.Render(string(status))
	default:
		return activeStyle.Render(string(status))
	}
}

// Explanation renders a wait-chain report for one instance.
func Explanation(exp scheduler.Explanation) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s is %s", exp.Instance, stateStyle(exp.State).Render(string(exp.State))))
	b.WriteString("\n")
	for _, link := range exp.Chain {
		b.WriteString(fmt.Sprintf("  waits on %s (%s)\n", link.ID, link.State))
	}
	if exp.Culprit != "" {
		b.WriteString(failedStyle.Render(fmt.Sprintf("  blocked by %s", exp.Culprit)))
		b.WriteString("\n")
	}
	return b.String()
}
