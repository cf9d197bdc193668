package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the dashboard
func (m Model) View() string {
	rec := m.record
	var sections []string

	state := rec.State
	if state == "" {
		state = "idle"
	}
	header := headerStyle.Render("instasave") + " " + stateStyle(state).Render(strings.ToUpper(state))
	if rec.Running {
		header = m.spinner.View() + " " + header
	}
	if rec.LoggedInUser != "" {
		header += messageStyle.Render("  @" + rec.LoggedInUser)
	}
	sections = append(sections, header)
	sections = append(sections, messageStyle.Render(rec.Message))

	sections = append(sections, m.renderProgress())
	sections = append(sections, m.renderHistory())

	if m.stopSent {
		sections = append(sections, stateStyle("stopped_by_user").Render("Stop requested, finishing current item"))
	}
	if m.showHelp {
		sections = append(sections, helpStyle.Render(m.helpText()))
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderProgress() string {
	rec := m.record
	rows := []string{
		titleStyle.Render(" PROGRESS "),
		m.bar.ViewAs(m.Percent()),
		stat("Processed", fmt.Sprintf("%d / %d", rec.Processed, rec.Total)),
		stat("Skipped", fmt.Sprintf("%d", rec.Skipped)),
		stat("Errors", fmt.Sprintf("%d", rec.Errors)),
	}
	if rec.ElapsedTime != "" {
		rows = append(rows, stat("Elapsed", rec.ElapsedTime))
	}
	if rec.TimeRemaining != "" {
		rows = append(rows, stat("Remaining", rec.TimeRemaining))
	}
	if rec.DryRun {
		rows = append(rows, valueStyle.Render("dry run"))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderHistory() string {
	rows := []string{titleStyle.Render(" HISTORY ")}
	if len(m.record.History) == 0 {
		rows = append(rows, messageStyle.Render("No activity yet"))
	}
	for _, h := range m.record.History {
		ts, msg, ok := strings.Cut(h, " - ")
		if !ok {
			rows = append(rows, messageStyle.Render(h))
			continue
		}
		rows = append(rows, historyTimeStyle.Render(ts)+" "+messageStyle.Render(msg))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) helpText() string {
	keys := []string{"q  quit", "?  toggle help"}
	if m.stop != nil {
		keys = append(keys, "s  stop after the current item")
	}
	return strings.Join(keys, "\n")
}

func stat(label, value string) string {
	return fmt.Sprintf("%s %s", labelStyle.Render(label+":"), valueStyle.Render(value))
}
