package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"instasave/pkg/status"
)

// Source returns the latest status record
type Source func() status.Record

// StopFunc asks the job to stop and reports whether one was running
type StopFunc func() bool

// Model is the dashboard of a scrape job. It polls a Source and renders
// progress, counters and recent history.
type Model struct {
	source   Source
	stop     StopFunc
	interval time.Duration

	spinner spinner.Model
	bar     progress.Model

	record   status.Record
	width    int
	height   int
	showHelp bool
	stopSent bool
	// exitWhenIdle quits once the polled record reports no running job
	exitWhenIdle bool
	seenRunning  bool
}

// NewModel creates a dashboard polling source every interval. stop may be
// nil when the job cannot be controlled from this process.
func NewModel(source Source, stop StopFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return Model{
		source:   source,
		stop:     stop,
		interval: interval,
		spinner:  s,
		bar:      bar,
	}
}

// ExitWhenIdle makes the dashboard quit after the job it watched finished
func (m Model) ExitWhenIdle() Model {
	m.exitWhenIdle = true
	return m
}

// Init starts the spinner and the first poll
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

// Record returns the last polled record
func (m Model) Record() status.Record {
	return m.record
}

// Percent is the share of listed items already processed
func (m Model) Percent() float64 {
	if m.record.Total <= 0 {
		return 0
	}
	p := float64(m.record.Processed) / float64(m.record.Total)
	if p > 1 {
		return 1
	}
	return p
}
