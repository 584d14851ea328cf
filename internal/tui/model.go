package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scanbatch/internal/batch"
)

// Controller is the part of the pipeline the progress view can drive.
type Controller interface {
	Pause()
	Resume() error
	Paused() bool
}

// Model renders batch progress snapshots until the subscription closes.
type Model struct {
	updates  <-chan batch.Progress
	ctl      Controller
	onQuit   func()
	width    int
	progress batch.Progress
	quitting bool
}

type doneMsg struct{}

type progressMsg batch.Progress

// NewModel builds a progress view over a pipeline subscription. ctl and
// onQuit may be nil; without a controller the pause key is ignored.
func NewModel(updates <-chan batch.Progress, ctl Controller, onQuit func()) Model {
	return Model{updates: updates, ctl: ctl, onQuit: onQuit}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.progress = batch.Progress(msg)
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "p", " ":
			if m.ctl != nil {
				if m.ctl.Paused() {
					_ = m.ctl.Resume()
				} else {
					m.ctl.Pause()
				}
				m.progress.Paused = m.ctl.Paused()
			}
		case "q", "ctrl+c":
			if m.onQuit != nil {
				m.onQuit()
			}
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	p := m.progress

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	state := "running"
	switch {
	case p.Paused:
		state = "paused"
	case !p.Running && p.Done():
		state = "done"
	case !p.Running:
		state = "idle"
	}

	eta := "--"
	if p.Remaining > 0 {
		eta = p.Remaining.Round(time.Second).String()
	}

	lines := []string{
		titleStyle.Render("scanbatch") + dimStyle.Render("  "+state),
		labelStyle.Render(fmt.Sprintf("Pages: %d/%d", p.Processed, p.Total)) +
			dimStyle.Render(fmt.Sprintf("  ok:%d  errors:%d  in flight:%d", p.Completed, p.Failed, p.InFlight)),
		labelStyle.Render(fmt.Sprintf("Throughput: %.2f pages/s", p.Throughput)) + dimStyle.Render("  eta "+eta),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", p.Elapsed.Round(time.Millisecond))),
		barStyle.Render(renderBar(barWidth, p.Fraction)),
	}
	if m.ctl != nil {
		lines = append(lines, dimStyle.Render("p pause/resume · q quit"))
	}

	return strings.Join(lines, "\n")
}

func listenForUpdates(updates <-chan batch.Progress) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return progressMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorAccentAlt)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
)
