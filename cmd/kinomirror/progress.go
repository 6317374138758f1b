package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/kinomirror/internal/domain"
)

// Color palette
var (
	accent  = lipgloss.Color("#E5A00D")
	dimGray = lipgloss.Color("#6B7280")
	white   = lipgloss.Color("#F9FAFB")
	green   = lipgloss.Color("#10B981")
	red     = lipgloss.Color("#EF4444")
)

const (
	barWidth  = 40
	quitHint  = "q to cancel"
	doneGlyph = "✓"
	failGlyph = "✗"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(white).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dimGray)
	spinnerStyle = lipgloss.NewStyle().Foreground(accent)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
)

type progressMsg domain.LoadProgress

type loadDoneMsg domain.Stats

// loadModel renders a running full load: spinner, bar and page counts.
type loadModel struct {
	spinner   spinner.Model
	bar       progress.Model
	current   domain.LoadProgress
	stats     *domain.Stats
	cancelled bool
}

func newLoadModel() loadModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = spinnerStyle

	return loadModel{
		spinner: s,
		bar:     progress.New(progress.WithSolidFill(string(accent)), progress.WithWidth(barWidth)),
	}
}

func (m loadModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m loadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		}
		return m, nil

	case progressMsg:
		m.current = domain.LoadProgress(msg)
		return m, nil

	case loadDoneMsg:
		stats := domain.Stats(msg)
		m.stats = &stats
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m loadModel) View() string {
	if m.stats != nil {
		return summaryLine(*m.stats) + "\n"
	}
	if m.cancelled {
		return errorStyle.Render(failGlyph+" load cancelled") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), titleStyle.Render("Loading catalog"))
	fmt.Fprintf(&b, "  %s\n", m.bar.ViewAs(m.current.Percentage/100))
	fmt.Fprintf(&b, "  %s\n", dimStyle.Render(fmt.Sprintf("%d / ~%d pages · %s",
		m.current.PagesDone, m.current.PagesEstimated, quitHint)))
	return b.String()
}

func summaryLine(stats domain.Stats) string {
	if stats.Error != "" {
		return errorStyle.Render(fmt.Sprintf("%s load failed: %s", failGlyph, stats.Error))
	}
	return successStyle.Render(fmt.Sprintf("%s loaded %d records from %d pages (%d categories, %d countries, %d years)",
		doneGlyph, stats.Movies, stats.PagesLoaded, stats.Categories, stats.Countries, stats.Years))
}

// plainProgress reports batches as log lines and plain text when stdout is
// not a terminal.
func plainProgress(w io.Writer, logger *slog.Logger) domain.ProgressFunc {
	return func(p domain.LoadProgress) {
		logger.Debug("load progress", "pagesDone", p.PagesDone, "pagesEstimated", p.PagesEstimated)
		fmt.Fprintf(w, "loading: %d/%d pages (%.1f%%)\n", p.PagesDone, p.PagesEstimated, p.Percentage)
	}
}
