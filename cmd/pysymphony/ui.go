package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wlvh/PySymphony/internal/auditor"
	"github.com/wlvh/PySymphony/internal/linker"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	findingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type model struct {
	entry      string
	list       list.Model
	err        error
	findings   []auditor.Finding
	stats      linker.Stats
	duration   time.Duration
	bytes      int
	lastUpdate time.Time
}

type updateMsg struct {
	err      error
	findings []auditor.Finding
	stats    linker.Stats
	duration time.Duration
	bytes    int
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v-4)
	case updateMsg:
		m.err = msg.err
		m.findings = msg.findings
		m.stats = msg.stats
		m.duration = msg.duration
		m.bytes = msg.bytes
		m.lastUpdate = time.Now()

		items := []list.Item{}
		if m.err != nil {
			items = append(items, item{
				title: "Merge Failed",
				desc:  m.err.Error(),
			})
		}
		for _, f := range m.findings {
			items = append(items, item{
				title: f.Kind,
				desc:  fmt.Sprintf("line %d: %s", f.Line, f.Message),
			})
		}
		m.list.SetItems(items)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	status := statusStyle.Render(fmt.Sprintf("Last build: %v | %d modules | %d symbols | %d bytes in %v",
		m.lastUpdate.Format("15:04:05"), m.stats.Modules, m.stats.Symbols,
		m.bytes, m.duration.Round(time.Millisecond)))

	var summary string
	switch {
	case m.err != nil:
		summary = errorStyle.Render("Merge failed")
	case len(m.findings) > 0:
		summary = findingStyle.Render(fmt.Sprintf("%d Audit Findings", len(m.findings)))
	default:
		summary = successStyle.Render("Bundle Clean")
	}

	header := fmt.Sprintf("%s\n%s | %s\n", titleStyle("PySymphony "+m.entry), status, summary)
	return docStyle.Render(header + "\n" + m.list.View())
}

func initialModel(entry string) model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Build Issues"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)

	return model{
		entry:      entry,
		list:       l,
		lastUpdate: time.Now(),
	}
}
