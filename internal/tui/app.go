package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/supabase/hostaudit/internal/reporter"
	"github.com/supabase/hostaudit/internal/runner"
	"github.com/supabase/hostaudit/pkg/types"
)

// View represents the current view in the TUI
type View int

const (
	ViewDashboard View = iota
	ViewRules
	ViewRuleDetail
	ViewHelp
)

// Model is the main application model
type Model struct {
	result   *runner.Result
	styles   Styles
	view     View
	width    int
	height   int
	ruleList list.Model
	quitting bool
}

// RuleItem represents a rule in the list
type RuleItem struct {
	rule   runner.RuleResult
	status string
}

func (i RuleItem) Title() string {
	return fmt.Sprintf("%d %s", i.rule.Number, i.rule.Name)
}

func (i RuleItem) Description() string {
	if len(i.rule.Errors) > 0 {
		return i.status + " - " + firstLine(i.rule.Errors[0])
	}
	return i.status
}

func (i RuleItem) FilterValue() string {
	return fmt.Sprintf("%d %s %s", i.rule.Number, i.rule.Name, i.status)
}

// KeyMap defines the key bindings
type KeyMap struct {
	Up        key.Binding
	Down      key.Binding
	Enter     key.Binding
	Back      key.Binding
	Dashboard key.Binding
	Rules     key.Binding
	Filter    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

var keys = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
	Dashboard: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "dashboard"),
	),
	Rules: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "rules"),
	),
	Filter: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "filter"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// New creates a new TUI model for a finished run
func New(result *runner.Result) Model {
	styles := DefaultStyles()

	items := make([]list.Item, len(result.Rules))
	for i, rr := range result.Rules {
		items[i] = RuleItem{rule: rr, status: reporter.Status(result.Mode, rr)}
	}

	delegate := list.NewDefaultDelegate()
	ruleList := list.New(items, delegate, 0, 0)
	ruleList.Title = "Rules"
	ruleList.SetShowStatusBar(true)
	ruleList.SetFilteringEnabled(true)

	return Model{
		result:   result,
		styles:   styles,
		view:     ViewDashboard,
		ruleList: ruleList,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ruleList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		// While the filter input is open every key belongs to the list.
		if m.view == ViewRules && m.ruleList.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Back):
			if m.view == ViewRuleDetail {
				m.view = ViewRules
				return m, nil
			}
			// esc on a filtered list clears the filter instead
			if m.view != ViewRules || m.ruleList.FilterState() != list.FilterApplied {
				m.view = ViewDashboard
				return m, nil
			}

		case key.Matches(msg, keys.Dashboard):
			m.view = ViewDashboard
			return m, nil

		case key.Matches(msg, keys.Rules):
			m.view = ViewRules
			return m, nil

		case key.Matches(msg, keys.Help):
			if m.view == ViewHelp {
				m.view = ViewDashboard
			} else {
				m.view = ViewHelp
			}
			return m, nil

		case key.Matches(msg, keys.Enter):
			if m.view == ViewRules {
				m.view = ViewRuleDetail
			}
			return m, nil
		}
	}

	if m.view == ViewRules {
		var cmd tea.Cmd
		m.ruleList, cmd = m.ruleList.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.view {
	case ViewDashboard:
		content = m.viewDashboard()
	case ViewRules:
		content = m.viewRules()
	case ViewRuleDetail:
		content = m.viewRuleDetail()
	case ViewHelp:
		content = m.viewHelp()
	}

	return m.styles.App.Render(content)
}

func (m Model) viewDashboard() string {
	var b strings.Builder

	header := m.styles.Header.Render(" hostaudit - " + m.result.Mode.String() + " results ")
	b.WriteString(header + "\n\n")

	b.WriteString(m.styles.Title.Render("Run") + "\n")
	b.WriteString(fmt.Sprintf("  Host:  %s\n", m.result.Hostname))
	b.WriteString(fmt.Sprintf("  OS:    %s\n", m.result.OS))
	b.WriteString(fmt.Sprintf("  Run:   %s\n", m.result.RunID))
	if m.result.Aborted {
		b.WriteString("  " + m.styles.StatusError.Render("aborted") + "\n")
	}
	b.WriteString("\n")

	counts := map[string]int{}
	for _, rr := range m.result.Rules {
		counts[reporter.Status(m.result.Mode, rr)]++
	}
	maxCount := 1
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	b.WriteString(m.styles.Title.Render("Rules by Status") + "\n")
	maxWidth := 40
	for _, status := range statusOrder(m.result.Mode) {
		count := counts[status]
		barWidth := (count * maxWidth) / maxCount
		if count > 0 && barWidth == 0 {
			barWidth = 1
		}
		style := m.styles.StatusStyle(status)
		label := style.Render(fmt.Sprintf("  %-14s", status))
		bar := RenderBar(barWidth, barWidth, style)
		b.WriteString(label + fmt.Sprintf("%3d ", count) + bar + "\n")
	}

	if len(m.result.Warnings) > 0 {
		b.WriteString("\n" + m.styles.Title.Render("Warnings") + "\n")
		for _, w := range m.result.Warnings {
			b.WriteString("  " + m.styles.StatusWarn.Render(w) + "\n")
		}
	}

	b.WriteString("\n" + m.styles.HelpBar.Render("[r]ules  [d]ashboard  [?]help  [q]uit"))

	return b.String()
}

func statusOrder(mode types.Mode) []string {
	if mode == types.ModeUndo {
		return []string{"UNDONE", "UNDO FAILED", "NOT RUN", "ERROR", "ABORTED"}
	}
	if mode == types.ModeFix {
		return []string{"COMPLIANT", "FIXED", "NOT COMPLIANT", "FIX FAILED", "ERROR", "ABORTED"}
	}
	return []string{"COMPLIANT", "NOT COMPLIANT", "ERROR", "ABORTED"}
}

func (m Model) viewRules() string {
	return m.ruleList.View()
}

func (m Model) viewRuleDetail() string {
	var b strings.Builder

	selectedItem := m.ruleList.SelectedItem()
	if selectedItem == nil {
		b.WriteString("No rule selected\n")
		b.WriteString("\n" + m.styles.HelpBar.Render("[esc] back"))
		return b.String()
	}

	item := selectedItem.(RuleItem)
	rr := item.rule

	b.WriteString(m.styles.Title.Render("Rule Detail") + "\n\n")
	b.WriteString(fmt.Sprintf("Rule:      %s\n", m.styles.Bold.Render(fmt.Sprint(rr.Number))))
	b.WriteString(fmt.Sprintf("Name:      %s\n", rr.Name))
	b.WriteString(fmt.Sprintf("Status:    %s\n", m.styles.StatusStyle(item.status).Render(item.status)))
	if rr.Mandatory {
		b.WriteString("Mandatory: yes\n")
	}
	if rr.Fix != types.OutcomeNotRun {
		b.WriteString(fmt.Sprintf("Fix:       %s\n", rr.Fix))
	}
	if rr.Undo != types.OutcomeNotRun {
		b.WriteString(fmt.Sprintf("Undo:      %s\n", rr.Undo))
	}
	b.WriteString("\n")

	if len(rr.Errors) > 0 {
		b.WriteString(m.styles.Title.Render("Errors") + "\n")
		for _, e := range rr.Errors {
			b.WriteString("  " + m.styles.StatusError.Render(firstLine(e)) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Title.Render("Results") + "\n")
	for _, d := range rr.Details {
		for _, line := range strings.Split(d, "\n") {
			b.WriteString("  " + m.styles.Muted.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + m.styles.HelpBar.Render("[esc] back  [q]uit"))

	return b.String()
}

func (m Model) viewHelp() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Keyboard Shortcuts") + "\n\n")

	helpItems := []struct {
		key  string
		desc string
	}{
		{"↑/k, ↓/j", "Navigate up/down"},
		{"Enter", "Show rule results"},
		{"Esc", "Go back"},
		{"d", "Dashboard view"},
		{"r", "Rules list"},
		{"/", "Filter/search"},
		{"?", "Toggle help"},
		{"q", "Quit"},
	}

	for _, item := range helpItems {
		b.WriteString(fmt.Sprintf("  %-12s  %s\n", m.styles.Bold.Render(item.key), item.desc))
	}

	b.WriteString("\n" + m.styles.HelpBar.Render("[esc] back  [q]uit"))

	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// Run starts the TUI application
func Run(result *runner.Result) error {
	p := tea.NewProgram(New(result), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
