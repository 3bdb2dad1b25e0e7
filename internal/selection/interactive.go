package selection

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/autotrace-dev/autotrace/internal/analyzer"
	"github.com/autotrace-dev/autotrace/internal/graph"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81"))

	llmTagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208")).
			Bold(true)
)

// Interactive lets the user confirm the selection in a terminal tree.
type Interactive struct {
	In  io.Reader
	Out io.Writer
}

func (r Interactive) Resolve(ctx context.Context, a *analyzer.Analysis) (Set, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if r.In != nil {
		opts = append(opts, tea.WithInput(r.In))
	}
	if r.Out != nil {
		opts = append(opts, tea.WithOutput(r.Out))
	}

	m := newTreeModel(a)
	final, err := tea.NewProgram(m, opts...).Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("selection ui: %w", err)
	}

	result := final.(treeModel)
	if result.cancelled {
		return nil, ErrCancelled
	}
	return result.selection(), nil
}

type treeRow struct {
	node  *graph.FunctionNode
	depth int
}

// treeModel renders the call graph as the tree of first discovery.
type treeModel struct {
	rows        []treeRow
	cursor      int
	offset      int
	height      int
	checked     map[string]bool
	recommended map[string]bool
	done        bool
	cancelled   bool
	keys        keyMap
	help        help.Model
}

func newTreeModel(a *analyzer.Analysis) treeModel {
	m := treeModel{
		checked:     make(map[string]bool),
		recommended: make(map[string]bool),
		height:      20,
		keys:        defaultKeyMap(),
		help:        help.New(),
	}
	for _, id := range a.Recommended {
		m.recommended[id] = true
		m.checked[id] = true
	}

	g := a.Graph
	var walk func(n *graph.FunctionNode, depth int)
	walk = func(n *graph.FunctionNode, depth int) {
		m.rows = append(m.rows, treeRow{node: n, depth: depth})
		for _, child := range g.Children(n.ID) {
			walk(child, depth+1)
		}
	}
	if entry := g.Entry(); entry != nil {
		walk(entry, 0)
	}
	return m
}

func (m treeModel) selection() Set {
	s := make(Set, len(m.checked))
	for id, on := range m.checked {
		if on {
			s.Add(id)
		}
	}
	return s
}

func (m treeModel) Init() tea.Cmd {
	return nil
}

func (m treeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-6, 3)
		m.help.Width = msg.Width
		m.clampOffset()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Cancel):
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Confirm):
			m.done = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Toggle):
			if len(m.rows) > 0 {
				id := m.rows[m.cursor].node.ID
				m.checked[id] = !m.checked[id]
			}
		case key.Matches(msg, m.keys.All):
			for _, r := range m.rows {
				m.checked[r.node.ID] = true
			}
		case key.Matches(msg, m.keys.None):
			m.checked = make(map[string]bool)
		case key.Matches(msg, m.keys.Recommended):
			m.checked = make(map[string]bool, len(m.recommended))
			for id := range m.recommended {
				m.checked[id] = true
			}
		}
		m.clampOffset()
	}
	return m, nil
}

func (m *treeModel) clampOffset() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+m.height {
		m.offset = m.cursor - m.height + 1
	}
}

func (m treeModel) View() string {
	if m.done || m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Select functions to trace"))
	b.WriteString("\n\n")

	end := min(m.offset+m.height, len(m.rows))
	for i := m.offset; i < end; i++ {
		r := m.rows[i]
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render("> ")
		}
		box := "[ ]"
		if m.checked[r.node.ID] {
			box = "[x]"
		}
		line := fmt.Sprintf("%s%s %s%s %s", pointer, box, strings.Repeat("  ", r.depth), r.node.QualifiedName,
			dimStyle.Render(fmt.Sprintf("%s:%d", r.node.File, r.node.StartLine)))
		if tags := renderTags(r.node); tags != "" {
			line += " " + tags
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d/%d selected", len(m.selection()), len(m.rows))))
	b.WriteString("  ")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

func renderTags(n *graph.FunctionNode) string {
	parts := make([]string, 0, len(n.Tags)+1)
	for _, tag := range n.Tags {
		if tag == graph.TagLLMCall {
			parts = append(parts, llmTagStyle.Render(tag))
			continue
		}
		parts = append(parts, tagStyle.Render(tag))
	}
	if n.AlreadyInstrumented {
		parts = append(parts, dimStyle.Render("traced"))
	}
	return strings.Join(parts, " ")
}
