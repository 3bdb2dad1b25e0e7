package selection

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/autotrace-dev/autotrace/internal/instrument"
)

var (
	addStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	delStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hunkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	fileStyle = lipgloss.NewStyle().Bold(true)
)

// AlwaysConfirm approves every file without asking.
type AlwaysConfirm struct{}

func (AlwaysConfirm) ConfirmFile(ctx context.Context, _ *instrument.PendingEdit) (bool, error) {
	return true, ctx.Err()
}

// PromptConfirm shows each file's diff and asks before it is written.
// Answers: y applies, n skips, a applies this and every later file, q cancels.
type PromptConfirm struct {
	reader *bufio.Reader
	out    io.Writer
	all    bool
}

// NewPromptConfirm creates a confirmer reading answers from in.
func NewPromptConfirm(in io.Reader, out io.Writer) *PromptConfirm {
	return &PromptConfirm{reader: bufio.NewReader(in), out: out}
}

func (p *PromptConfirm) ConfirmFile(ctx context.Context, edit *instrument.PendingEdit) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.all {
		return true, nil
	}

	fmt.Fprintln(p.out, fileStyle.Render(edit.RelPath))
	fmt.Fprint(p.out, ColorDiff(edit.Diff()))

	for {
		fmt.Fprintf(p.out, "Apply changes to %s? [y/n/a/q] ", edit.RelPath)
		line, err := p.reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		switch answer {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "a", "all":
			p.all = true
			return true, nil
		case "q", "quit":
			return false, ErrCancelled
		}
		if err != nil {
			// input closed without an answer
			return false, ErrCancelled
		}
	}
}

// ColorDiff styles a unified diff for the terminal.
func ColorDiff(diff string) string {
	lines := strings.SplitAfter(diff, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		text := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(text, "+++"), strings.HasPrefix(text, "---"):
			b.WriteString(fileStyle.Render(text))
		case strings.HasPrefix(text, "@@"):
			b.WriteString(hunkStyle.Render(text))
		case strings.HasPrefix(text, "+"):
			b.WriteString(addStyle.Render(text))
		case strings.HasPrefix(text, "-"):
			b.WriteString(delStyle.Render(text))
		default:
			b.WriteString(text)
		}
		b.WriteString("\n")
	}
	return b.String()
}
