package cmds

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))

	statusStyles = map[string]lipgloss.Style{
		"Live":       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"Connecting": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"Offline":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"Idle":       lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
	}
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// renderMarkdown renders for a terminal and falls back to the raw text.
func renderMarkdown(s string) string {
	out, err := glamour.Render(s, "dark")
	if err != nil {
		return s
	}
	return out
}

func statusLine(label string) string {
	style, ok := statusStyles[label]
	if !ok {
		style = dimStyle
	}
	return style.Render("● " + label)
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
