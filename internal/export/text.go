package export

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sprite-ai/revpad/internal/model"
)

var (
	colorRed    = lipgloss.Color("#ff5555")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorYellow = lipgloss.Color("#f1fa8c")
	colorBlue   = lipgloss.Color("#8be9fd")
	colorPurple = lipgloss.Color("#bd93f9")
	colorDim    = lipgloss.Color("#6272a4")

	headerStyle     = lipgloss.NewStyle().Foreground(colorPurple).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	infoStyle       = lipgloss.NewStyle().Foreground(colorBlue)
	cleanStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	suggestionStyle = lipgloss.NewStyle().Foreground(colorDim)
	plainStyle      = lipgloss.NewStyle()
)

// TextWriter outputs a human-readable report. Color enables lipgloss
// styling.
type TextWriter struct {
	Color bool
}

func (t *TextWriter) style(s lipgloss.Style) lipgloss.Style {
	if t.Color {
		return s
	}
	return plainStyle
}

// SeverityStyle returns the style used for a severity label.
func SeverityStyle(s model.Severity) lipgloss.Style {
	switch s {
	case model.SeverityError:
		return errorStyle
	case model.SeverityWarning:
		return warningStyle
	default:
		return infoStyle
	}
}

// SeverityIcon returns a short marker for a severity.
func SeverityIcon(s model.Severity) string {
	switch s {
	case model.SeverityError:
		return "!!"
	case model.SeverityWarning:
		return "! "
	default:
		return "- "
	}
}

func (t *TextWriter) Write(w io.Writer, doc Document) error {
	ew := &errWriter{w: w}
	res := doc.Result

	header := title(doc)
	if doc.Language != "" {
		header += " (" + string(doc.Language) + ")"
	}
	ew.println(t.style(headerStyle).Render(header))
	ew.println(strings.Repeat("─", 60))
	ew.printf("Score: %d/100  %s\n", res.Score, res.Summary)
	ew.println(strings.Repeat("─", 60))

	if len(res.Issues) == 0 {
		ew.println(t.style(cleanStyle).Render("No issues found."))
		return ew.err
	}

	lines := strings.Split(doc.Code, "\n")
	for _, is := range res.Issues {
		label := t.style(SeverityStyle(is.Severity)).Render(SeverityIcon(is.Severity) + " " + is.Severity.String())
		ew.printf("%4d  %s  %s [%s]\n", is.Line, label, is.Message, is.Rule)
		if is.Line >= 1 && is.Line <= len(lines) && doc.Code != "" {
			ew.printf("      | %s\n", strings.TrimRight(lines[is.Line-1], "\r"))
		}
		if is.Suggestion != "" {
			ew.printf("      %s\n", t.style(suggestionStyle).Render("→ "+is.Suggestion))
		}
	}
	return ew.err
}
