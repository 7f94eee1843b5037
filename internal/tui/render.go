package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/revpad/internal/diff"
	"github.com/sprite-ai/revpad/internal/export"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
)

// renderedLine is a single source line ready for display.
type renderedLine struct {
	Num     int
	Content string
	Tokens  []diff.Token

	// Issues reported on this line, most severe first.
	Issues []model.Issue
}

// renderSource splits source into display lines with syntax tokens. A
// non-empty filename picks the lexer; otherwise lang does.
func renderSource(source string, lang model.Language, filename string) []renderedLine {
	raw := rules.SplitLines(source)
	if len(raw) == 0 {
		return nil
	}
	var highlighted []diff.HighlightedLine
	if filename != "" {
		highlighted = diff.HighlightLines(filename, raw)
	} else {
		highlighted = diff.HighlightLanguage(lang, raw)
	}

	lines := make([]renderedLine, len(raw))
	for i, content := range raw {
		lines[i] = renderedLine{Num: i + 1, Content: content}
		if i < len(highlighted) {
			lines[i].Tokens = highlighted[i].Tokens
		}
	}
	return lines
}

// attachIssues records each issue on its line. Issues outside the source are
// ignored.
func attachIssues(lines []renderedLine, issues []model.Issue) {
	for i := range lines {
		lines[i].Issues = nil
	}
	for _, is := range issues {
		if is.Line < 1 || is.Line > len(lines) {
			continue
		}
		l := &lines[is.Line-1]
		l.Issues = append(l.Issues, is)
	}
}

// gutter renders the line number and the marker of the most severe issue.
func gutter(rl renderedLine) string {
	num := lineNumberStyle.Render(fmt.Sprintf("%4d", rl.Num))
	marker := "  "
	if len(rl.Issues) > 0 {
		sev := rl.Issues[0].Severity
		marker = export.SeverityStyle(sev).Render(export.SeverityIcon(sev))
	}
	return num + " " + marker + " "
}

// renderHighlightedContent renders line content with syntax token colours.
func renderHighlightedContent(rl renderedLine) string {
	if len(rl.Tokens) == 0 {
		return rl.Content
	}
	var b strings.Builder
	for _, tok := range rl.Tokens {
		if tok.Color != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

// styleLine renders a code line with its gutter, fitted to width.
func styleLine(rl renderedLine, width int, selected bool) string {
	g := gutter(rl)
	maxContent := width - lipgloss.Width(g)

	content := renderHighlightedContent(rl)
	if maxContent > 0 && lipgloss.Width(content) > maxContent {
		content = truncate(rl.Content, maxContent)
	}
	line := g + content
	if selected {
		return selectedLineStyle.Width(width).Render(line)
	}
	return line
}

// renderIssue describes one issue for the issue panel.
func renderIssue(is model.Issue, index, total, width int) string {
	head := fmt.Sprintf("%d/%d  line %d  %s  %s",
		index+1, total, is.Line,
		export.SeverityStyle(is.Severity).Render(is.Severity.String()),
		issueRuleStyle.Render(is.Rule),
	)
	var b strings.Builder
	b.WriteString(head)
	b.WriteByte('\n')
	b.WriteString(truncate(is.Message, width))
	if is.Suggestion != "" {
		b.WriteByte('\n')
		b.WriteString(suggestionStyle.Render(truncate("→ "+is.Suggestion, width)))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
