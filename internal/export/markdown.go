package export

import (
	"io"
	"strings"
	"time"
)

// MarkdownWriter outputs a GitHub-flavoured Markdown report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, doc Document) error {
	ew := &errWriter{w: w}
	res := doc.Result

	ew.printf("## %s\n\n", title(doc))
	if doc.Language != "" {
		ew.printf("**Language:** %s", doc.Language)
		if !doc.Timestamp.IsZero() {
			ew.printf(" | **Reviewed:** %s", doc.Timestamp.UTC().Format(time.RFC3339))
		}
		ew.printf("\n\n")
	}
	ew.printf("**Score:** %d/100 | %s\n\n", res.Score, res.Summary)

	if len(res.Issues) == 0 {
		ew.println("No issues found.")
	} else {
		ew.println("| Line | Severity | Rule | Message | Suggestion |")
		ew.println("|-----:|----------|------|---------|------------|")
		for _, is := range res.Issues {
			ew.printf("| %d | %s | `%s` | %s | %s |\n",
				is.Line, is.Severity, is.Rule, mdCell(is.Message), mdCell(is.Suggestion))
		}
	}

	if doc.Code != "" {
		fence := "```"
		for strings.Contains(doc.Code, fence) {
			fence += "`"
		}
		ew.printf("\n%s%s\n%s\n%s\n", fence, doc.Language, strings.TrimRight(doc.Code, "\n"), fence)
	}
	return ew.err
}

// mdCell escapes text for a table cell.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
