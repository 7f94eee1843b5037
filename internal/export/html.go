package export

import (
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// HTMLWriter outputs a self-contained HTML page with the highlighted source.
type HTMLWriter struct{}

const htmlHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 960px; margin: 40px auto; padding: 0 20px; background: #282a36; color: #f8f8f2; }
  h1 { color: #bd93f9; }
  .summary { background: #343746; padding: 16px; border-radius: 8px; margin-bottom: 24px; }
  .summary span { margin-right: 24px; }
  .sev-error { color: #ff5555; font-weight: bold; }
  .sev-warning { color: #f1fa8c; }
  .sev-info { color: #8be9fd; }
  table { width: 100%%; border-collapse: collapse; margin-bottom: 24px; }
  th { text-align: left; padding: 8px 12px; background: #44475a; color: #f8f8f2; }
  td { padding: 8px 12px; border-bottom: 1px solid #44475a; vertical-align: top; }
  tr:hover { background: #343746; }
  .rule { color: #bd93f9; }
  .hint { color: #6272a4; }
  code { background: #343746; padding: 2px 6px; border-radius: 4px; font-size: 0.9em; }
  pre { border-radius: 8px; padding: 12px; overflow-x: auto; }
  .clean { color: #50fa7b; font-size: 1.2em; }
  footer { margin-top: 32px; color: #6272a4; font-size: 0.85em; }
</style>
</head>
<body>
`

func (h *HTMLWriter) Write(w io.Writer, doc Document) error {
	ew := &errWriter{w: w}
	res := doc.Result
	t := html.EscapeString(title(doc))

	ew.printf(htmlHead, t)
	ew.printf("<h1>%s</h1>\n", t)

	ew.printf("<div class=\"summary\">\n")
	if doc.Language != "" {
		ew.printf("  <span>Language: <strong>%s</strong></span>\n", html.EscapeString(string(doc.Language)))
	}
	ew.printf("  <span>Score: <strong>%d</strong>/100</span>\n", res.Score)
	ew.printf("  <span>%s</span>\n", html.EscapeString(res.Summary))
	if !doc.Timestamp.IsZero() {
		ew.printf("  <span>%s</span>\n", doc.Timestamp.UTC().Format(time.RFC3339))
	}
	ew.printf("</div>\n")

	if len(res.Issues) == 0 {
		ew.println(`<p class="clean">No issues found.</p>`)
	} else {
		ew.println(`<table>
<thead><tr><th>Line</th><th>Severity</th><th>Rule</th><th>Message</th></tr></thead>
<tbody>`)
		for _, is := range res.Issues {
			msg := html.EscapeString(is.Message)
			if is.Suggestion != "" {
				msg += `<br><span class="hint">` + html.EscapeString(is.Suggestion) + `</span>`
			}
			ew.printf("<tr><td>%d</td><td class=\"sev-%s\">%s</td><td class=\"rule\"><code>%s</code></td><td>%s</td></tr>\n",
				is.Line, is.Severity, is.Severity, html.EscapeString(is.Rule), msg)
		}
		ew.println(`</tbody></table>`)
	}

	if doc.Code != "" && ew.err == nil {
		ew.err = highlightHTML(w, doc)
	}

	ew.println(`<footer>Generated by <strong>revpad</strong></footer>
</body>
</html>`)
	return ew.err
}

// highlightHTML renders the source with chroma, marking lines that carry
// issues.
func highlightHTML(w io.Writer, doc Document) error {
	lexer := lexers.Get(string(doc.Language))
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("dracula")
	if style == nil {
		style = styles.Fallback
	}

	var marked [][2]int
	seen := map[int]bool{}
	for _, is := range doc.Result.Issues {
		if !seen[is.Line] {
			seen[is.Line] = true
			marked = append(marked, [2]int{is.Line, is.Line})
		}
	}

	formatter := chromahtml.New(
		chromahtml.WithLineNumbers(true),
		chromahtml.HighlightLines(marked),
	)
	iterator, err := lexer.Tokenise(&chroma.TokeniseOptions{State: "root"}, strings.TrimRight(doc.Code, "\n")+"\n")
	if err != nil {
		return fmt.Errorf("highlighting source: %w", err)
	}
	return formatter.Format(w, style, iterator)
}
