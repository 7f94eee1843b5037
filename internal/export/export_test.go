package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sprite-ai/revpad/internal/model"
)

func sampleDoc() Document {
	return Document{
		Title:    "app.js",
		Language: model.LanguageJavaScript,
		Code:     "console.log('x')\nif (a == b) {}\n",
		Result: model.ReviewResult{
			Issues: []model.Issue{
				{Line: 1, Severity: model.SeverityWarning, Message: "Debug output left in code: console.log()", Suggestion: "Remove it", Rule: "js-console"},
				{Line: 2, Severity: model.SeverityError, Message: "a <b> | c", Rule: "x-rule"},
			},
			Score:   80,
			Summary: "1 error, 1 warning; score 80: needs attention",
		},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func cleanDoc() Document {
	return Document{
		Language: model.LanguageJSON,
		Result:   model.ReviewResult{Issues: []model.Issue{}, Score: 100, Summary: "no issues"},
	}
}

func render(t *testing.T, format string, doc Document) string {
	t.Helper()
	w, err := Get(format)
	if err != nil {
		t.Fatalf("Get(%q): %v", format, err)
	}
	var buf bytes.Buffer
	if err := w.Write(&buf, doc); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	return buf.String()
}

func TestGetUnknownFormat(t *testing.T) {
	if _, err := Get("sarif"); err == nil {
		t.Error("expected error for unknown format")
	}
	for _, f := range Formats() {
		if _, err := Get(f); err != nil {
			t.Errorf("Get(%q): %v", f, err)
		}
	}
}

func TestTextWriter(t *testing.T) {
	out := render(t, "text", sampleDoc())
	for _, want := range []string{
		"app.js (javascript)",
		"Score: 80/100",
		"   1  !  warning  Debug output left in code: console.log() [js-console]",
		"| console.log('x')",
		"→ Remove it",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}

	clean := render(t, "text", cleanDoc())
	if !strings.Contains(clean, "No issues found.") {
		t.Errorf("expected clean message:\n%s", clean)
	}
}

func TestJSONWriter(t *testing.T) {
	out := render(t, "json", sampleDoc())

	var got struct {
		Language string               `json:"language"`
		Counts   model.SeverityCounts `json:"counts"`
		Issues   []model.Issue        `json:"issues"`
		Score    int                  `json:"score"`
		Summary  string               `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if got.Language != "javascript" || got.Score != 80 || len(got.Issues) != 2 {
		t.Errorf("unexpected document %+v", got)
	}
	if got.Counts.Errors != 1 || got.Counts.Warnings != 1 {
		t.Errorf("unexpected counts %+v", got.Counts)
	}
	if got.Issues[1].Severity != model.SeverityError {
		t.Errorf("severity did not round-trip: %v", got.Issues[1].Severity)
	}

	clean := render(t, "json", cleanDoc())
	if !strings.Contains(clean, `"issues": []`) {
		t.Errorf("empty issues should encode as []:\n%s", clean)
	}
}

func TestMarkdownWriter(t *testing.T) {
	out := render(t, "markdown", sampleDoc())
	for _, want := range []string{
		"## app.js",
		"**Score:** 80/100",
		"| 1 | warning | `js-console` |",
		`a <b> \| c`,
		"```javascript\nconsole.log('x')",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q:\n%s", want, out)
		}
	}
}

func TestMarkdownFenceAvoidsCollision(t *testing.T) {
	doc := cleanDoc()
	doc.Code = "```\n"
	out := render(t, "md", doc)
	if !strings.Contains(out, "````json\n```\n````") {
		t.Errorf("expected a longer fence:\n%s", out)
	}
}

func TestHTMLWriter(t *testing.T) {
	out := render(t, "html", sampleDoc())
	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>app.js</title>",
		`<td class="sev-warning">warning</td>`,
		"a &lt;b&gt; | c",
		"</html>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("html output missing %q", want)
		}
	}
	if strings.Contains(out, "a <b>") {
		t.Error("issue messages must be escaped")
	}

	clean := render(t, "html", cleanDoc())
	if !strings.Contains(clean, `<p class="clean">No issues found.</p>`) {
		t.Error("expected clean message in html")
	}
}

func TestFromReview(t *testing.T) {
	r := model.CodeReview{ID: "abc", Code: "x", Language: model.LanguageCSS}
	doc := FromReview(r)
	if doc.Title != "Review abc" || doc.Language != model.LanguageCSS || doc.Code != "x" {
		t.Errorf("unexpected document %+v", doc)
	}
}
