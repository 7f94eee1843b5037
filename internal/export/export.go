// Package export renders a review as text, JSON, Markdown or HTML.
package export

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sprite-ai/revpad/internal/model"
)

// Document is everything a report can show.
type Document struct {
	Title     string
	Language  model.Language
	Code      string
	Result    model.ReviewResult
	Timestamp time.Time
}

// FromReview builds a document for a stored review.
func FromReview(r model.CodeReview) Document {
	return Document{
		Title:     "Review " + r.ID,
		Language:  r.Language,
		Code:      r.Code,
		Result:    r.Result,
		Timestamp: r.Timestamp,
	}
}

// Writer writes a document in one format.
type Writer interface {
	Write(w io.Writer, doc Document) error
}

// Formats lists the accepted format names.
func Formats() []string {
	return []string{"text", "json", "markdown", "html"}
}

// Get returns the writer for a format. Text output is unstyled; use
// TextWriter directly to enable colour.
func Get(format string) (Writer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "markdown", "md":
		return &MarkdownWriter{}, nil
	case "html":
		return &HTMLWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// ContentType returns the MIME type for a format.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return "application/json"
	case "markdown", "md":
		return "text/markdown; charset=utf-8"
	case "html":
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// WriteFile writes doc to path, or to stdout when path is empty.
func WriteFile(doc Document, format, path string) error {
	writer, err := Get(format)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writer.Write(w, doc)
}

// errWriter wraps an io.Writer and keeps the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	ew.printf("%s\n", s)
}

func title(doc Document) string {
	if doc.Title != "" {
		return doc.Title
	}
	return "Code Review"
}
