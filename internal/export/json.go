package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/sprite-ai/revpad/internal/model"
)

// JSONWriter outputs the document as indented JSON.
type JSONWriter struct{}

type jsonDocument struct {
	Title     string               `json:"title,omitempty"`
	Language  model.Language       `json:"language,omitempty"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
	Counts    model.SeverityCounts `json:"counts"`
	Issues    []model.Issue        `json:"issues"`
	Score     int                  `json:"score"`
	Summary   string               `json:"summary"`
	Code      string               `json:"code,omitempty"`
}

func (j *JSONWriter) Write(w io.Writer, doc Document) error {
	out := jsonDocument{
		Title:    doc.Title,
		Language: doc.Language,
		Counts:   doc.Result.Counts(),
		Issues:   doc.Result.Issues,
		Score:    doc.Result.Score,
		Summary:  doc.Result.Summary,
		Code:     doc.Code,
	}
	if out.Issues == nil {
		out.Issues = []model.Issue{}
	}
	if !doc.Timestamp.IsZero() {
		ts := doc.Timestamp.UTC()
		out.Timestamp = &ts
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
