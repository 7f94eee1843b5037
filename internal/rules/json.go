package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sprite-ai/revpad/internal/model"
)

var jsonRules = []Rule{
	{
		ID:          "json-syntax",
		Severity:    model.SeverityError,
		Message:     "Invalid JSON: {context}",
		Suggestion:  "Check for trailing commas, unquoted keys, single quotes or unbalanced brackets near this line",
		Description: "documents that do not parse",
		Scope:       ScopeDocument,
		Match:       jsonSyntax,
	},
	{
		ID:          "json-duplicate-key",
		Severity:    model.SeverityWarning,
		Message:     "Duplicate key \"{context}\"",
		Suggestion:  "Remove or rename one of the \"{context}\" members; most parsers keep only the last one",
		Description: "repeated keys within one object",
		Scope:       ScopeDocument,
		Match:       jsonDuplicateKeys,
	},
	{
		ID:          "json-unpinned-dependency",
		Severity:    model.SeverityWarning,
		Message:     "Dependency {context} is not pinned to a version",
		Suggestion:  "Pin {context} to a semver range such as ^1.2.3",
		Description: "\"*\" or \"latest\" versions in package manifests",
		Scope:       ScopeDocument,
		Match:       jsonUnpinnedDeps,
	},
}

// lineAt converts a byte offset into a 1-based line number.
func lineAt(text string, offset int64) int {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	return strings.Count(text[:offset], "\n") + 1
}

// clampLine keeps a line number within the source.
func clampLine(line, lines int) int {
	if line > lines {
		line = lines
	}
	if line < 1 {
		line = 1
	}
	return line
}

func jsonSyntax(src *Source) []Match {
	if strings.TrimSpace(src.Text) == "" {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(src.Text))
	var v any
	err := dec.Decode(&v)
	if err == nil {
		var extra any
		if err2 := dec.Decode(&extra); err2 != io.EOF {
			line := lineAt(src.Text, dec.InputOffset())
			return []Match{{Line: clampLine(line, src.Lines()), Context: "unexpected data after the top-level value"}}
		}
		return nil
	}

	offset := int64(len(src.Text))
	msg := err.Error()
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		offset = syntaxErr.Offset - 1
		msg = syntaxErr.Error()
	} else if errors.Is(err, io.ErrUnexpectedEOF) {
		msg = "unexpected end of input"
	}
	line := lineAt(src.Text, offset)
	return []Match{{Line: clampLine(line, src.Lines()), Context: msg}}
}

// jsonVisitor receives members while walking a JSON document. parent is the
// member name that holds the enclosing object.
type jsonVisitor struct {
	key   func(key, parent string, dup bool, offset int64)
	value func(key, parent string, value any, offset int64)
}

type jsonFrame struct {
	object  bool
	name    string
	wantKey bool
	pending string
	keys    map[string]struct{}
}

// walkJSON streams tokens until the document ends or the first error. It
// never fails; malformed input just ends the walk early.
func walkJSON(text string, v jsonVisitor) {
	dec := json.NewDecoder(strings.NewReader(text))
	var stack []*jsonFrame

	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		var top *jsonFrame
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}

		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				f := &jsonFrame{object: d == '{', wantKey: d == '{'}
				if f.object {
					f.keys = make(map[string]struct{})
				}
				if top != nil && top.object {
					f.name = top.pending
					top.wantKey = true
				}
				stack = append(stack, f)
			case '}', ']':
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
			continue
		}

		if top == nil || !top.object {
			continue
		}
		if top.wantKey {
			key, _ := tok.(string)
			_, dup := top.keys[key]
			top.keys[key] = struct{}{}
			top.pending = key
			top.wantKey = false
			if v.key != nil {
				v.key(key, top.name, dup, dec.InputOffset())
			}
			continue
		}
		if v.value != nil {
			v.value(top.pending, top.name, tok, dec.InputOffset())
		}
		top.wantKey = true
	}
}

func jsonDuplicateKeys(src *Source) []Match {
	if strings.TrimSpace(src.Text) == "" {
		return nil
	}
	var out []Match
	walkJSON(src.Text, jsonVisitor{
		key: func(key, _ string, dup bool, offset int64) {
			if dup {
				line := clampLine(lineAt(src.Text, offset), src.Lines())
				out = append(out, Match{Line: line, Context: key})
			}
		},
	})
	return out
}

var dependencySections = map[string]bool{
	"dependencies":         true,
	"devDependencies":      true,
	"peerDependencies":     true,
	"optionalDependencies": true,
}

func jsonUnpinnedDeps(src *Source) []Match {
	if strings.TrimSpace(src.Text) == "" {
		return nil
	}
	var out []Match
	walkJSON(src.Text, jsonVisitor{
		value: func(key, parent string, value any, offset int64) {
			if !dependencySections[parent] {
				return
			}
			version, ok := value.(string)
			if !ok {
				return
			}
			switch strings.TrimSpace(version) {
			case "", "*", "latest", "x":
				line := clampLine(lineAt(src.Text, offset), src.Lines())
				out = append(out, Match{Line: line, Context: fmt.Sprintf("%q", key)})
			}
		},
	})
	return out
}
