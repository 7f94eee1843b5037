// Package rules declares the per-language detection rules used by the analyzer.
//
// A Rule pairs a matcher, which scans a Source and reports (line, context)
// matches, with an issue template. Matchers are independent and side-effect
// free. They must not fail on any input: an empty source, a missing final
// newline or binary bytes simply produce no matches.
//
// The default catalog is built once at init and is read-only afterwards, so
// it can be shared by any number of concurrent analyses.
package rules

import (
	"sort"
	"strings"

	"github.com/sprite-ai/revpad/internal/model"
)

// Scope says how much of a document a rule needs to see.
type Scope int

const (
	// ScopeLine rules judge each line on its own.
	ScopeLine Scope = iota
	// ScopeDocument rules need the whole document, e.g. a missing declaration.
	ScopeDocument
)

func (s Scope) String() string {
	if s == ScopeDocument {
		return "document"
	}
	return "line"
}

// Match is a single matcher hit.
type Match struct {
	Line    int
	Context string
}

// Matcher scans a source and returns its hits.
type Matcher func(src *Source) []Match

// Rule detects one pattern in one language. Message and Suggestion may
// contain a {context} placeholder that is replaced by the match context.
type Rule struct {
	ID          string
	Severity    model.Severity
	Message     string
	Suggestion  string
	Description string
	Scope       Scope
	Match       Matcher
}

// Issue renders the template for a match.
func (r Rule) Issue(m Match) model.Issue {
	return model.Issue{
		Line:       m.Line,
		Severity:   r.Severity,
		Message:    expand(r.Message, m.Context),
		Suggestion: expand(r.Suggestion, m.Context),
		Rule:       r.ID,
	}
}

func expand(tmpl, context string) string {
	return strings.ReplaceAll(tmpl, "{context}", context)
}

// Catalog maps each language to its ordered rules.
type Catalog struct {
	byLang map[model.Language][]Rule
	byID   map[string]Rule
}

// NewCatalog builds a catalog from per-language rule lists. The order of each
// list is the declaration order used to break ties between issues.
func NewCatalog(sets map[model.Language][]Rule) *Catalog {
	c := &Catalog{
		byLang: make(map[model.Language][]Rule, len(sets)),
		byID:   make(map[string]Rule),
	}
	for lang, rs := range sets {
		c.byLang[lang] = append([]Rule(nil), rs...)
		for _, r := range rs {
			c.byID[r.ID] = r
		}
	}
	return c
}

// For returns the rules for a language. A language without rules yields an
// empty list.
func (c *Catalog) For(lang model.Language) []Rule {
	return append([]Rule(nil), c.byLang[lang]...)
}

// Lookup finds a rule by ID.
func (c *Catalog) Lookup(id string) (Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// LanguagesOf returns the languages a rule is declared for.
func (c *Catalog) LanguagesOf(id string) []model.Language {
	var out []model.Language
	for _, lang := range model.Languages() {
		for _, r := range c.byLang[lang] {
			if r.ID == id {
				out = append(out, lang)
				break
			}
		}
	}
	return out
}

// All returns every rule once, sorted by ID.
func (c *Catalog) All() []Rule {
	out := make([]Rule, 0, len(c.byID))
	for _, id := range c.IDs() {
		out = append(out, c.byID[id])
	}
	return out
}

// IDs returns every rule ID, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var defaultCatalog = NewCatalog(map[model.Language][]Rule{
	model.LanguageJavaScript: withShared(javascriptRules),
	model.LanguagePython:     withShared(pythonRules),
	model.LanguageHTML:       withShared(htmlRules),
	model.LanguageCSS:        withShared(cssRules),
	model.LanguageJSON:       jsonRules,
})

// Default returns the built-in catalog.
func Default() *Catalog {
	return defaultCatalog
}

// For returns the built-in rules for a language.
func For(lang model.Language) []Rule {
	return defaultCatalog.For(lang)
}

// All returns every built-in rule.
func All() []Rule {
	return defaultCatalog.All()
}

// Lookup finds a built-in rule by ID.
func Lookup(id string) (Rule, bool) {
	return defaultCatalog.Lookup(id)
}

func withShared(rs []Rule) []Rule {
	out := make([]Rule, 0, len(rs)+len(sharedRules))
	out = append(out, rs...)
	return append(out, sharedRules...)
}
