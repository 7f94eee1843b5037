package rules

import (
	"regexp"
	"strings"

	"github.com/sprite-ai/revpad/internal/model"
)

var (
	htmlDoctypePattern    = regexp.MustCompile(`(?i)<!doctype\s+html`)
	htmlImgPattern        = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	htmlAltPattern        = regexp.MustCompile(`(?i)\salt\s*=`)
	htmlRootPattern       = regexp.MustCompile(`(?i)<html\b[^>]*>`)
	htmlLangPattern       = regexp.MustCompile(`(?i)\slang\s*=`)
	htmlStylePattern      = regexp.MustCompile(`(?i)<[a-z][^>]*\sstyle\s*=`)
	htmlHandlerPattern    = regexp.MustCompile(`(?i)<[a-z][^>]*\s(on[a-z]+)\s*=`)
	htmlDeprecatedPattern = regexp.MustCompile(`(?i)<(font|center|marquee|blink|big|strike|tt|frame|frameset)\b`)
	htmlInsecurePattern   = regexp.MustCompile(`(?i)\ssrc\s*=\s*["']?(http://[^"'\s>]+)`)
)

var htmlRules = []Rule{
	{
		ID:          "html-doctype",
		Severity:    model.SeverityWarning,
		Message:     "Document has no <!DOCTYPE html> declaration",
		Suggestion:  "Start the document with <!DOCTYPE html> so browsers use standards mode",
		Description: "missing doctype",
		Scope:       ScopeDocument,
		Match:       htmlMissingDoctype,
	},
	{
		ID:          "html-img-alt",
		Severity:    model.SeverityWarning,
		Message:     "Image has no alt text",
		Suggestion:  "Add an alt attribute describing the image, or alt=\"\" if it is decorative",
		Description: "img tags without alt",
		Match:       tagMissing(htmlImgPattern, htmlAltPattern),
	},
	{
		ID:          "html-lang",
		Severity:    model.SeverityInfo,
		Message:     "<html> element does not declare a language",
		Suggestion:  "Add a lang attribute such as lang=\"en\"",
		Description: "html element without lang",
		Match:       tagMissing(htmlRootPattern, htmlLangPattern),
	},
	{
		ID:          "html-inline-style",
		Severity:    model.SeverityInfo,
		Message:     "Inline style attribute",
		Suggestion:  "Move the declarations into a stylesheet class",
		Description: "style attributes",
		Match:       lineRegex(noCommentsView, htmlStylePattern),
	},
	{
		ID:          "html-inline-handler",
		Severity:    model.SeverityInfo,
		Message:     "Inline {context} event handler",
		Suggestion:  "Attach the {context} handler with addEventListener in a script",
		Description: "on* attributes",
		Match:       lineRegex(noCommentsView, htmlHandlerPattern),
	},
	{
		ID:          "html-deprecated-tag",
		Severity:    model.SeverityWarning,
		Message:     "Deprecated <{context}> element",
		Suggestion:  "Replace <{context}> with semantic markup and CSS",
		Description: "obsolete presentational elements",
		Match:       lineRegex(noCommentsView, htmlDeprecatedPattern),
	},
	{
		ID:          "html-insecure-src",
		Severity:    model.SeverityWarning,
		Message:     "Resource loaded over plain HTTP: {context}",
		Suggestion:  "Load the resource over https",
		Description: "http:// src attributes",
		Match:       lineRegex(noCommentsView, htmlInsecurePattern),
	},
}

func htmlMissingDoctype(src *Source) []Match {
	if strings.TrimSpace(src.Text) == "" {
		return nil
	}
	if htmlDoctypePattern.MatchString(src.Text) {
		return nil
	}
	return []Match{{Line: 1}}
}

// tagMissing reports tags matched by tag that lack the attribute matched by attr.
func tagMissing(tag, attr *regexp.Regexp) Matcher {
	return func(src *Source) []Match {
		var out []Match
		for i, line := range src.NoComments {
			for _, t := range tag.FindAllString(line, -1) {
				if !attr.MatchString(t) {
					out = append(out, Match{Line: i + 1, Context: t})
				}
			}
		}
		return out
	}
}
