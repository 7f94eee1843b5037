package rules

import (
	"regexp"

	"github.com/sprite-ai/revpad/internal/model"
)

var (
	cssImportantPattern = regexp.MustCompile(`!\s*important\b`)
	cssIDPattern        = regexp.MustCompile(`^\s*(#[A-Za-z_][\w-]*)[^{};]*\{`)
	cssBlockPattern     = regexp.MustCompile(`^\s*[^{}\s]`)
	cssZeroUnitPattern  = regexp.MustCompile(`(?:^|[\s:(,])(0(?:px|em|rem|pt|pc|cm|mm|in|ex|ch|vh|vw|vmin|vmax))\b`)
	cssVendorPattern    = regexp.MustCompile(`(?:^|[\s;{:(,])(-(?:webkit|moz|ms|o)-[\w-]+)`)
	cssUniversalPattern = regexp.MustCompile(`^\s*\*\s*(?:\{|,|$)`)
)

var cssRules = []Rule{
	{
		ID:          "css-important",
		Severity:    model.SeverityWarning,
		Message:     "!important overrides the cascade",
		Suggestion:  "Raise the selector's specificity instead of using !important",
		Description: "!important declarations",
		Match:       lineRegex(codeView, cssImportantPattern),
	},
	{
		ID:          "css-id-selector",
		Severity:    model.SeverityInfo,
		Message:     "ID selector {context} has very high specificity",
		Suggestion:  "Style {context} through a class selector",
		Description: "rules keyed on an id",
		Match:       lineRegex(codeView, cssIDPattern),
	},
	{
		ID:          "css-empty-rule",
		Severity:    model.SeverityWarning,
		Message:     "Empty rule set: {context}",
		Suggestion:  "Delete the empty rule",
		Description: "rule sets with no declarations",
		Match:       emptyBlock(codeView, cssBlockPattern),
	},
	{
		ID:          "css-zero-unit",
		Severity:    model.SeverityInfo,
		Message:     "Unit on zero length: {context}",
		Suggestion:  "Write 0 without a unit",
		Description: "0px and friends",
		Match:       lineRegex(codeView, cssZeroUnitPattern),
	},
	{
		ID:          "css-vendor-prefix",
		Severity:    model.SeverityInfo,
		Message:     "Vendor-prefixed property {context}",
		Suggestion:  "Use the standard property and let a build step add prefixes",
		Description: "-webkit-, -moz-, -ms- and -o- prefixes",
		Match:       lineRegex(codeView, cssVendorPattern),
	},
	{
		ID:          "css-universal-selector",
		Severity:    model.SeverityInfo,
		Message:     "Universal selector matches every element",
		Suggestion:  "Scope the rule to the elements that need it",
		Description: "bare * selectors",
		Match:       lineRegex(codeView, cssUniversalPattern),
	},
}
