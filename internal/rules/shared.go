package rules

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sprite-ai/revpad/internal/model"
)

// MaxLineLength is the longest line the long-line rule accepts.
const MaxLineLength = 120

var todoPattern = regexp.MustCompile(`\b(TODO|FIXME|HACK|XXX)\b`)

// sharedRules apply to every language with comments and free-form layout.
var sharedRules = []Rule{
	{
		ID:          "todo-marker",
		Severity:    model.SeverityInfo,
		Message:     "{context} marker left in a comment",
		Suggestion:  "Resolve the {context} or track it in an issue",
		Description: "TODO, FIXME, HACK and XXX comments",
		Match:       lineRegex(commentsView, todoPattern),
	},
	{
		ID:          "long-line",
		Severity:    model.SeverityInfo,
		Message:     "Line is {context} characters long",
		Suggestion:  "Wrap the line to at most " + strconv.Itoa(MaxLineLength) + " characters",
		Description: "lines longer than " + strconv.Itoa(MaxLineLength) + " characters",
		Match:       lineFunc(rawView, longLine),
	},
	{
		ID:          "trailing-whitespace",
		Severity:    model.SeverityInfo,
		Message:     "Trailing whitespace",
		Suggestion:  "Strip whitespace at the end of the line",
		Description: "spaces or tabs before the line break",
		Match:       lineFunc(rawView, trailingWhitespace),
	},
}

func longLine(line string) (string, bool) {
	n := utf8.RuneCountInString(line)
	if n > MaxLineLength {
		return strconv.Itoa(n), true
	}
	return "", false
}

func trailingWhitespace(line string) (string, bool) {
	if line != strings.TrimRight(line, " \t") {
		return "", true
	}
	return "", false
}
