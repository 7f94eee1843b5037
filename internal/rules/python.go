package rules

import (
	"regexp"
	"strings"

	"github.com/sprite-ai/revpad/internal/model"
)

var (
	pyPrintPattern          = regexp.MustCompile(`^\s*(print)\s*\(`)
	pyBareExceptPattern     = regexp.MustCompile(`^\s*except\s*:`)
	pyBroadExceptPattern    = regexp.MustCompile(`^\s*except\s+\(?\s*(BaseException|Exception)\b`)
	pyExceptPattern         = regexp.MustCompile(`^\s*except\b[^:]*:\s*(pass)?\s*$`)
	pyGlobalPattern         = regexp.MustCompile(`^\s*global\s+([A-Za-z_][\w\s,]*)`)
	pyEvalPattern           = regexp.MustCompile(`(?:^|[^\w.])(eval|exec)\s*\(`)
	pyWildcardImportPattern = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+\*`)
	pyMutableDefaultPattern = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(.*=\s*(?:\[\s*\]|\{\s*\}|list\(\)|dict\(\)|set\(\))`)
	pyNoneComparePattern    = regexp.MustCompile(`([=!]=)\s*None\b`)
)

var pythonRules = []Rule{
	{
		ID:          "py-print",
		Severity:    model.SeverityWarning,
		Message:     "Debug output left in code: print()",
		Suggestion:  "Use the logging module instead of print",
		Description: "print calls",
		Match:       lineRegex(codeView, pyPrintPattern),
	},
	{
		ID:          "py-bare-except",
		Severity:    model.SeverityWarning,
		Message:     "Bare except also catches KeyboardInterrupt and SystemExit",
		Suggestion:  "Catch the specific exception types you expect",
		Description: "except clauses without a type",
		Match:       lineRegex(codeView, pyBareExceptPattern),
	},
	{
		ID:          "py-broad-except",
		Severity:    model.SeverityInfo,
		Message:     "Broad exception handler catches {context}",
		Suggestion:  "Narrow the handler to the exceptions this block can raise",
		Description: "except Exception clauses",
		Match:       lineRegex(codeView, pyBroadExceptPattern),
	},
	{
		ID:          "py-empty-except",
		Severity:    model.SeverityWarning,
		Message:     "Exception handler only contains pass",
		Suggestion:  "Log or handle the exception instead of silently discarding it",
		Description: "except blocks whose body is pass",
		Match:       pyEmptyExcept,
	},
	{
		ID:          "py-global",
		Severity:    model.SeverityWarning,
		Message:     "Function rebinds global state: {context}",
		Suggestion:  "Pass {context} as an argument or keep it on an object",
		Description: "global statements",
		Match:       lineRegex(codeView, pyGlobalPattern),
	},
	{
		ID:          "py-eval",
		Severity:    model.SeverityError,
		Message:     "Dynamic code execution via {context}()",
		Suggestion:  "Use ast.literal_eval or explicit parsing instead of {context}()",
		Description: "eval and exec calls",
		Match:       lineRegex(codeView, pyEvalPattern),
	},
	{
		ID:          "py-wildcard-import",
		Severity:    model.SeverityWarning,
		Message:     "Wildcard import from {context}",
		Suggestion:  "Import the names you use from {context} explicitly",
		Description: "from x import *",
		Match:       lineRegex(codeView, pyWildcardImportPattern),
	},
	{
		ID:          "py-mutable-default",
		Severity:    model.SeverityWarning,
		Message:     "Mutable default argument in {context}()",
		Suggestion:  "Default to None and create the container inside {context}()",
		Description: "list, dict or set literals as parameter defaults",
		Match:       lineRegex(codeView, pyMutableDefaultPattern),
	},
	{
		ID:          "py-none-compare",
		Severity:    model.SeverityInfo,
		Message:     "Comparison to None with {context}",
		Suggestion:  "Use 'is None' or 'is not None'",
		Description: "== None and != None",
		Match:       lineRegex(codeView, pyNoneComparePattern),
	},
	{
		ID:          "py-mixed-indent",
		Severity:    model.SeverityWarning,
		Message:     "Indentation mixes tabs and spaces",
		Suggestion:  "Indent with four spaces only",
		Description: "lines indented with both tabs and spaces",
		Match:       lineFunc(rawView, mixedIndent),
	},
}

func mixedIndent(line string) (string, bool) {
	indent := indentOf(line)
	if strings.ContainsRune(indent, '\t') && strings.ContainsRune(indent, ' ') {
		return "", true
	}
	return "", false
}

// pyEmptyExcept flags except clauses whose whole body is a single pass,
// either inline or on the following line.
func pyEmptyExcept(src *Source) []Match {
	lines := src.Code
	var out []Match
	for i, line := range lines {
		m := pyExceptPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hit := Match{Line: i + 1, Context: strings.TrimSpace(src.Raw[i])}
		if m[1] == "pass" {
			out = append(out, hit)
			continue
		}

		// Find the first body line, then make sure nothing else follows
		// at the body's indentation.
		j := nextNonBlank(lines, i+1)
		if j < 0 || strings.TrimSpace(lines[j]) != "pass" {
			continue
		}
		bodyIndent := len(indentOf(lines[j]))
		k := nextNonBlank(lines, j+1)
		if k < 0 || len(indentOf(lines[k])) < bodyIndent {
			out = append(out, hit)
		}
	}
	return out
}

func nextNonBlank(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}
