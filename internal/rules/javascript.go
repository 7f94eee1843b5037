package rules

import (
	"regexp"

	"github.com/sprite-ai/revpad/internal/model"
)

var (
	jsConsolePattern      = regexp.MustCompile(`\bconsole\.(log|debug|info|trace|dir|table)\s*\(`)
	jsDebuggerPattern     = regexp.MustCompile(`(?:^|[^\w$.])(debugger)\b`)
	jsLooseEqualPattern   = regexp.MustCompile(`(?:^|[^=!<>])(==|!=)(?:[^=]|$)`)
	jsVarPattern          = regexp.MustCompile(`(?:^|[^\w$.])var\s+([A-Za-z_$][\w$]*)`)
	jsEvalPattern         = regexp.MustCompile(`(?:^|[^\w$.])(eval\s*\(|new\s+Function\s*\()`)
	jsCatchPattern        = regexp.MustCompile(`\bcatch\b`)
	jsDialogPattern       = regexp.MustCompile(`(?:^|[^\w$.])(alert|confirm|prompt)\s*\(`)
	jsChildProcessPattern = regexp.MustCompile(`(?:require\s*\(\s*|from\s+)["'](?:node:)?child_process["']`)
)

var javascriptRules = []Rule{
	{
		ID:          "js-console",
		Severity:    model.SeverityWarning,
		Message:     "Debug output left in code: console.{context}()",
		Suggestion:  "Remove the console.{context} call or route the message through a logger",
		Description: "console logging calls",
		Match:       lineRegex(codeView, jsConsolePattern),
	},
	{
		ID:          "js-debugger",
		Severity:    model.SeverityError,
		Message:     "debugger statement pauses execution when devtools are open",
		Suggestion:  "Delete the debugger statement before shipping",
		Description: "debugger statements",
		Match:       lineRegex(codeView, jsDebuggerPattern),
	},
	{
		ID:          "js-loose-equality",
		Severity:    model.SeverityWarning,
		Message:     "Loose equality operator {context} coerces types",
		Suggestion:  "Use {context}= for a strict comparison",
		Description: "== and != comparisons",
		Match:       lineRegex(codeView, jsLooseEqualPattern),
	},
	{
		ID:          "js-var",
		Severity:    model.SeverityInfo,
		Message:     "Function-scoped var declaration of {context}",
		Suggestion:  "Declare {context} with let or const",
		Description: "var declarations",
		Match:       lineRegex(codeView, jsVarPattern),
	},
	{
		ID:          "js-eval",
		Severity:    model.SeverityError,
		Message:     "Dynamic code execution via {context}",
		Suggestion:  "Replace dynamic evaluation with explicit parsing or a lookup table",
		Description: "eval and new Function",
		Match:       lineRegex(codeView, jsEvalPattern),
	},
	{
		ID:          "js-empty-catch",
		Severity:    model.SeverityWarning,
		Message:     "Empty catch block swallows the error",
		Suggestion:  "Handle the error, log it, or rethrow it",
		Description: "catch blocks with no statements",
		Match:       emptyBlock(codeView, jsCatchPattern),
	},
	{
		ID:          "js-alert",
		Severity:    model.SeverityInfo,
		Message:     "Blocking browser dialog {context}()",
		Suggestion:  "Show the message in the page instead of a modal {context}() dialog",
		Description: "alert, confirm and prompt dialogs",
		Match:       lineRegex(codeView, jsDialogPattern),
	},
	{
		ID:          "js-child-process",
		Severity:    model.SeverityWarning,
		Message:     "Module spawns subprocesses through child_process",
		Suggestion:  "Validate every argument that reaches child_process and prefer execFile over exec",
		Description: "child_process imports",
		Match:       lineRegex(noCommentsView, jsChildProcessPattern),
	},
}
