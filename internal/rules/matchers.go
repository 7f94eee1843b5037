package rules

import (
	"regexp"
	"strings"
)

// view selects which line view of a Source a matcher reads.
type view func(src *Source) []string

func rawView(src *Source) []string        { return src.Raw }
func codeView(src *Source) []string       { return src.Code }
func noCommentsView(src *Source) []string { return src.NoComments }
func commentsView(src *Source) []string   { return src.Comments }

// lineRegex reports every line of v that re matches. The context is the
// first capture group when the pattern has one, else the whole match.
func lineRegex(v view, re *regexp.Regexp) Matcher {
	return func(src *Source) []Match {
		var out []Match
		for i, line := range v(src) {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			ctx := m[0]
			if len(m) > 1 && m[1] != "" {
				ctx = m[1]
			}
			out = append(out, Match{Line: i + 1, Context: strings.TrimSpace(ctx)})
		}
		return out
	}
}

// lineFunc reports every line of v for which check returns true.
func lineFunc(v view, check func(line string) (string, bool)) Matcher {
	return func(src *Source) []Match {
		var out []Match
		for i, line := range v(src) {
			if ctx, ok := check(line); ok {
				out = append(out, Match{Line: i + 1, Context: ctx})
			}
		}
		return out
	}
}

// emptyBlock reports lines where opener matches and the brace block that
// follows it is empty, either on the same line or on the next non-blank line.
func emptyBlock(v view, opener *regexp.Regexp) Matcher {
	return func(src *Source) []Match {
		lines := v(src)
		var out []Match
		for i, line := range lines {
			loc := opener.FindStringIndex(line)
			if loc == nil {
				continue
			}
			rest := line[loc[0]:]
			brace := strings.IndexByte(rest, '{')
			if brace < 0 {
				continue
			}
			hit := Match{Line: i + 1, Context: strings.TrimSpace(src.Raw[i])}

			after := strings.TrimSpace(rest[brace+1:])
			if after != "" {
				if strings.HasPrefix(after, "}") {
					out = append(out, hit)
				}
				continue
			}
			for j := i + 1; j < len(lines); j++ {
				next := strings.TrimSpace(lines[j])
				if next == "" {
					continue
				}
				if strings.HasPrefix(next, "}") {
					out = append(out, hit)
				}
				break
			}
		}
		return out
	}
}

// indentOf returns the leading whitespace of a line.
func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
