package rules

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/sprite-ai/revpad/internal/model"
)

// Source is a source text split into 1-based lines, with several views of
// each line. All views have the same length as Raw.
type Source struct {
	Text string

	// Raw holds the lines as written.
	Raw []string
	// Code blanks out comments and string literals.
	Code []string
	// NoComments blanks out comments only.
	NoComments []string
	// Comments keeps comment text only.
	Comments []string
}

// Lines returns the number of lines in the source.
func (s *Source) Lines() int {
	return len(s.Raw)
}

// SplitLines splits text on newlines. A trailing newline does not start a new
// line and a trailing carriage return is dropped from every line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// NewSource builds the line views for text in the given language. When no
// lexer is available, or lexing fails, every view falls back to the raw lines.
func NewSource(text string, lang model.Language) *Source {
	raw := SplitLines(text)
	src := &Source{
		Text:       text,
		Raw:        raw,
		Code:       raw,
		NoComments: raw,
		Comments:   raw,
	}
	if len(raw) == 0 {
		return src
	}

	lexer := languageLexers[lang]
	if lexer == nil {
		return src
	}

	if code, noComments, comments, ok := maskTokens(lexer, text, len(raw)); ok {
		src.Code = code
		src.NoComments = noComments
		src.Comments = comments
	}
	return src
}

func maskTokens(lexer chroma.Lexer, text string, n int) (code, noComments, comments []string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			code, noComments, comments, ok = nil, nil, nil, false
		}
	}()

	// EnsureLF would turn a lone \r into a line break that Raw does not have.
	iterator, err := lexer.Tokenise(&chroma.TokeniseOptions{State: "root"}, text)
	if err != nil {
		return nil, nil, nil, false
	}

	var cb, nb, mb strings.Builder
	for _, token := range iterator.Tokens() {
		switch {
		case token.Type.InCategory(chroma.Comment):
			blanked := blank(token.Value)
			cb.WriteString(blanked)
			nb.WriteString(blanked)
			mb.WriteString(token.Value)
		case token.Type.InSubCategory(chroma.LiteralString):
			cb.WriteString(blank(token.Value))
			nb.WriteString(token.Value)
			mb.WriteString(blank(token.Value))
		default:
			cb.WriteString(token.Value)
			nb.WriteString(token.Value)
			mb.WriteString(blank(token.Value))
		}
	}

	return fit(cb.String(), n), fit(nb.String(), n), fit(mb.String(), n), true
}

// blank replaces every rune except newlines with a space.
func blank(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		return ' '
	}, s)
}

// fit splits s into exactly n lines.
func fit(s string, n int) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, n)
	for i := 0; i < n && i < len(lines); i++ {
		out[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return out
}

// languageLexers is resolved once; chroma lexers are safe for concurrent use.
var languageLexers = map[model.Language]chroma.Lexer{
	model.LanguageJavaScript: lexers.Get("javascript"),
	model.LanguagePython:     lexers.Get("python"),
	model.LanguageHTML:       lexers.Get("html"),
	model.LanguageCSS:        lexers.Get("css"),
	model.LanguageJSON:       lexers.Get("json"),
}

var lexerLanguages = map[string]model.Language{
	"JavaScript": model.LanguageJavaScript,
	"Python":     model.LanguagePython,
	"HTML":       model.LanguageHTML,
	"CSS":        model.LanguageCSS,
	"JSON":       model.LanguageJSON,
}

var extLanguages = map[string]model.Language{
	".js":   model.LanguageJavaScript,
	".mjs":  model.LanguageJavaScript,
	".cjs":  model.LanguageJavaScript,
	".jsx":  model.LanguageJavaScript,
	".py":   model.LanguagePython,
	".pyw":  model.LanguagePython,
	".html": model.LanguageHTML,
	".htm":  model.LanguageHTML,
	".css":  model.LanguageCSS,
	".json": model.LanguageJSON,
}

// DetectLanguage guesses the language of a file from its name.
func DetectLanguage(filename string) (model.Language, bool) {
	base := filepath.Base(filename)
	if lexer := lexers.Match(base); lexer != nil {
		if lang, ok := lexerLanguages[lexer.Config().Name]; ok {
			return lang, true
		}
	}
	lang, ok := extLanguages[strings.ToLower(filepath.Ext(base))]
	return lang, ok
}
