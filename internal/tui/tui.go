// Package tui implements the Bubble Tea review view.
//
// The view shows the source with syntax highlighting and an issue gutter.
// Analyses run on a worker session; the model only ever waits on the
// session's outcome channel through a tea.Cmd, so the UI never blocks.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/worker"
)

// Options configure the review view.
type Options struct {
	Title    string
	Language model.Language
	Source   string
	// Filename, when set, picks the highlighter from the file name instead
	// of Language.
	Filename string
	// Reload re-reads the source before a re-analysis. Nil keeps Source.
	Reload func() (string, error)
	// Save persists a completed review and returns its ID. Nil disables
	// saving.
	Save func(model.CodeReview) (string, error)
	// Session runs the analyses. The model closes it on quit.
	Session *worker.Session
}

// analyzeMsg asks the model to submit the current source.
type analyzeMsg struct{}

// outcomeMsg carries the outcome of the run started as gen. ok is false
// when the run was cancelled.
type outcomeMsg struct {
	gen     int
	outcome worker.Outcome
	ok      bool
}

type savedMsg struct {
	id  string
	err error
}

// Model is the top-level Bubble Tea model for revpad.
type Model struct {
	opts   Options
	source string

	// UI state
	width  int
	height int

	// Rendered lines for the source
	lines []renderedLine

	scrollOffset int
	viewHeight   int

	// Analysis state
	spinner   spinner.Model
	analyzing bool
	gen       int
	result    *model.ReviewResult
	failure   error
	issue     int // selected issue, -1 when none

	status    string
	showPanel bool
	showHelp  bool
}

// New creates a review model. Analysis starts when the program runs Init.
func New(opts Options) Model {
	if opts.Session == nil {
		opts.Session = worker.NewSession(worker.Options{})
	}
	m := Model{
		opts:      opts,
		source:    opts.Source,
		lines:     renderSource(opts.Source, opts.Language, opts.Filename),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		issue:     -1,
		showPanel: true,
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return analyzeMsg{} }
}

// submit starts an analysis of the current source.
func (m *Model) submit() tea.Cmd {
	ch, err := m.opts.Session.Submit(context.Background(), worker.Request{
		Source:   m.source,
		Language: m.opts.Language,
	})
	if err != nil {
		m.status = err.Error()
		return nil
	}
	m.gen++
	m.analyzing = true
	m.status = ""
	gen := m.gen
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		o, ok := <-ch
		return outcomeMsg{gen: gen, outcome: o, ok: ok}
	})
}

func (m *Model) reanalyze() tea.Cmd {
	if m.analyzing {
		m.status = worker.ErrBusy.Error()
		return nil
	}
	if m.opts.Reload != nil {
		src, err := m.opts.Reload()
		if err != nil {
			m.status = "reload: " + err.Error()
			return nil
		}
		m.source = src
		m.lines = renderSource(src, m.opts.Language, m.opts.Filename)
		if m.scrollOffset >= len(m.lines) {
			m.scrollOffset = 0
		}
	}
	return m.submit()
}

func (m *Model) applyOutcome(msg outcomeMsg) {
	if msg.gen != m.gen {
		return
	}
	m.analyzing = false
	if !msg.ok {
		m.status = "analysis cancelled"
		return
	}
	if msg.outcome.Err != nil {
		m.failure = msg.outcome.Err
		m.result = nil
		attachIssues(m.lines, nil)
		m.issue = -1
		return
	}

	res := msg.outcome.Result
	m.result = &res
	m.failure = nil
	attachIssues(m.lines, res.Issues)
	m.issue = -1
	if len(res.Issues) > 0 {
		m.selectIssue(0)
	}
}

func (m *Model) save() tea.Cmd {
	switch {
	case m.opts.Save == nil:
		m.status = "saving is not available"
		return nil
	case m.result == nil:
		m.status = "nothing to save yet"
		return nil
	}
	review := model.CodeReview{Code: m.source, Language: m.opts.Language, Result: *m.result}
	save := m.opts.Save
	return func() tea.Msg {
		id, err := save(review)
		return savedMsg{id: id, err: err}
	}
}

func (m *Model) issues() []model.Issue {
	if m.result == nil {
		return nil
	}
	return m.result.Issues
}

// selectIssue selects issue i and scrolls its line into view.
func (m *Model) selectIssue(i int) {
	issues := m.issues()
	if i < 0 || i >= len(issues) {
		return
	}
	m.issue = i
	line := issues[i].Line - 1
	if line < m.scrollOffset || line >= m.scrollOffset+m.codeHeight() {
		m.scrollOffset = line - m.codeHeight()/3
	}
	m.clampScroll()
}

func (m *Model) clampScroll() {
	max := len(m.lines) - 1
	if m.scrollOffset > max {
		m.scrollOffset = max
	}
	if m.scrollOffset < 0 {
		m.scrollOffset = 0
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewHeight = m.height - 2 // status bar + gap
		return m, nil

	case analyzeMsg:
		return m, m.submit()

	case outcomeMsg:
		m.applyOutcome(msg)
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.status = "save failed: " + msg.err.Error()
		} else {
			m.status = "saved review " + msg.id
		}
		return m, nil

	case spinner.TickMsg:
		if !m.analyzing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.opts.Session.Close()
			return m, tea.Quit

		case key.Matches(msg, keys.Down):
			if m.scrollOffset < len(m.lines)-1 {
				m.scrollOffset++
			}

		case key.Matches(msg, keys.Up):
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}

		case key.Matches(msg, keys.PageDown):
			m.scrollOffset += m.codeHeight()
			m.clampScroll()

		case key.Matches(msg, keys.PageUp):
			m.scrollOffset -= m.codeHeight()
			m.clampScroll()

		case key.Matches(msg, keys.NextIssue):
			if n := len(m.issues()); n > 0 {
				m.selectIssue((m.issue + 1) % n)
			}

		case key.Matches(msg, keys.PrevIssue):
			if n := len(m.issues()); n > 0 {
				m.selectIssue((m.issue - 1 + n) % n)
			}

		case key.Matches(msg, keys.Reanalyze):
			return m, m.reanalyze()

		case key.Matches(msg, keys.Save):
			return m, m.save()

		case key.Matches(msg, keys.Toggle):
			m.showPanel = !m.showPanel

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}
	}

	return m, nil
}

const panelHeight = 5

// codeHeight is the number of source lines that fit in the code box.
func (m Model) codeHeight() int {
	h := m.viewHeight - 4 // border + header
	if m.showPanel {
		h -= panelHeight
	}
	if h < 1 {
		h = 1
	}
	return h
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	parts := []string{m.renderCode()}
	if m.showPanel {
		parts = append(parts, m.renderPanel())
	}
	parts = append(parts, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderCode() string {
	innerWidth := m.width - 4 // borders + padding
	height := m.codeHeight()

	title := m.opts.Title
	if title == "" {
		title = "untitled"
	}
	var b strings.Builder
	b.WriteString(fileHeaderStyle.Render(fmt.Sprintf("%s  (%s)", title, m.opts.Language)))
	b.WriteByte('\n')

	if len(m.lines) == 0 {
		b.WriteString(suggestionStyle.Render("empty source"))
	}

	selectedLine := 0
	if issues := m.issues(); m.issue >= 0 && m.issue < len(issues) {
		selectedLine = issues[m.issue].Line
	}

	end := m.scrollOffset + height
	if end > len(m.lines) {
		end = len(m.lines)
	}
	for i := m.scrollOffset; i < end; i++ {
		rl := m.lines[i]
		b.WriteString(styleLine(rl, innerWidth, rl.Num == selectedLine))
		if i < end-1 {
			b.WriteByte('\n')
		}
	}

	return codeViewStyle.Width(m.width - 2).Height(height + 2).Render(b.String())
}

func (m Model) renderPanel() string {
	innerWidth := m.width - 4
	var content string
	switch {
	case m.failure != nil:
		content = failureStyle.Render("analysis failed") + "\n" + truncate(m.failure.Error(), innerWidth)
	case m.result == nil:
		content = suggestionStyle.Render("waiting for the first analysis")
	case len(m.result.Issues) == 0:
		content = cleanStyle.Render("No issues found.")
	case m.issue >= 0:
		content = renderIssue(m.result.Issues[m.issue], m.issue, len(m.result.Issues), innerWidth)
	}
	return issuePanelStyle.Width(m.width - 2).Height(panelHeight - 2).Render(content)
}

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.analyzing:
		left = m.spinner.View() + " analysing…"
	case m.failure != nil:
		left = "analysis failed"
	case m.result != nil:
		left = fmt.Sprintf("Score %d  %s", m.result.Score, m.result.Summary)
	}
	if m.status != "" {
		left += "  " + statusMessageStyle.Render(m.status)
	}

	right := fmt.Sprintf("Line %d/%d  ? help ", m.scrollOffset+1, len(m.lines))
	if len(m.lines) == 0 {
		right = "? help "
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder

	b.WriteString(fileHeaderStyle.Render("revpad Keyboard Shortcuts"))
	b.WriteString("\n\n")

	for _, k := range []key.Binding{
		keys.Up, keys.Down, keys.PageUp, keys.PageDown,
		keys.NextIssue, keys.PrevIssue, keys.Reanalyze, keys.Save,
		keys.Toggle, keys.Help, keys.Quit,
	} {
		h := k.Help()
		b.WriteString(fmt.Sprintf("  %s  %s\n", helpKeyStyle.Width(12).Render(h.Key), h.Desc))
	}

	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Press ? to close help"))

	return b.String()
}

// Run starts the review view and blocks until the user quits.
func Run(opts Options) error {
	m := New(opts)
	defer m.opts.Session.Close()
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
