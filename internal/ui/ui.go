package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/wsx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ConfirmView ViewState = iota
	RunView
	ResultView
)

// recentLines is how many finished users the run view keeps on screen.
const recentLines = 8

// RunFunc executes one export or import, reporting progress on the channel.
type RunFunc func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.RunReport, error)

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	title   string
	summary string
	run     RunFunc
	view    ViewState
	width   int
	height  int

	spinner      spinner.Model
	bar          progress.Model
	progressChan <-chan tasks.ProgressUpdate
	doneChan     <-chan runOutcome
	progress     tasks.ProgressUpdate
	finished     []string

	results list.Model
	report  *tasks.RunReport
	err     error
	help    help.Model
	keys    keyMap
}

// NewModel creates a TUI that asks for confirmation and then invokes run.
//
// title names the operation ("Export", "Import") and summary describes its
// target (server, snapshot path, dry run).
func NewModel(ctx context.Context, title, summary string, run RunFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.title.UnsetMarginBottom()

	return &Model{
		ctx:     ctx,
		title:   title,
		summary: summary,
		run:     run,
		view:    ConfirmView,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Result returns the last run's report and error, once the program has exited.
func (m *Model) Result() (*tasks.RunReport, error) { return m.report, m.err }

// Init has nothing to fetch; the model waits for confirmation.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-4, 10)
		if m.view == ResultView {
			m.results.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case RunView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != RunView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			update := msg.data.(tasks.ProgressUpdate)
			m.progress = update
			if update.Phase == tasks.UserDone {
				m.finished = append(m.finished, update.Message)
			}
			return m, m.waitForProgress()

		case MsgRunComplete:
			out := msg.data.(runOutcome)
			m.report = out.report
			m.err = out.err
			m.progressChan = nil
			m.doneChan = nil
			m.results = list.New(resultItems(out.report), list.NewDefaultDelegate(), 0, 0)
			m.results.Title = fmt.Sprintf("%s results", m.title)
			m.results.SetSize(m.width-4, m.height-8)
			m.view = ResultView
			return m, nil
		}
	}

	if m.view == ResultView {
		var cmd tea.Cmd
		m.results, cmd = m.results.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ConfirmView:
		return m.renderConfirm()
	case RunView:
		return m.renderRun()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = RunView
		return m, m.startRun()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.results.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.results, cmd = m.results.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.view = ConfirmView
		m.progress = tasks.ProgressUpdate{}
		m.finished = nil
		return m, nil
	}

	var cmd tea.Cmd
	m.results, cmd = m.results.Update(msg)
	return m, cmd
}

func (m *Model) startRun() tea.Cmd {
	progressChan := make(chan tasks.ProgressUpdate, 64)
	doneChan := make(chan runOutcome, 1)
	m.progressChan = progressChan
	m.doneChan = doneChan

	go func() {
		report, err := m.run(m.ctx, progressChan)
		close(progressChan)
		doneChan <- runOutcome{report: report, err: err}
	}()

	return tea.Batch(m.spinner.Tick, m.waitForProgress())
}

// waitForProgress relays the next update, then the run's outcome once the channel closes.
func (m *Model) waitForProgress() tea.Cmd {
	progressChan, doneChan := m.progressChan, m.doneChan
	return func() tea.Msg {
		if progressChan == nil {
			return nil
		}
		if update, ok := <-progressChan; ok {
			return progressUpdateMsg(update)
		}
		out := <-doneChan
		return runCompleteMsg(out.report, out.err)
	}
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Start %s?", strings.ToLower(m.title)))
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s\n\n%s", title, m.summary, helpView)
}

func (m *Model) renderRun() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), m.progress.Message)

	if m.progress.Phase == tasks.ExportUser || m.progress.Phase == tasks.ImportUser || m.progress.Phase == tasks.UserDone {
		percent := 0.0
		if m.progress.Total > 0 {
			percent = float64(len(m.finished)) / float64(m.progress.Total)
		}
		b.WriteString(m.bar.ViewAs(percent))
		b.WriteString("\n\n")
	}

	start := max(len(m.finished)-recentLines, 0)
	for _, line := range m.finished[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.quit}))
	return b.String()
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.up, m.keys.down, m.keys.restart, m.keys.quit})

	if m.err != nil {
		msg := styles.err.Render(fmt.Sprintf("%s failed: %v", m.title, m.err))
		return fmt.Sprintf("%s\n\n%s", msg, helpView)
	}
	if m.report == nil {
		return fmt.Sprintf("%s\n\n%s", styles.err.Render("No result available"), helpView)
	}

	summary := fmt.Sprintf("%d succeeded, %d skipped, %d failed", m.report.Succeeded, m.report.Skipped, m.report.Failed)
	if m.report.Partial() {
		summary = styles.warn.Render("⚠ " + summary)
	} else {
		summary = styles.ok.Render("✓ " + summary)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", summary, m.results.View(), helpView)
}
