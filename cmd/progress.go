package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

type doneMsg struct{ err error }

type spinnerModel struct {
	spin  spinner.Model
	label string
	err   error
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	return fmt.Sprintf("%s %s\n", m.spin.View(), mutedStyle.Render(m.label))
}

// withSpinner runs fn while drawing a spinner on stderr. The spinner is
// skipped for quiet or JSON output and when stderr is not a terminal.
func withSpinner(ctx context.Context, opts *rootOptions, label string, fn func() error) error {
	if opts.quiet || opts.json || !isTerminal(opts.stderr) {
		return fn()
	}

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = spinnerStyle
	program := tea.NewProgram(spinnerModel{spin: spin, label: label},
		tea.WithContext(ctx),
		tea.WithOutput(opts.stderr),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	result := make(chan error, 1)
	go func() {
		err := fn()
		result <- err
		program.Send(doneMsg{err: err})
	}()
	// A failed or cancelled program only loses the spinner; the work
	// result is still awaited.
	_, _ = program.Run()
	return <-result
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
