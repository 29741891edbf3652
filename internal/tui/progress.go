// Package tui provides the small interactive pieces of mrstack: a spinner
// for long-running waits and the pre-submit confirmation prompt.
package tui

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mrstack.dev/mrstack/internal/output"
)

type doneMsg struct{ err error }

type spinnerModel struct {
	spinner spinner.Model
	message string
	err     error
}

func newSpinnerModel(message string) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ccbf1"))
	return spinnerModel{spinner: s, message: message}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		// The run is not cancellable mid-flight; ignore keys.
		return m, nil
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m spinnerModel) View() string {
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.message)
}

// WithSpinner runs fn while showing a spinner with the given message.
// Falls back to running fn directly when not attached to a terminal.
func WithSpinner(splog *output.Splog, message string, fn func() error) error {
	if !output.IsInteractive() {
		splog.Info("%s", message)
		return fn()
	}

	splog.SetQuiet(true)
	defer splog.SetQuiet(false)

	p := tea.NewProgram(newSpinnerModel(message))
	go func() {
		p.Send(doneMsg{err: fn()})
	}()

	model, err := p.Run()
	if err != nil {
		return err
	}
	return model.(spinnerModel).err
}

// Confirm asks a yes/no question, defaulting to yes. Non-interactive runs
// auto-confirm, matching CI behavior.
func Confirm(message string) (bool, error) {
	if !output.IsInteractive() {
		return true, nil
	}
	confirmed := true
	err := survey.AskOne(&survey.Confirm{Message: message, Default: true}, &confirmed)
	if err != nil {
		return false, err
	}
	return confirmed, nil
}
