package output

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

var (
	successColor = lipgloss.Color("#4dca7d")
	warnColor    = lipgloss.Color("#f5c800")
	errorColor   = lipgloss.Color("#f46251")
	accentColor  = lipgloss.Color("#4ccbf1")
)

// IsInteractive reports whether stdin and stdout are attached to a terminal.
// Prompts, spinners, and color are disabled when they are not.
func IsInteractive() bool {
	return (isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())) &&
		(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
}

// SuccessStyle is the style for success banners
func SuccessStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(successColor).Bold(true)
}

// AccentStyle is the style for highlighted values such as shas and branches
func AccentStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(accentColor)
}

// ColorEnabled reports whether the terminal supports color output. Honors
// NO_COLOR and dumb terminals via the environment color profile.
func ColorEnabled() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

// WarnPrefix returns the styled prefix for warning lines
func WarnPrefix() string {
	if !ColorEnabled() {
		return "warning"
	}
	return lipgloss.NewStyle().Foreground(warnColor).Render("warning")
}

// ErrorPrefix returns the styled prefix for error lines
func ErrorPrefix() string {
	if !ColorEnabled() {
		return "error"
	}
	return lipgloss.NewStyle().Foreground(errorColor).Render("error")
}
