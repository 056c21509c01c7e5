// Package cli implements the inbox command-line tool: processing email
// files by hand, working the review queue and running cleanups.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/pkg/logger"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	successSymbol = "✓"
	errorSymbol   = "✗"
	infoSymbol    = "→"

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D787", Dark: "#00D787"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F87", Dark: "#FF5F87"})
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5FAFFF", Dark: "#5FAFFF"})
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D7D7", Dark: "#00D7D7"})
	labelStyle   = lipgloss.NewStyle().Bold(true)
)

// Globals defines flags available to all commands.
type Globals struct {
	DataDir  string `help:"Data directory (overrides INBOX_DATA_DIR)." type:"path"`
	LogLevel string `help:"Log level for pipeline output." default:"warn" enum:"trace,debug,info,warn,error"`
}

// open loads configuration and wires a container. The spool is never
// started from the CLI.
func (g *Globals) open(ctx context.Context) (*di.Container, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if g.DataDir != "" {
		abs, err := filepath.Abs(g.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve data directory path: %w", err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		cfg.DataDir = abs
	}
	cfg.SpoolEnabled = false

	log := logger.New(logger.Config{
		Level:  g.LogLevel,
		Pretty: true,
		Output: os.Stderr,
	})

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return container, cfg, nil
}

func printSuccess(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n",
		successStyle.Render(successSymbol),
		message,
	)
}

func printError(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n",
		errorStyle.Render(errorSymbol),
		errorStyle.Render(message),
	)
}

func printInfof(w io.Writer, format string, args ...interface{}) {
	formatted := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(w, "%s %s\n",
		infoStyle.Render(infoSymbol),
		formatted,
	)
}

func printField(w io.Writer, label string, value interface{}) {
	_, _ = fmt.Fprintf(w, "  %s %v\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

// promptYesNo asks a yes/no question.
// Returns false if stdin is not a terminal.
func promptYesNo(question string) (bool, error) {
	if !isTerminal() {
		return false, nil
	}

	var confirm bool

	form := huh.NewConfirm().
		Title(question).
		WithButtonAlignment(lipgloss.Left).
		Value(&confirm)

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}

	return confirm, nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm skips the prompt when yes is set
func confirm(yes bool, question string) (bool, error) {
	if yes {
		return true, nil
	}
	return promptYesNo(question)
}
