// Package console provides styled operator-facing terminal output and input.
// A Console is constructed once at process start and passed explicitly to the
// orchestrator and command handlers so tests can substitute buffers.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1)
)

// Console writes styled messages and reads operator input.
type Console struct {
	out io.Writer
	in  *bufio.Scanner
}

// New creates a Console reading from in and writing to out.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		out: out,
		in:  bufio.NewScanner(in),
	}
}

// Header prints a bold section header.
func (c *Console) Header(msg string) {
	fmt.Fprintln(c.out, headerStyle.Render(msg))
}

// Info prints an informational message.
func (c *Console) Info(msg string) {
	fmt.Fprintln(c.out, infoStyle.Render(msg))
}

// Success prints a success message.
func (c *Console) Success(msg string) {
	fmt.Fprintln(c.out, successStyle.Render(msg))
}

// Warning prints a warning message.
func (c *Console) Warning(msg string) {
	fmt.Fprintln(c.out, warningStyle.Render(msg))
}

// Error prints an error message.
func (c *Console) Error(msg string) {
	fmt.Fprintln(c.out, errorStyle.Render(msg))
}

// Dim prints a de-emphasized message.
func (c *Console) Dim(msg string) {
	fmt.Fprintln(c.out, dimStyle.Render(msg))
}

// Message prints an unstyled message.
func (c *Console) Message(msg string) {
	fmt.Fprintln(c.out, msg)
}

// Panel prints content in a bordered panel with a title.
func (c *Console) Panel(title, content string) {
	if title != "" {
		fmt.Fprintln(c.out, headerStyle.Render(title))
	}
	fmt.Fprintln(c.out, panelStyle.Render(content))
}

// Newline prints an empty line.
func (c *Console) Newline() {
	fmt.Fprintln(c.out)
}

// ReadLine prints the prompt and reads one line of input. Returns io.EOF
// when input is exhausted.
func (c *Console) ReadLine(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.in.Text(), nil
}

// Confirm asks a yes/no question and returns true for "y".
func (c *Console) Confirm(question, def string) (bool, error) {
	answer, err := c.ReadLine(fmt.Sprintf("%s [y/n] (%s): ", question, def))
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		answer = def
	}
	return answer == "y", nil
}
