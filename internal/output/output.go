// Package output provides consistent CLI output formatting with colors and progress indicators.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ANSI styles applied when color is enabled.
const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiDim    = "\x1b[2m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out      io.Writer
	tty      bool
	useColor bool
}

// New creates a Writer that colors output only when out is a terminal
// and NO_COLOR and CI are unset.
func New(out io.Writer) *Writer {
	tty := IsTTY(out)
	return &Writer{
		out:      out,
		tty:      tty,
		useColor: tty && !DetectNoColor() && !DetectCI(),
	}
}

// NewWithColor creates a Writer with color and in-place redraw forced on or off.
func NewWithColor(out io.Writer, useColor bool) *Writer {
	return &Writer{out: out, tty: useColor, useColor: useColor}
}

// Out returns the underlying writer.
func (w *Writer) Out() io.Writer { return w.out }

// Color reports whether ANSI styles are emitted.
func (w *Writer) Color() bool { return w.useColor }

// IsTTY checks if output is a terminal.
func IsTTY(out io.Writer) bool {
	if out == nil {
		return false
	}
	if f, ok := out.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

func (w *Writer) style(code, s string) string {
	if !w.useColor || s == "" {
		return s
	}
	return code + s + ansiReset
}

// Bold returns s in bold when color is enabled.
func (w *Writer) Bold(s string) string { return w.style(ansiBold, s) }

// Dim returns s dimmed when color is enabled.
func (w *Writer) Dim(s string) string { return w.style(ansiDim, s) }

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", w.style(ansiGreen, msg))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.style(ansiYellow, msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.style(ansiRed, msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Heading prints a bold line followed by a blank line.
func (w *Writer) Heading(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s\n\n", w.Bold(msg))
}

// Code prints a block with each line indented.
func (w *Writer) Code(content string) {
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
