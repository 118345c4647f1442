package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// tone is an ANSI SGR attribute.
type tone string

const (
	toneBold  tone = "1"
	toneDim   tone = "2"
	toneRed   tone = "31"
	toneGreen tone = "32"
	toneAmber tone = "33"
	toneCyan  tone = "36"
)

// paint wraps text in t unless color is off.
func paint(t tone, text string) string {
	if noColor || text == "" {
		return text
	}
	return "\033[" + string(t) + "m" + text + "\033[0m"
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// notice writes one marked line to stderr; stdout carries only command
// output so it can be piped.
func notice(t tone, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(t, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(toneGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notice(toneRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notice(toneAmber, "!", format, args...) }
func printStep(format string, args ...any)    { notice(toneCyan, "→", format, args...) }

// printStatus writes an aligned "label: value" line for `margin status`.
func printStatus(label, format string, args ...any) {
	l := paint(toneBold, fmt.Sprintf("%-10s", label+":"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, fmt.Sprintf(format, args...))
}

// printFailure reports a server-side error inline, for interactive loops
// that keep running after one.
func printFailure(w io.Writer, msg string) {
	fmt.Fprintln(w, paint(toneRed, "✗ "+msg))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printAssistant renders an assistant message with its numbered follow-ups.
func printAssistant(w io.Writer, content string, prefills []string) {
	fmt.Fprintln(w, content)
	for i, p := range prefills {
		fmt.Fprintln(w, paint(toneDim, fmt.Sprintf("  [%d] %s", i+1, p)))
	}
}
