package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/reviewqa/internal/api"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// sourceExcerptLen caps the review text printed under --sources.
const sourceExcerptLen = 300

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Status lines go to stderr so answers on stdout stay pipeable.

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printPrompt(w io.Writer) {
	fmt.Fprint(w, colorize(colorBold, "> "))
}

// printAnswer writes the answer, preceded by the standalone question when the
// rewriter changed it.
func printAnswer(w io.Writer, out api.AskResponse) {
	if out.Rewritten {
		fmt.Fprintln(w, colorize(colorCyan, "("+out.StandaloneQuestion+")"))
	}
	fmt.Fprintln(w, out.Answer)
}

func printSources(w io.Writer, sources []api.Source) {
	for i, s := range sources {
		text := s.Content
		if len(text) > sourceExcerptLen {
			text = text[:sourceExcerptLen] + "..."
		}
		fmt.Fprintf(w, "  %s %s [score: %.3f]\n    %s\n",
			colorize(colorBold, fmt.Sprintf("[%d]", i+1)), s.ProductName, s.Score, text)
	}
}

func printTurn(w io.Writer, t api.Turn) {
	label := colorize(colorCyan, "user:")
	if t.Role == "assistant" {
		label = colorize(colorGreen, "assistant:")
	}
	fmt.Fprintf(w, "%s %s\n", label, t.Text)
}
