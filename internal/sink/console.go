// Package sink renders surfaced action suggestions for human consumption.
package sink

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/recallhq/distill/internal/worker"
	"github.com/recallhq/distill/pkg/blackboard"
)

func init() {
	// Force color output even when not connected to TTY.
	// Users can disable with the NO_COLOR environment variable.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	dueColor   = color.New(color.FgYellow)
)

// Console returns a Sink that renders each suggestion to w as a bullet
// line with its due window, followed by any evidence snippets.
func Console(w io.Writer) worker.Sink {
	return func(title string, due blackboard.DueWindow, evidence []string) {
		fmt.Fprintf(w, "• %s %s\n", titleColor.Sprint(title), dueColor.Sprintf("[%s]", due))
		for _, snippet := range evidence {
			snippet = strings.TrimSpace(snippet)
			if snippet == "" {
				continue
			}
			fmt.Fprintf(w, "    %q\n", snippet)
		}
	}
}
