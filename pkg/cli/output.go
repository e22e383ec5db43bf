package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/repair"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// formatDuration shows milliseconds below one second, seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dm %ds", ms/60000, (ms%60000)/1000)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// resultStatus renders the match state of a result.
func resultStatus(r core.EvaluationResult) (string, string) {
	switch {
	case r.InProgress():
		return "…", colorGray
	case r.ErrorCode == core.ErrNoDocument.Code || r.ErrorCode == core.ErrEmptyExpression.Code:
		return "NO DOC", colorYellow
	case !r.Success:
		return "✗ ERROR", colorRed
	case r.IsSentinel() || r.NumberOfMatches == 0:
		return "✗ NONE", colorRed
	case r.NumberOfMatches == 1:
		return "✓ ONE", colorGreen
	default:
		return "⚠ MANY", colorYellow
	}
}

func printLocatorTable(w io.Writer, locators []core.Locator) (broken int) {
	const width = 100
	fmt.Fprintln(w, strings.Repeat("═", width))
	fmt.Fprintf(w, "  %-24s %-12s %-8s %-9s %7s  %s\n", "Locator", "State", "Platform", "Status", "Matches", "XPath")
	fmt.Fprintln(w, strings.Repeat("─", width))
	for _, loc := range locators {
		status, c := resultStatus(loc.XPath)
		if repair.IsFailing(loc) {
			broken++
		}
		fmt.Fprintf(w, "  %-24s %-12s %-8s %s%-9s%s %7d  %s\n",
			truncate(loc.Label(), 24), truncate(loc.StateID, 12), loc.Platform,
			color(c), status, color(colorReset), loc.XPath.NumberOfMatches,
			truncate(loc.Expression(), 40))
	}
	fmt.Fprintln(w, strings.Repeat("─", width))
	fmt.Fprintf(w, "  %s%d locators%s, %d broken\n", color(colorBold), len(locators), color(colorReset), broken)
	fmt.Fprintln(w, strings.Repeat("═", width))
	return broken
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
