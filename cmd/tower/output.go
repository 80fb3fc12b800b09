package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// progressBarWidth is the number of cells in a training progress bar.
	progressBarWidth = 30
	// progressLineClearWidth covers the longest progress line we print.
	progressLineClearWidth = 80
)

// Destinations for command output. Results go to stdout, progress and
// errors to stderr.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// ErrorResponse is the JSON body printed when a command fails.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	return writeJSON(stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes formatted text to stdout.
func outputHuman(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}

// exitWithError reports a failure as JSON on stdout, or as text on stderr
// with --human, and exits with code.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(stderr, "error: %s\n", msg)
	} else {
		writeJSON(stdout, ErrorResponse{Error: msg, Code: code})
	}
	os.Exit(code)
}

// truncateString shortens s to maxLen bytes, marking the cut with "...".
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatDuration prints sub-minute durations in seconds and longer ones as
// minutes and seconds.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

// formatBytes prints n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value, suffix := float64(n)/unit, 0
	for value >= unit && suffix < len("KMGTPE")-1 {
		value /= unit
		suffix++
	}
	return fmt.Sprintf("%.1f %cB", value, "KMGTPE"[suffix])
}

// formatRounded rounds v to digits decimal places and prints the shortest
// representation, so 0.1234567 becomes "0.123457" and 0.5 stays "0.5".
func formatRounded(v float64, digits int) string {
	scale := math.Pow(10, float64(digits))
	return strconv.FormatFloat(math.Round(v*scale)/scale, 'f', -1, 64)
}

// buildProgressBar renders current/total as a bar of width cells with an
// arrow at the leading edge.
func buildProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat(" ", width)
	}
	done := width * current / total
	switch {
	case done >= width:
		return strings.Repeat("=", width)
	case done < 0:
		done = 0
	}
	return strings.Repeat("=", done) + ">" + strings.Repeat(" ", width-done-1)
}
