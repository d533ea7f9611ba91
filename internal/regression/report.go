package regression

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

var statusIcons = map[Status]string{
	StatusPass:    "✓",
	StatusUpdated: "✎",
	StatusCached:  "•",
	StatusFail:    "✗",
	StatusError:   "⚠",
	StatusSkipped: "-",
}

// WriteText prints a human-readable report. Diffs are shown for failed cases
// only when verbose is set.
func WriteText(w io.Writer, result *RunResult, verbose bool) {
	fmt.Fprintf(w, "\n=== Regression: %s (%s) ===\n", orDash(result.Suite), result.Tech)
	if result.Impact != nil {
		fmt.Fprintf(w, "\n%s", FormatImpact(result.Impact))
	}

	fmt.Fprintln(w)
	for _, c := range result.Cases {
		icon := statusIcons[c.Status]
		if icon == "" {
			icon = "?"
		}
		line := fmt.Sprintf("%s [%s] %s (%s) %dms", icon, c.Status, c.ID, c.Generator, c.DurationMS)
		if c.Message != "" && c.Status != StatusPass && c.Status != StatusCached {
			line += " - " + c.Message
		}
		fmt.Fprintln(w, line)
		if verbose && c.Diff != "" {
			for _, l := range strings.Split(strings.TrimRight(c.Diff, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", l)
			}
		}
	}

	s := result.Summary
	fmt.Fprintf(w, "\n=== Regression Summary ===\n")
	fmt.Fprintf(w, "Cases:    %d\n", s.Total)
	fmt.Fprintf(w, "Passed:   %d\n", s.Pass)
	fmt.Fprintf(w, "Cached:   %d\n", s.Cached)
	fmt.Fprintf(w, "Updated:  %d\n", s.Updated)
	fmt.Fprintf(w, "Failed:   %d\n", s.Fail)
	fmt.Fprintf(w, "Errors:   %d\n", s.Error)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "Skipped:  %d\n", s.Skipped)
	}
	fmt.Fprintf(w, "Duration: %dms\n", result.DurationMS)
	fmt.Fprintf(w, "Run:      %s\n", result.RunID)
}

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, result *RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
