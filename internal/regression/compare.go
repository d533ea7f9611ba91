package regression

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/robert-at-pretension-io/amc/internal/design"
)

// normalizeNetlist drops comments and blank lines, collapses whitespace and
// lowercases, so cosmetic edits to a golden do not fail a case.
func normalizeNetlist(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if i := strings.IndexByte(line, '$'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		out = append(out, strings.ToLower(strings.Join(strings.Fields(line), " ")))
	}
	return out
}

// compareNetlist returns a unified diff of the normalized netlists, empty
// when they match.
func compareNetlist(golden, generated string) (string, error) {
	want := normalizeNetlist(golden)
	got := normalizeNetlist(generated)
	if equalLines(want, got) {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(want),
		B:        withNewlines(got),
		FromFile: "golden",
		ToFile:   "generated",
		Context:  3,
	})
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

// compareAbstract decodes both abstracts and diffs them with an absolute
// float tolerance. It returns an empty diff when they match.
func compareAbstract(golden, generated []byte, tolerance float64) (string, error) {
	want, err := design.ParseAbstract(golden)
	if err != nil {
		return "", fmt.Errorf("decoding golden abstract: %w", err)
	}
	got, err := design.ParseAbstract(generated)
	if err != nil {
		return "", fmt.Errorf("decoding generated abstract: %w", err)
	}
	return cmp.Diff(want, got,
		cmpopts.EquateApprox(0, tolerance),
		cmpopts.EquateEmpty(),
	), nil
}
