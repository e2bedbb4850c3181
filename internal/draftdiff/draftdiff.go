// Package draftdiff builds human-readable diffs between successive draft
// versions so a reviewer can see what each revision actually changed.
package draftdiff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// History renders one diff section per revision in a draft history. The
// first entry is taken as the initial draft; each following entry is
// diffed against its predecessor. Returns "" when there is nothing to
// compare.
func History(drafts []string) string {
	if len(drafts) < 2 {
		return ""
	}
	var out strings.Builder
	for i := 1; i < len(drafts); i++ {
		out.WriteString(fmt.Sprintf("# revision %d\n", i))
		out.WriteString(Unified(drafts[i-1], drafts[i]))
		out.WriteString("\n")
	}
	return out.String()
}

// Unified returns a unified diff of two drafts. Both sides are normalized
// before diffing to avoid spurious whitespace hunks.
func Unified(before, after string) string {
	before = normalize(before)
	after = normalize(after)
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	patches := dmp.PatchMake(before, diffs)
	return dmp.PatchToText(patches)
}

// normalize trims trailing whitespace from each line and converts CRLF to LF.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
