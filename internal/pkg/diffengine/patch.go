// Package diffengine applies, generates and inspects unified diffs for
// generated documentation. Everything here is pure and synchronous.
package diffengine

import (
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// hunkHeader is the parsed form of "@@ -a,b +c,d @@".
type hunkHeader struct {
	oldStart, oldLen int
	newStart, newLen int
}

func parseHunkHeader(line string) (hunkHeader, bool) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return hunkHeader{}, false
	}
	h := hunkHeader{oldLen: 1, newLen: 1}
	h.oldStart, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		h.oldLen, _ = strconv.Atoi(m[2])
	}
	h.newStart, _ = strconv.Atoi(m[3])
	if m[4] != "" {
		h.newLen, _ = strconv.Atoi(m[4])
	}
	return h, true
}

// gapEnd is the number of original lines that precede the hunk.
func (h hunkHeader) gapEnd() int {
	if h.oldLen == 0 {
		return h.oldStart
	}
	return h.oldStart - 1
}

// IsUnifiedDiff reports whether a generated patch is a diff rather than full
// file content.
func IsUnifiedDiff(patch string) bool {
	return strings.Contains(patch, "@@") || strings.Contains(patch, "---") || strings.Contains(patch, "+++")
}

// ApplyPatch reconstructs the new content from original and a unified diff in
// a single pass. Context lines copy the next original line (their text is not
// compared), deletions advance past one original line, additions emit their
// text. File headers are skipped; a hunk header whose old start lies beyond
// the cursor first copies the untouched lines in between. Lines without a
// known prefix copy the next original line. Whatever is left of the original
// is appended at the end, so patches may omit an unchanged suffix.
func ApplyPatch(original, patch string) string {
	orig := strings.Split(original, "\n")
	lines := strings.Split(patch, "\n")

	out := make([]string, 0, len(orig)+len(lines))
	idx := 0
	// Remaining old/new lines of the current hunk, from its header counts.
	oldLeft, newLeft := 0, 0

	copyNext := func() {
		if idx < len(orig) {
			out = append(out, orig[idx])
			idx++
		}
	}

	for _, line := range lines {
		inHunk := oldLeft > 0 || newLeft > 0

		if strings.HasPrefix(line, "@@") {
			if h, ok := parseHunkHeader(line); ok {
				for idx < h.gapEnd() && idx < len(orig) {
					out = append(out, orig[idx])
					idx++
				}
				oldLeft, newLeft = h.oldLen, h.newLen
			}
			continue
		}
		if !inHunk && (strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++")) {
			continue
		}
		if strings.HasPrefix(line, `\ `) {
			// "\ No newline at end of file"
			continue
		}

		switch {
		case strings.HasPrefix(line, " ") && idx < len(orig):
			copyNext()
			oldLeft--
			newLeft--
		case strings.HasPrefix(line, "-"):
			if idx < len(orig) {
				idx++
			}
			oldLeft--
		case strings.HasPrefix(line, "+"):
			out = append(out, line[1:])
			newLeft--
		default:
			copyNext()
			oldLeft--
			newLeft--
		}
		if oldLeft < 0 {
			oldLeft = 0
		}
		if newLeft < 0 {
			newLeft = 0
		}
	}

	out = append(out, orig[idx:]...)
	return strings.Join(out, "\n")
}

// MergePatches joins several diffs for the same file into one document.
func MergePatches(patches []string) string {
	kept := make([]string, 0, len(patches))
	for _, p := range patches {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
