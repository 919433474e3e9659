package diffengine

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultContext is the number of unchanged lines kept around each change.
const DefaultContext = 3

// GenerateDiff encodes the change from oldContent to newContent as a unified
// diff for path. Lines are the "\n" separated fields of the inputs, so a
// trailing newline shows up as a final empty line on both sides.
func GenerateDiff(oldContent, newContent, path string) string {
	return GenerateDiffContext(oldContent, newContent, path, DefaultContext)
}

func GenerateDiffContext(oldContent, newContent, path string, context int) string {
	a := strings.Split(oldContent, "\n")
	b := strings.Split(newContent, "\n")

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)

	m := difflib.NewMatcher(a, b)
	for _, group := range m.GetGroupedOpCodes(context) {
		first, last := group[0], group[len(group)-1]
		oldLen := last.I2 - first.I1
		newLen := last.J2 - first.J1
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n",
			hunkStart(first.I1, oldLen), oldLen,
			hunkStart(first.J1, newLen), newLen)

		for _, op := range group {
			switch op.Tag {
			case 'e':
				for _, line := range a[op.I1:op.I2] {
					sb.WriteString(" " + line + "\n")
				}
			case 'd':
				for _, line := range a[op.I1:op.I2] {
					sb.WriteString("-" + line + "\n")
				}
			case 'i':
				for _, line := range b[op.J1:op.J2] {
					sb.WriteString("+" + line + "\n")
				}
			case 'r':
				for _, line := range a[op.I1:op.I2] {
					sb.WriteString("-" + line + "\n")
				}
				for _, line := range b[op.J1:op.J2] {
					sb.WriteString("+" + line + "\n")
				}
			}
		}
	}
	return sb.String()
}

// hunkStart follows the unified format: 1-based, and an empty range names
// the line it follows.
func hunkStart(zeroBased, length int) int {
	if length == 0 {
		return zeroBased
	}
	return zeroBased + 1
}
