package diffengine

import (
	"regexp"
	"strings"
)

var atxHeaderRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Section is a Markdown section. Start and End are 0-based line indexes; End
// is the line before the next header, or the last line of the document.
type Section struct {
	Title string `json:"title"`
	Level int    `json:"level"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// DetectSections scans content for ATX headers ("#" to "######").
func DetectSections(content string) []Section {
	lines := strings.Split(content, "\n")
	var sections []Section
	var current *Section

	for i, line := range lines {
		m := atxHeaderRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if current != nil {
			current.End = i - 1
			sections = append(sections, *current)
		}
		current = &Section{
			Title: strings.TrimSpace(m[2]),
			Level: len(m[1]),
			Start: i,
			End:   len(lines) - 1,
		}
	}
	if current != nil {
		sections = append(sections, *current)
	}
	return sections
}

// FindSection returns the first section whose title matches, ignoring case.
func FindSection(sections []Section, title string) (Section, bool) {
	for _, s := range sections {
		if strings.EqualFold(s.Title, strings.TrimSpace(title)) {
			return s, true
		}
	}
	return Section{}, false
}
