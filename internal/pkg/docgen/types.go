// Package docgen turns a commit's diffs into documentation patches using the
// completion service.
package docgen

type FileDiff struct {
	Path   string `json:"path" validate:"required"`
	Diff   string `json:"diff"`
	Status string `json:"status"`
}

type RepoContext struct {
	Name      string   `json:"name"`
	Language  string   `json:"language,omitempty"`
	Structure []string `json:"structure,omitempty"`
}

type ExistingDocs struct {
	Readme    string `json:"readme,omitempty"`
	Changelog string `json:"changelog,omitempty"`
}

type Input struct {
	Files         []FileDiff
	CommitMessage string
	Context       RepoContext
	Docs          ExistingDocs
	DocTypes      []string
}

// Patch is either a unified diff or the full new content of File.
type Patch struct {
	File   string `json:"file" validate:"required"`
	Patch  string `json:"patch"`
	Reason string `json:"reason"`
}

type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type StructuredDoc struct {
	Sections []Section `json:"sections"`
}

type Output struct {
	Patches       []Patch        `json:"patches"`
	Summary       string         `json:"summary"`
	CoverageScore float64        `json:"coverageScore"`
	StructuredDoc *StructuredDoc `json:"structuredDoc,omitempty"`
}

// Files lists the patched paths.
func (o *Output) Files() []string {
	out := make([]string, 0, len(o.Patches))
	for _, p := range o.Patches {
		out = append(out, p.File)
	}
	return out
}
