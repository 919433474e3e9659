package docgen

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/DocFox/internal/pkg/completion"
)

const (
	maxDiffChars      = 4000
	maxDocChars       = 6000
	maxStructureItems = 80
)

const systemPrompt = `You maintain the documentation of a software repository.
Reply with one JSON object and nothing else, in exactly this shape:

{
  "patches": [{ "file": "string", "patch": "string", "reason": "string" }],
  "summary": "string",
  "coverageScore": 0,
  "structuredDoc": { "sections": [{ "title": "string", "content": "string", "type": "string" }] }
}

Rules:
- "patch" is either a unified diff against the current file (with @@ hunk headers) or the complete new file content.
- Only touch documentation files. Prefer README.md and CHANGELOG.md.
- Keep existing content. Never remove sections that are still accurate.
- Patches must be idempotent: applying one twice must not duplicate text.
- "summary" is one line suitable for a commit message.
- "coverageScore" rates the documentation coverage after your patches from 0 to 100.`

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

// BuildMessages renders the conversation sent to the model.
func BuildMessages(in Input) []completion.Message {
	var b strings.Builder

	name := in.Context.Name
	if name == "" {
		name = "project"
	}
	fmt.Fprintf(&b, "Update the documentation of %q for the commit below.\n\n", name)
	fmt.Fprintf(&b, "Commit message:\n%s\n\n", strings.TrimSpace(in.CommitMessage))
	if in.Context.Language != "" {
		fmt.Fprintf(&b, "Primary language: %s\n", in.Context.Language)
	}
	if len(in.DocTypes) > 0 {
		fmt.Fprintf(&b, "Documents to maintain: %s\n", strings.Join(in.DocTypes, ", "))
	}
	if len(in.Context.Structure) > 0 {
		items := in.Context.Structure
		if len(items) > maxStructureItems {
			items = items[:maxStructureItems]
		}
		fmt.Fprintf(&b, "Repository files:\n%s\n", strings.Join(items, "\n"))
	}

	b.WriteString("\nChanged files:\n")
	for _, f := range in.Files {
		fmt.Fprintf(&b, "\n### %s (%s)\n```diff\n%s\n```\n", f.Path, f.Status, truncate(f.Diff, maxDiffChars))
	}

	if in.Docs.Readme != "" {
		fmt.Fprintf(&b, "\nCurrent README.md:\n```markdown\n%s\n```\n", truncate(in.Docs.Readme, maxDocChars))
	} else {
		b.WriteString("\nThe repository has no README.md yet.\n")
	}
	if in.Docs.Changelog != "" {
		fmt.Fprintf(&b, "\nCurrent CHANGELOG.md:\n```markdown\n%s\n```\n", truncate(in.Docs.Changelog, maxDocChars))
	}

	return []completion.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// PromptChars is the total size of the conversation, used for cost estimates.
func PromptChars(msgs []completion.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}
