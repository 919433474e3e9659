package docgen

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DocFox/internal/pkg/completion"
)

func TestParseOutput_Valid(t *testing.T) {
	raw := json.RawMessage(`{
		"patches": [{"file": "README.md", "patch": "# Widgets", "reason": "new lib"}],
		"summary": "Document lib.js",
		"coverageScore": 0.8,
		"structuredDoc": {"sections": [{"title": "Usage", "content": "x", "type": "guide"}]}
	}`)
	out, err := ParseOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, out.Files())
	assert.Equal(t, "Document lib.js", out.Summary)
	assert.InDelta(t, 80.0, out.CoverageScore, 1e-9)
	require.NotNil(t, out.StructuredDoc)
	assert.Len(t, out.StructuredDoc.Sections, 1)

	out, err = ParseOutput(json.RawMessage(`{"patches":[],"summary":"","coverageScore":250}`))
	require.NoError(t, err)
	assert.Empty(t, out.Patches)
	assert.Equal(t, 100.0, out.CoverageScore)
}

func TestParseOutput_Invalid(t *testing.T) {
	tests := map[string]string{
		"not object":         `[1]`,
		"missing patches":    `{"summary":"s","coverageScore":1}`,
		"patches object":     `{"patches":{},"summary":"s","coverageScore":1}`,
		"patch not string":   `{"patches":[{"file":"a","patch":1,"reason":"r"}],"summary":"s","coverageScore":1}`,
		"missing reason":     `{"patches":[{"file":"a","patch":"p"}],"summary":"s","coverageScore":1}`,
		"summary number":     `{"patches":[],"summary":3,"coverageScore":1}`,
		"score string":       `{"patches":[],"summary":"s","coverageScore":"high"}`,
		"sections not array": `{"patches":[],"summary":"s","coverageScore":1,"structuredDoc":{"sections":"x"}}`,
		"empty file":         `{"patches":[{"file":"","patch":"p","reason":"r"}],"summary":"s","coverageScore":1}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOutput(json.RawMessage(raw))
			assert.ErrorIs(t, err, ErrInvalidOutput)
		})
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages(Input{
		Files:         []FileDiff{{Path: "lib.js", Diff: strings.Repeat("+x\n", 3000), Status: "added"}},
		CommitMessage: "Add lib",
		Context:       RepoContext{Name: "widgets", Language: "JavaScript", Structure: []string{"lib.js", "package.json"}},
		DocTypes:      []string{"readme", "changelog"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	user := msgs[1].Content
	assert.Contains(t, user, `"widgets"`)
	assert.Contains(t, user, "Add lib")
	assert.Contains(t, user, "### lib.js (added)")
	assert.Contains(t, user, "(truncated)")
	assert.Contains(t, user, "no README.md yet")
	assert.Equal(t, len(msgs[0].Content)+len(user), PromptChars(msgs))
}

type fakeCompletion struct {
	raw json.RawMessage
	err error
}

func (f fakeCompletion) GenerateCompletion(context.Context, []completion.Message, string) (json.RawMessage, error) {
	return f.raw, f.err
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()

	g := NewGenerator(fakeCompletion{raw: json.RawMessage(`{"patches":[{"file":"README.md","patch":"x","reason":"r"}],"summary":"s","coverageScore":50}`)}, "m")
	out, err := g.Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 50.0, out.CoverageScore)

	g = NewGenerator(fakeCompletion{raw: json.RawMessage(`{"patches":"nope"}`)}, "m")
	_, err = g.Generate(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	boom := errors.New("boom")
	g = NewGenerator(fakeCompletion{err: boom}, "m")
	_, err = g.Generate(ctx, nil)
	assert.ErrorIs(t, err, boom)
}
