package docgen

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidOutput = errors.New("AI output does not match the documentation schema")

func kind(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	switch c := raw[0]; {
	case c == '"', c == '{', c == '[', c == 't', c == 'f', c == 'n':
		return c
	case c == '-' || (c >= '0' && c <= '9'):
		return '0'
	}
	return 0
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidOutput, fmt.Sprintf(format, args...))
}

// ParseOutput checks the field types of a model answer before decoding it:
// patches is an array of {file, patch, reason} strings, summary a string,
// coverageScore a number and structuredDoc.sections an array when present.
func ParseOutput(raw json.RawMessage) (*Output, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, invalid("not an object")
	}

	if kind(top["patches"]) != '[' {
		return nil, invalid("patches must be an array")
	}
	var patches []map[string]json.RawMessage
	if err := json.Unmarshal(top["patches"], &patches); err != nil {
		return nil, invalid("patches must contain objects")
	}
	for i, p := range patches {
		for _, field := range []string{"file", "patch", "reason"} {
			if kind(p[field]) != '"' {
				return nil, invalid("patches[%d].%s must be a string", i, field)
			}
		}
	}
	if kind(top["summary"]) != '"' {
		return nil, invalid("summary must be a string")
	}
	if kind(top["coverageScore"]) != '0' {
		return nil, invalid("coverageScore must be a number")
	}
	if sd, ok := top["structuredDoc"]; ok && kind(sd) != 'n' {
		var doc map[string]json.RawMessage
		if kind(sd) != '{' || json.Unmarshal(sd, &doc) != nil {
			return nil, invalid("structuredDoc must be an object")
		}
		if s, ok := doc["sections"]; ok && kind(s) != '[' {
			return nil, invalid("structuredDoc.sections must be an array")
		}
	}

	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, invalid("%v", err)
	}
	for i, p := range out.Patches {
		if p.File == "" {
			return nil, invalid("patches[%d].file is empty", i)
		}
	}
	out.CoverageScore = clampScore(out.CoverageScore)
	return &out, nil
}

// clampScore accepts both 0..1 and 0..100 scales.
func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 0 && s <= 1:
		return s * 100
	case s > 100:
		return 100
	}
	return s
}
