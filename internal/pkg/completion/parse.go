package completion

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var ErrUnparseable = errors.New("Failed to parse AI JSON response")

var fenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// ParseJSON extracts a JSON document from model output. It accepts, in
// order: the text as JSON, a JSON string that itself holds JSON, and the
// first fenced code block.
func ParseJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)

	if json.Valid([]byte(s)) {
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			inner = strings.TrimSpace(inner)
			if json.Valid([]byte(inner)) {
				return json.RawMessage(inner), nil
			}
			return nil, ErrUnparseable
		}
		return json.RawMessage(s), nil
	}

	if m := fenceRe.FindStringSubmatch(s); m != nil {
		body := strings.TrimSpace(m[1])
		if json.Valid([]byte(body)) {
			return json.RawMessage(body), nil
		}
	}
	return nil, ErrUnparseable
}
