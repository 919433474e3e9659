package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

var validate = validator.New()

type Author struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

type Commit struct {
	ID      string `json:"id" validate:"required"`
	Message string `json:"message"`
	Author  Author `json:"author"`
	URL     string `json:"url,omitempty"`
}

type Sender struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type Repository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name" validate:"required"`
	DefaultBranch string `json:"default_branch"`
}

// PushPayload is the subset of a push delivery the pipeline reads.
type PushPayload struct {
	Ref        string     `json:"ref"`
	Before     string     `json:"before"`
	After      string     `json:"after"`
	Repository Repository `json:"repository"`
	Commits    []Commit   `json:"commits" validate:"dive"`
	Sender     Sender     `json:"sender"`
}

// Branch is the ref without refs/heads/.
func (p *PushPayload) Branch() string {
	return strings.TrimPrefix(p.Ref, "refs/heads/")
}

// ParsePush decodes and validates a push body.
func ParsePush(body []byte) (*PushPayload, error) {
	var p PushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// repositoryName pulls repository.full_name out of any event type so the
// per-repo secret can be found before the body is trusted.
func repositoryName(body []byte) (string, error) {
	var probe struct {
		Repository *Repository `json:"repository"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if probe.Repository == nil || probe.Repository.FullName == "" {
		return "", fmt.Errorf("%w: repository.full_name missing", ErrMalformedPayload)
	}
	return probe.Repository.FullName, nil
}
