// Package events carries pipeline progress notifications to subscribers of a
// per-repository Redis channel. Delivery is best effort: nothing in the
// pipeline waits on it or fails because of it.
package events

import (
	"fmt"
	"time"
)

type Type string

const (
	CommitProcessing Type = "commit:processing"
	AIGenerated      Type = "ai:generated"
	PatchApplying    Type = "patch:applying"
	PatchWritten     Type = "patch:written"
	CoverageUpdated  Type = "coverage:updated"
)

// Event is the JSON document subscribers receive.
type Event struct {
	Type          Type     `json:"type"`
	RepoID        uint     `json:"repoId"`
	JobID         string   `json:"jobId,omitempty"`
	CommitSHA     string   `json:"commitSha,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Files         []string `json:"files,omitempty"`
	CoverageScore *float64 `json:"coverageScore,omitempty"`
	CommitURL     string   `json:"commitUrl,omitempty"`
	PRURL         string   `json:"prUrl,omitempty"`
	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Channel is the pub/sub channel for one repository.
func Channel(repoID uint) string {
	return fmt.Sprintf("events:%d", repoID)
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

func stamp(e *Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
}
