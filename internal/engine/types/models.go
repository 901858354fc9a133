package types

import (
	"fmt"
	"strings"
	"time"
)

// ProductRef identifies one selected product row.
type ProductRef struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"` // Barcode column; may be empty
}

// Name returns the label used for file and archive entry names.
// Falls back to the ID when no label was captured.
func (r ProductRef) Name() string {
	if l := strings.TrimSpace(r.Label); l != "" {
		return l
	}
	return r.ID
}

// JobStatus is the lifecycle state of a download job
type JobStatus int

const (
	StatusIdle JobStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets JobStatus appear as a string in JSON payloads.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the string form produced by MarshalText.
func (s *JobStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StatusIdle
	case "running":
		*s = StatusRunning
	case "completed":
		*s = StatusCompleted
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown job status %q", text)
	}
	return nil
}

// FetchResult is the outcome of fetching one product image.
type FetchResult struct {
	Ref  ProductRef
	Data []byte
	Err  error
}

// OK reports whether the fetch produced a payload.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// JobSnapshot is a point-in-time copy of the job for status queries
type JobSnapshot struct {
	ID        string       `json:"id,omitempty"`
	Status    JobStatus    `json:"status"`
	Progress  float64      `json:"progress"` // Percentage 0-100
	Items     []ProductRef `json:"items,omitempty"`
	Failed    []string     `json:"failed,omitempty"` // IDs of items that could not be fetched
	Output    string       `json:"output,omitempty"` // Key of the saved artifact
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"started_at,omitempty"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
}
