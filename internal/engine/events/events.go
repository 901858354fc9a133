package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

// Phase identifies which part of a job a progress update belongs to
type Phase string

const (
	PhaseFetch   Phase = "fetch"
	PhaseArchive Phase = "archive"
	PhaseSave    Phase = "save"
)

// JobStartedMsg is sent when a job passes the entry guard and the progress indicator appears
type JobStartedMsg struct {
	JobID string
}

// SelectionMsg is sent once the selection has been read
type SelectionMsg struct {
	JobID string
	Items []types.ProductRef
}

// ProgressMsg represents a progress update from the orchestrator
type ProgressMsg struct {
	JobID     string
	Percent   float64 // Overall job progress, 0-100, non-decreasing
	Phase     Phase
	Completed int // Items processed so far (fetch phase)
	Total     int
}

// ItemFailedMsg signals that one product image could not be fetched.
// The job keeps going.
type ItemFailedMsg struct {
	JobID string
	Ref   types.ProductRef
	Err   error
}

func (m ItemFailedMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		JobID string           `json:"JobID"`
		Ref   types.ProductRef `json:"Ref"`
		Err   string           `json:"Err,omitempty"`
	}
	out := encoded{JobID: m.JobID, Ref: m.Ref}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}
	return json.Marshal(out)
}

func (m *ItemFailedMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID string           `json:"JobID"`
		Ref   types.ProductRef `json:"Ref"`
		Err   json.RawMessage  `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.JobID = aux.JobID
	m.Ref = aux.Ref
	m.Err = decodeErr(aux.Err)
	return nil
}

// JobCompleteMsg signals that the job finished and its artifact was handled
type JobCompleteMsg struct {
	JobID   string
	Output  string // Key of the saved artifact, empty when nothing was saved
	Saved   int    // Images written (directly or inside the archive)
	Failed  int
	Elapsed time.Duration
}

// JobErrorMsg signals that the job failed as a whole
type JobErrorMsg struct {
	JobID string
	Err   error
}

func (m JobErrorMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		JobID string `json:"JobID"`
		Err   string `json:"Err,omitempty"`
	}

	out := encoded{JobID: m.JobID}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}

	return json.Marshal(out)
}

func (m *JobErrorMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID string          `json:"JobID"`
		Err   json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.JobID = aux.JobID
	m.Err = decodeErr(aux.Err)
	return nil
}

func decodeErr(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	// Most common case: server sends Err as a string.
	var errStr string
	if err := json.Unmarshal(raw, &errStr); err == nil {
		if errStr != "" {
			return errors.New(errStr)
		}
		return nil
	}

	// Accept non-string payloads (e.g. {}).
	s := string(raw)
	if s != "" && s != "null" {
		return errors.New(s)
	}
	return nil
}

// JobResetMsg is sent when the progress indicator is removed and the orchestrator is idle again
type JobResetMsg struct {
	JobID string
}

// NoticeKind classifies user-facing notices
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// NoticeMsg is a blocking, user-facing message (an alert in the browser, a modal in the TUI)
type NoticeMsg struct {
	JobID string
	Kind  NoticeKind
	Text  string
}
