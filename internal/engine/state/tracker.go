// Package state owns the single process-wide job slot.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

// Tracker guards the job slot. Only one job may leave Idle at a time;
// the slot is released by Reset.
type Tracker struct {
	status atomic.Int32

	mu   sync.RWMutex
	snap types.JobSnapshot
}

// NewTracker returns an idle tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// TryStart moves the tracker from Idle to Running. It reports false, leaving
// the current job untouched, if the slot is taken.
func (t *Tracker) TryStart(id string) bool {
	if !t.status.CompareAndSwap(int32(types.StatusIdle), int32(types.StatusRunning)) {
		return false
	}

	t.mu.Lock()
	t.snap = types.JobSnapshot{
		ID:        id,
		Status:    types.StatusRunning,
		StartedAt: time.Now(),
	}
	t.mu.Unlock()
	return true
}

// Status returns the current lifecycle state
func (t *Tracker) Status() types.JobStatus {
	return types.JobStatus(t.status.Load())
}

// SetItems records the selection of the running job
func (t *Tracker) SetItems(items []types.ProductRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Items = append([]types.ProductRef(nil), items...)
}

// SetProgress records progress, clamped to [0,100]. Progress never moves
// backwards; the effective value is returned.
func (t *Tracker) SetProgress(percent float64) float64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if percent > t.snap.Progress {
		t.snap.Progress = percent
	}
	return t.snap.Progress
}

// Progress returns the current percentage
func (t *Tracker) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Progress
}

// MarkFailed records an item that could not be fetched
func (t *Tracker) MarkFailed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Failed = append(t.snap.Failed, id)
}

// Finish moves a running job to Completed or Failed
func (t *Tracker) Finish(status types.JobStatus, output string, err error) {
	if status != types.StatusCompleted && status != types.StatusFailed {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.CompareAndSwap(int32(types.StatusRunning), int32(status)) {
		return
	}
	t.snap.Status = status
	t.snap.Output = output
	t.snap.EndedAt = time.Now()
	if err != nil {
		t.snap.Error = err.Error()
	}
}

// Reset releases the slot. The last snapshot stays readable until the next job starts.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = types.StatusIdle
	t.status.Store(int32(types.StatusIdle))
}

// Snapshot returns a copy of the current job
func (t *Tracker) Snapshot() types.JobSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := t.snap
	snap.Status = types.JobStatus(t.status.Load())
	snap.Items = append([]types.ProductRef(nil), t.snap.Items...)
	snap.Failed = append([]string(nil), t.snap.Failed...)
	return snap
}
