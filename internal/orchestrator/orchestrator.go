// Package orchestrator runs image download jobs: one job at a time, selection
// first, then sequential fetches, an optional archive and a save.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surge-downloader/odoo-images/internal/archive"
	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/state"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

var (
	// ErrJobInProgress is returned when a trigger arrives while a job holds the slot
	ErrJobInProgress = errors.New("a download is already in progress")
	// ErrJobPanicked wraps a recovered panic inside a job
	ErrJobPanicked = errors.New("download job crashed")
	// ErrNothingDownloaded is reported when every image of a multi-product job failed
	ErrNothingDownloaded = errors.New("none of the selected images could be downloaded")
)

// Share of the overall progress bar given to the fetch phase of a
// multi-product job. Per-item progress is (completed/total)*fetchWeight and
// archive finalization fills the remaining 10% from the builder's own
// percentage, so 100 is reached only once the bundle is finalized while
// progress stays monotonic.
const fetchWeight = 90.0

// Notice texts
const (
	NoticeBusy        = "Wait for the current download to finish first."
	NoticeNoSelection = "Select at least one product."
	NoticeNoIDColumn  = "Show the ID column in the list view to download images."
	NoticeFetchFailed = "An error occurred while downloading."
	NoticeNoneSaved   = "None of the selected images could be downloaded."
)

// Selector produces the products for a job. It runs after the job passed the
// entry guard.
type Selector func(ctx context.Context) ([]types.ProductRef, error)

// Refs returns a Selector for a fixed list of products
func Refs(refs []types.ProductRef) Selector {
	items := append([]types.ProductRef(nil), refs...)
	return func(context.Context) ([]types.ProductRef, error) {
		if len(items) == 0 {
			return nil, selection.ErrNoSelection
		}
		return items, nil
	}
}

// Fetcher downloads one product image
type Fetcher interface {
	Fetch(ctx context.Context, ref types.ProductRef) ([]byte, error)
}

// Saver persists an artifact and returns the key it was written under
type Saver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Publisher receives job events (progress, notices, lifecycle)
type Publisher interface {
	Publish(msg any)
}

// Orchestrator owns the job slot and runs jobs
type Orchestrator struct {
	Fetcher     Fetcher
	Saver       Saver
	Events      Publisher
	LoadArchive archive.Loader
	// ResetDelay is how long a finished job stays visible before the slot is released
	ResetDelay time.Duration

	tracker *state.Tracker
	newID   func() string
}

// New creates an orchestrator with the zip archiver and the standard reset delay
func New(f Fetcher, s Saver, pub Publisher) *Orchestrator {
	return &Orchestrator{
		Fetcher:     f,
		Saver:       s,
		Events:      pub,
		LoadArchive: archive.LoadZip,
		ResetDelay:  types.ResetDelay,
		tracker:     state.NewTracker(),
		newID:       uuid.NewString,
	}
}

// Result is the outcome of a finished job
type Result struct {
	JobID  string
	Status types.JobStatus
	Output string // Key of the saved artifact, empty when nothing was saved
	Saved  int
	Failed []types.ProductRef
	Err    error
}

// Handle tracks a started job
type Handle struct {
	ID string

	terminal chan struct{}
	done     chan struct{}
	once     sync.Once
	result   Result
}

// Terminal is closed once the job reached Completed or Failed
func (h *Handle) Terminal() <-chan struct{} { return h.terminal }

// Done is closed once the slot was released and the orchestrator is idle again
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome. Valid after Terminal is closed.
func (h *Handle) Result() Result {
	<-h.terminal
	return h.result
}

// Wait blocks until the orchestrator is idle again and returns the outcome
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Status returns a snapshot of the current or last job
func (o *Orchestrator) Status() types.JobSnapshot {
	return o.tracker.Snapshot()
}

// Busy reports whether the job slot is taken
func (o *Orchestrator) Busy() bool {
	return o.tracker.Status() != types.StatusIdle
}

// Start claims the job slot and runs the job in the background. While a job
// holds the slot the call is rejected with ErrJobInProgress.
func (o *Orchestrator) Start(ctx context.Context, sel Selector) (*Handle, error) {
	id := o.newID()
	if !o.tracker.TryStart(id) {
		utils.Debug("Orchestrator: trigger rejected, job %s still holds the slot", o.tracker.Snapshot().ID)
		// The caller may itself be a bus subscriber, so it must not wait on delivery
		go o.notify("", events.NoticeWarning, NoticeBusy)
		return nil, ErrJobInProgress
	}

	h := &Handle{
		ID:       id,
		terminal: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.run(ctx, h, sel)
	return h, nil
}

// Run starts a job and waits until the orchestrator is idle again
func (o *Orchestrator) Run(ctx context.Context, sel Selector) (Result, error) {
	h, err := o.Start(ctx, sel)
	if err != nil {
		return Result{}, err
	}
	return h.Wait(), nil
}

func (o *Orchestrator) run(ctx context.Context, h *Handle, sel Selector) {
	start := time.Now()
	immediate := false

	defer func() {
		h.once.Do(func() { close(h.terminal) })

		if !immediate && o.ResetDelay > 0 {
			timer := time.NewTimer(o.ResetDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}

		o.tracker.Reset()
		o.publish(events.JobResetMsg{JobID: h.ID})
		close(h.done)
	}()

	o.publish(events.JobStartedMsg{JobID: h.ID})
	o.progress(h.ID, 0, events.PhaseFetch, 0, 0)

	var res Result
	res, immediate = o.execute(ctx, h.ID, sel)

	o.tracker.Finish(res.Status, res.Output, res.Err)
	h.result = res
	h.once.Do(func() { close(h.terminal) })

	if res.Status == types.StatusCompleted {
		o.publish(events.JobCompleteMsg{
			JobID:   h.ID,
			Output:  res.Output,
			Saved:   res.Saved,
			Failed:  len(res.Failed),
			Elapsed: time.Since(start),
		})
	} else {
		o.publish(events.JobErrorMsg{JobID: h.ID, Err: res.Err})
	}
}

// execute runs the job body. immediate reports that the slot should be
// released without the display delay (precondition and archiver failures).
func (o *Orchestrator) execute(ctx context.Context, id string, sel Selector) (res Result, immediate bool) {
	res = Result{JobID: id, Status: types.StatusFailed}

	defer func() {
		if r := recover(); r != nil {
			utils.Logger().WithField("job_id", id).Errorf("job panicked: %v", r)
			res = Result{JobID: id, Status: types.StatusFailed, Err: fmt.Errorf("%w: %v", ErrJobPanicked, r)}
			immediate = false
			o.notify(id, events.NoticeError, res.Err.Error())
		}
	}()

	refs, err := sel(ctx)
	if err != nil {
		res.Err = err
		o.notify(id, events.NoticeWarning, selectionNotice(err))
		return res, true
	}
	if len(refs) == 0 {
		res.Err = selection.ErrNoSelection
		o.notify(id, events.NoticeWarning, NoticeNoSelection)
		return res, true
	}

	o.tracker.SetItems(refs)
	o.publish(events.SelectionMsg{JobID: id, Items: refs})
	utils.Debug("Orchestrator: job %s started with %d product(s)", id, len(refs))

	if len(refs) == 1 {
		return o.runSingle(ctx, id, refs[0]), false
	}
	return o.runMulti(ctx, id, refs)
}

func (o *Orchestrator) runSingle(ctx context.Context, id string, ref types.ProductRef) Result {
	res := Result{JobID: id, Status: types.StatusCompleted}

	data, err := o.Fetcher.Fetch(ctx, ref)
	if err != nil {
		o.itemFailed(id, ref, err)
		res.Failed = []types.ProductRef{ref}
		o.notify(id, events.NoticeError, NoticeFetchFailed)
		return res
	}
	o.progress(id, 100, events.PhaseFetch, 1, 1)

	key, err := o.save(ctx, id, ref.Name()+types.ImageExtension, data)
	if err != nil {
		res.Status = types.StatusFailed
		res.Err = err
		return res
	}
	res.Output = key
	res.Saved = 1
	return res
}

func (o *Orchestrator) runMulti(ctx context.Context, id string, refs []types.ProductRef) (Result, bool) {
	res := Result{JobID: id, Status: types.StatusFailed}

	builder, err := o.LoadArchive(ctx)
	if err != nil {
		var le *archive.LoadError
		if !errors.As(err, &le) {
			err = &archive.LoadError{Format: "zip", Err: err}
		}
		res.Err = err
		o.notify(id, events.NoticeError, err.Error())
		return res, true
	}

	total := len(refs)
	for i, ref := range refs {
		data, err := o.Fetcher.Fetch(ctx, ref)
		if err == nil {
			err = builder.Add(utils.SanitizeFilename(ref.Name()+types.ImageExtension), data)
		}
		if err != nil {
			o.itemFailed(id, ref, err)
			res.Failed = append(res.Failed, ref)
		}
		o.progress(id, float64(i+1)/float64(total)*fetchWeight, events.PhaseFetch, i+1, total)
	}

	if builder.Len() == 0 {
		res.Status = types.StatusCompleted
		res.Err = ErrNothingDownloaded
		o.notify(id, events.NoticeError, NoticeNoneSaved)
		return res, false
	}

	bundle, err := builder.Finalize(ctx, func(percent float64) {
		o.progress(id, fetchWeight+percent*(100-fetchWeight)/100, events.PhaseArchive, total, total)
	})
	if err != nil {
		res.Err = fmt.Errorf("failed to build archive: %w", err)
		o.notify(id, events.NoticeError, res.Err.Error())
		return res, false
	}
	o.progress(id, 100, events.PhaseArchive, total, total)

	key, err := o.save(ctx, id, types.ArchiveName, bundle)
	if err != nil {
		res.Err = err
		return res, false
	}

	res.Status = types.StatusCompleted
	res.Output = key
	res.Saved = builder.Len()
	return res, false
}

func (o *Orchestrator) save(ctx context.Context, id, name string, data []byte) (string, error) {
	key, err := o.Saver.Save(ctx, name, data)
	if err != nil {
		utils.Logger().WithField("job_id", id).WithError(err).Errorf("failed to save %s", name)
		o.notify(id, events.NoticeError, fmt.Sprintf("Could not save %s: %v", name, err))
		return "", err
	}
	return key, nil
}

func (o *Orchestrator) itemFailed(id string, ref types.ProductRef, err error) {
	utils.Logger().
		WithField("job_id", id).
		WithField("product_id", ref.ID).
		WithError(err).
		Warn("image download failed")
	o.tracker.MarkFailed(ref.ID)
	o.publish(events.ItemFailedMsg{JobID: id, Ref: ref, Err: err})
}

func (o *Orchestrator) progress(id string, percent float64, phase events.Phase, completed, total int) {
	p := o.tracker.SetProgress(percent)
	o.publish(events.ProgressMsg{
		JobID:     id,
		Percent:   p,
		Phase:     phase,
		Completed: completed,
		Total:     total,
	})
}

func (o *Orchestrator) notify(id string, kind events.NoticeKind, text string) {
	o.publish(events.NoticeMsg{JobID: id, Kind: kind, Text: text})
}

func (o *Orchestrator) publish(msg any) {
	if o.Events != nil {
		o.Events.Publish(msg)
	}
}

func selectionNotice(err error) string {
	switch {
	case errors.Is(err, selection.ErrMissingIDColumn):
		return NoticeNoIDColumn
	case errors.Is(err, selection.ErrNoSelection):
		return NoticeNoSelection
	default:
		return fmt.Sprintf("Could not read the selection: %v", err)
	}
}
