package core

import (
	"context"
	"strings"
	"sync"

	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/orchestrator"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// LocalJobService implements JobService around an in-process orchestrator.
type LocalJobService struct {
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	Columns      selection.Columns

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalJobService wires an orchestrator to a fresh event bus.
func NewLocalJobService(f orchestrator.Fetcher, s orchestrator.Saver, cols selection.Columns) *LocalJobService {
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalJobService{
		Orchestrator: orchestrator.New(f, s, bus),
		Bus:          bus,
		Columns:      cols,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start runs a job for any selector. The job keeps the values of ctx (session
// headers, host) but is only canceled by Shutdown.
func (s *LocalJobService) Start(ctx context.Context, sel orchestrator.Selector) (*orchestrator.Handle, error) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.ctx, cancel)

	h, err := s.Orchestrator.Start(jobCtx, sel)
	if err != nil {
		stop()
		cancel()
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-h.Done()
		stop()
		cancel()
	}()
	return h, nil
}

// Submit starts a job for an explicit list of products.
func (s *LocalJobService) Submit(ctx context.Context, refs []types.ProductRef) (string, error) {
	h, err := s.Start(ctx, orchestrator.Refs(refs))
	if err != nil {
		return "", err
	}
	return h.ID, nil
}

// SubmitPage starts a job whose selection is extracted from list-view HTML.
func (s *LocalJobService) SubmitPage(ctx context.Context, html string) (string, error) {
	h, err := s.Start(ctx, s.PageSelector(html))
	if err != nil {
		return "", err
	}
	return h.ID, nil
}

// PageSelector reads the selected rows of a list view once the job runs.
func (s *LocalJobService) PageSelector(html string) orchestrator.Selector {
	cols := s.Columns
	return func(context.Context) ([]types.ProductRef, error) {
		return selection.Extract(strings.NewReader(html), cols)
	}
}

// Status returns the current or last job.
func (s *LocalJobService) Status() (types.JobSnapshot, error) {
	return s.Orchestrator.Status(), nil
}

// StreamEvents subscribes to the bus. The subscription ends when the returned
// func is called or ctx is done.
func (s *LocalJobService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	ch, unsubscribe := s.Bus.Subscribe()
	if ctx != nil {
		stop := context.AfterFunc(ctx, unsubscribe)
		return ch, func() {
			stop()
			unsubscribe()
		}, nil
	}
	return ch, unsubscribe, nil
}

// Shutdown cancels running jobs, waits for the slot to be released and
// closes the bus.
func (s *LocalJobService) Shutdown() error {
	s.cancel()
	s.wg.Wait()
	s.Bus.Close()
	utils.Debug("LocalJobService: shut down")
	return nil
}
