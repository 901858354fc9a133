package core

import (
	"context"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

// JobService defines the interface for triggering and observing image jobs.
// This abstraction allows the CLI and TUI to switch between an embedded
// orchestrator and a running `serve` instance.
type JobService interface {
	// Submit starts a job for an explicit list of products and returns its ID.
	Submit(ctx context.Context, refs []types.ProductRef) (string, error)

	// SubmitPage starts a job whose selection is read from list-view HTML.
	SubmitPage(ctx context.Context, html string) (string, error)

	// Status returns the current or last job.
	Status() (types.JobSnapshot, error)

	// StreamEvents returns a channel that receives job events.
	// For local mode, this is a bus subscription.
	// For remote mode, this is sourced from SSE.
	StreamEvents(ctx context.Context) (<-chan any, func(), error)

	// Shutdown handles graceful shutdown of the service
	Shutdown() error
}
