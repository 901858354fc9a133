package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/config"
	"github.com/surge-downloader/odoo-images/internal/core"
	"github.com/surge-downloader/odoo-images/internal/engine/fetch"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/orchestrator"
	"github.com/surge-downloader/odoo-images/internal/save"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/tui"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// localBackend is an embedded job service plus the bucket it saves to
type localBackend struct {
	Service *core.LocalJobService
	Saver   *save.Saver
}

func (b *localBackend) Close() {
	if err := b.Service.Shutdown(); err != nil {
		utils.Debug("Error shutting down service: %v", err)
	}
	if err := b.Saver.Close(); err != nil {
		utils.Debug("Error closing bucket: %v", err)
	}
}

// newLocalBackend wires fetcher, saver and orchestrator from settings
func newLocalBackend(ctx context.Context, s *config.Settings) (*localBackend, error) {
	saver, err := save.Open(ctx, s.BucketURL())
	if err != nil {
		return nil, err
	}

	runtime := types.ConvertRuntimeConfig(s.ToRuntimeConfig())
	svc := core.NewLocalJobService(fetch.New(runtime), saver, columnsOf(s))
	return &localBackend{Service: svc, Saver: saver}, nil
}

func columnsOf(s *config.Settings) selection.Columns {
	return selection.Columns{ID: s.Odoo.IDColumn, Label: s.Odoo.LabelColumn}
}

// requireHost fails early when no Odoo host is configured for local jobs
func requireHost(s *config.Settings) error {
	if s.Odoo.Host == "" {
		return errors.New("no Odoo host configured: pass --host or set odoo.host in " + config.GetSettingsPath())
	}
	return nil
}

// signalContext is canceled on SIGINT/SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runLocalJob runs one job in-process and renders it with the TUI or a
// progress bar. It returns the job's error, if any.
func runLocalJob(cmd *cobra.Command, sel orchestrator.Selector) error {
	settings := settingsOrDefault()
	if err := requireHost(settings); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	backend, err := newLocalBackend(ctx, settings)
	if err != nil {
		return err
	}
	defer backend.Close()

	sub, unsubscribe, err := backend.Service.StreamEvents(ctx)
	if err != nil {
		return err
	}
	defer unsubscribe()

	h, err := backend.Service.Start(ctx, sel)
	if err != nil {
		return err
	}

	noTUI, _ := cmd.Flags().GetBool("no-tui")
	if noTUI {
		consumeHeadless(cmd.ErrOrStderr(), sub, h.ID, backend.Saver.Location)
		unsubscribe()
	} else {
		m := tui.InitialRootModel(sub, settings,
			tui.WithQuitOnReset(),
			tui.WithLocator(backend.Saver.Location),
		)
		_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
		// Nobody reads sub past this point; the job must not wait on it
		unsubscribe()
		if err != nil {
			cancel()
			h.Wait()
			return fmt.Errorf("run TUI: %w", err)
		}
		// The UI may be closed early; stop the job in that case
		select {
		case <-h.Done():
		default:
			cancel()
		}
	}

	res := h.Wait()
	return reportResult(cmd.OutOrStdout(), res, backend.Saver.Location)
}

// reportResult prints where the artifact went and maps the outcome to an error
func reportResult(w io.Writer, res orchestrator.Result, locate func(string) string) error {
	if res.Output != "" {
		_, _ = fmt.Fprintln(w, locate(res.Output))
	}
	if res.Err != nil {
		return res.Err
	}
	if res.Status == types.StatusFailed {
		return errors.New("download failed")
	}
	return nil
}
