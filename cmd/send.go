package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/core"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

var sendCmd = &cobra.Command{
	Use:   "send [id[:label]]...",
	Short: "Submit a job to a running odoo-images serve",
	Long: `send posts products (arguments or --file) or a saved list view (--page) to a
running serve instance. With --wait it follows the job until it is over.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := remoteServiceFromFlags(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = svc.Shutdown() }()

		wait, _ := cmd.Flags().GetBool("wait")
		pagePath, _ := cmd.Flags().GetString("page")

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		var stream <-chan any
		if wait {
			var cleanup func()
			stream, cleanup, err = svc.StreamEvents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
		}

		var id string
		if pagePath != "" {
			doc, err := readPage(cmd.InOrStdin(), pagePath)
			if err != nil {
				return err
			}
			id, err = svc.SubmitPage(ctx, doc)
			if err != nil {
				return err
			}
		} else {
			refs, err := collectRefs(cmd, args)
			if err != nil {
				return err
			}
			id, err = svc.Submit(ctx, refs)
			if err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Started job %s\n", shortID(id))
		if !wait {
			return nil
		}

		waitRemote(ctx, cmd, svc, stream, id)
		return remoteOutcome(svc, id)
	},
}

// statusPollInterval backs up the event stream, which may connect after the
// job already started
const statusPollInterval = time.Second

// waitRemote renders job id until its slot is released on the server
func waitRemote(ctx context.Context, cmd *cobra.Command, svc core.JobService, stream <-chan any, id string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumeHeadless(cmd.ErrOrStderr(), stream, id, func(key string) string { return key })
	}()

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := svc.Status()
			if err == nil && snap.ID == id && snap.Status == types.StatusIdle {
				select {
				case <-done:
				case <-time.After(500 * time.Millisecond):
				}
				return
			}
		}
	}
}

// remoteOutcome turns the final snapshot of job id into an error
func remoteOutcome(svc core.JobService, id string) error {
	snap, err := svc.Status()
	if err != nil {
		return err
	}
	if snap.ID == id && snap.Error != "" {
		return fmt.Errorf("job %s: %s", shortID(id), snap.Error)
	}
	return nil
}

// remoteServiceFromFlags resolves --server/--token into a client
func remoteServiceFromFlags(cmd *cobra.Command) (*core.RemoteJobService, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	insecure, _ := cmd.Flags().GetBool("insecure-http")

	baseURL, token, err := resolveAPIConnection(server, token, insecure)
	if err != nil {
		return nil, err
	}
	svc := core.NewRemoteJobService(baseURL, token)

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := svc.Health(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", baseURL, err)
	}
	return svc, nil
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "Address of the serve instance, host:port or URL (or set "+envServer+")")
	cmd.Flags().String("token", "", "Bearer token for the serve instance (or set "+envToken+")")
	cmd.Flags().Bool("insecure-http", false, "Allow plain HTTP for non-loopback targets")
}

func init() {
	addRemoteFlags(sendCmd)
	sendCmd.Flags().StringP("file", "f", "", "File with one id[:label] per line (# starts a comment)")
	sendCmd.Flags().String("page", "", "Saved list view HTML to submit instead of ids (- for stdin)")
	sendCmd.Flags().BoolP("wait", "w", false, "Follow the job until it is over")
	rootCmd.AddCommand(sendCmd)
}
