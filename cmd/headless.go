package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/surge-downloader/odoo-images/internal/engine/events"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Processing..."),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// consumeHeadless renders one job on w until its slot is released or the
// stream ends. An empty jobID follows the first job that starts.
func consumeHeadless(w io.Writer, sub <-chan any, jobID string, locate func(string) string) {
	bar := newProgressBar(w)

	for msg := range sub {
		switch m := msg.(type) {
		case events.JobStartedMsg:
			if jobID == "" {
				jobID = m.JobID
			}
		case events.ProgressMsg:
			if m.JobID != jobID {
				continue
			}
			if m.Phase == events.PhaseArchive {
				bar.Describe("Compressing...")
			}
			_ = bar.Set(int(m.Percent))
		case events.ItemFailedMsg:
			if m.JobID == jobID {
				_, _ = fmt.Fprintf(w, "\nFailed: %s (%v)\n", m.Ref.Name(), m.Err)
			}
		case events.NoticeMsg:
			if m.JobID == jobID || m.JobID == "" {
				_, _ = fmt.Fprintf(w, "\n%s\n", m.Text)
			}
		case events.JobCompleteMsg:
			if m.JobID != jobID {
				continue
			}
			_ = bar.Finish()
			if m.Output != "" {
				_, _ = fmt.Fprintf(w, "\nSaved %d image(s) to %s in %s [%s]\n", m.Saved, locate(m.Output), m.Elapsed.Round(time.Millisecond), shortID(m.JobID))
			} else {
				_, _ = fmt.Fprintf(w, "\nNothing saved [%s]\n", shortID(m.JobID))
			}
		case events.JobErrorMsg:
			if m.JobID == jobID {
				_, _ = fmt.Fprintf(w, "\nError: %v [%s]\n", m.Err, shortID(m.JobID))
			}
		case events.JobResetMsg:
			if m.JobID == jobID {
				return
			}
		}
	}
}

// logEvents prints one line per lifecycle event; used by serve
func logEvents(w io.Writer, sub <-chan any, locate func(string) string) {
	for msg := range sub {
		switch m := msg.(type) {
		case events.JobStartedMsg:
			_, _ = fmt.Fprintf(w, "Started: [%s]\n", shortID(m.JobID))
		case events.SelectionMsg:
			_, _ = fmt.Fprintf(w, "Selected: %d product(s) [%s]\n", len(m.Items), shortID(m.JobID))
		case events.ItemFailedMsg:
			_, _ = fmt.Fprintf(w, "Failed: %s [%s]: %v\n", m.Ref.Name(), shortID(m.JobID), m.Err)
		case events.JobCompleteMsg:
			output := "nothing saved"
			if m.Output != "" {
				output = locate(m.Output)
			}
			_, _ = fmt.Fprintf(w, "Completed: %s [%s] (in %s)\n", output, shortID(m.JobID), m.Elapsed)
		case events.JobErrorMsg:
			_, _ = fmt.Fprintf(w, "Error: [%s]: %v\n", shortID(m.JobID), m.Err)
		case events.NoticeMsg:
			_, _ = fmt.Fprintf(w, "Notice: %s\n", m.Text)
		}
	}
}
