package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/ledgerline/internal/model"
)

// BatchProgress draws a batch's completed count as a progress bar.
type BatchProgress struct {
	bar    *progressbar.ProgressBar
	writer io.Writer
	last   int
}

// NewBatchProgress creates a bar for a batch of total documents.
func NewBatchProgress(w io.Writer, total int) *BatchProgress {
	p := &BatchProgress{writer: w}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Classifying documents...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return p
}

// Update moves the bar to the status's completed count. It never moves
// backwards.
func (p *BatchProgress) Update(status *model.BatchStatus) {
	completed := status.Completed()
	if completed <= p.last {
		return
	}
	p.last = completed
	if err := p.bar.Set(completed); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Completed returns the last count drawn.
func (p *BatchProgress) Completed() int {
	return p.last
}
