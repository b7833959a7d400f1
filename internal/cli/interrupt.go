package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns SIGINT/SIGTERM into context cancellation and tells
// the user how to pick the work up again.
type InterruptHandler struct {
	writer      io.Writer
	sigChan     chan os.Signal
	batchID     string
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{
		writer:  writer,
		sigChan: make(chan os.Signal, 1),
	}
}

// SetBatch names the batch whose progress the interrupt message reports.
func (h *InterruptHandler) SetBatch(batchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batchID = batchID
}

// HandleInterrupts returns a context that is canceled on the first interrupt.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signal.Notify(h.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer cancel()
		defer signal.Stop(h.sigChan)
		select {
		case <-h.sigChan:
			h.mu.Lock()
			if !h.interrupted {
				h.interrupted = true
				h.showInterruptMessage()
			}
			h.mu.Unlock()
		case <-ctx.Done():
		}
	}()

	return ctx
}

// showInterruptMessage must be called with mu held.
func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Classification interrupted!")

	if h.batchID != "" {
		msg += "\n" + FormatInfo("Documents already classified stay pending review.")
		msg += "\n" + FormatInfo("Resume with: ledgerline batch resume "+h.batchID)
	}
	msg += "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
