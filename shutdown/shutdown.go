// Package shutdown provides cooperative, two-tier signal handling for the
// pipeline's long-running loop.
//
// The first SIGINT/SIGTERM sets a flag the driver observes at the top of
// each iteration, so the in-flight item finishes (or fails) normally before
// the loop exits. The handler then stops intercepting, so a second signal
// gets the platform's default abrupt termination: an operator is never
// trapped unable to force-quit.
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/opraflow/opraflow/logger"
)

// Handler is the cooperative shutdown manager.
//
// Usage:
//
//	h := shutdown.New()
//	h.Install()
//	defer h.Uninstall()
//
//	for _, item := range items {
//	    if h.Requested() {
//	        break
//	    }
//	    process(item)
//	}
type Handler struct {
	requested atomic.Bool
	ch        chan os.Signal
	done      chan struct{}
}

// New returns an uninstalled Handler.
func New() *Handler {
	return &Handler{}
}

// Install begins intercepting SIGINT and SIGTERM. Call once at run start.
func (h *Handler) Install() {
	h.ch = make(chan os.Signal, 1)
	h.done = make(chan struct{})
	signal.Notify(h.ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-h.ch:
			h.requested.Store(true)
			logger.Logger.Warnw("Shutdown requested, finishing current item",
				"hint", "press Ctrl+C again to force quit")
			// Stop intercepting: the next signal falls through to the
			// platform default and terminates the process.
			signal.Stop(h.ch)
		case <-h.done:
		}
	}()
}

// Uninstall restores default signal handling. Safe to call after the
// handler already fired.
func (h *Handler) Uninstall() {
	if h.ch == nil {
		return
	}
	signal.Stop(h.ch)
	close(h.done)
	h.ch = nil
}

// Requested reports whether a shutdown has been requested.
func (h *Handler) Requested() bool {
	return h.requested.Load()
}

// Trigger marks shutdown as requested without a signal. Used by tests and
// by callers that want to stop the loop programmatically.
func (h *Handler) Trigger() {
	h.requested.Store(true)
}
