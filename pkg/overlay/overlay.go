// Package overlay is component I: a thread-safe text mutation funneled
// through a single owner goroutine, so that callers from any goroutine
// never race the conceptual media main loop that actually owns the
// zsad_overlay element.
package overlay

import (
	"context"
	"log/slog"
	"sync"
)

// Backend readiness strings advertised as the default overlay text,
// carried verbatim from the original pipeline's _default_overlay_text.
const (
	TextTritonOn = "ZSAD TRITON ON"
	TextOn       = "ZSAD ON"
	TextOff      = "ZSAD OFF"
)

// DefaultText maps a zsad_backend value to its default overlay string.
func DefaultText(backend string) string {
	switch backend {
	case "triton":
		return TextTritonOn
	case "siglip":
		return TextOn
	default:
		return TextOff
	}
}

// Updater owns the zsad_overlay element's text property. Set is safe from
// any goroutine; Run drains pending updates on a single owner goroutine,
// matching GLib.idle_add's main-loop marshalling in the original pipeline.
type Updater struct {
	logger *slog.Logger
	apply  func(string)

	pending chan string

	mu      sync.RWMutex
	current string
}

// New creates an Updater. apply is called on the owner goroutine started by
// Run with the latest pending text (the single-slot channel coalesces
// bursts, so Set calls made before Run drains the slot are never applied
// individually and a slow apply never backs up callers).
func New(apply func(string), logger *slog.Logger) *Updater {
	return &Updater{
		logger:  logger,
		apply:   apply,
		pending: make(chan string, 1),
	}
}

// Set schedules text to be applied on the owner goroutine. Non-blocking: if
// an update is already pending, it is replaced with the newer text.
func (u *Updater) Set(text string) {
	u.mu.Lock()
	u.current = text
	u.mu.Unlock()

	select {
	case u.pending <- text:
	default:
		select {
		case <-u.pending:
		default:
		}
		select {
		case u.pending <- text:
		default:
		}
	}
}

// Current returns the last text passed to Set, regardless of whether the
// owner goroutine has applied it yet.
func (u *Updater) Current() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.current
}

// Run drains pending updates and calls apply for each, until ctx is
// cancelled. It is the "media framework main loop" thread for this one
// element.
func (u *Updater) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-u.pending:
			u.apply(text)
		}
	}
}
