package watch

import (
	"context"
	"log/slog"
	"sync"
)

// VisibleReporter receives visibility updates.
type VisibleReporter interface {
	SetVisible(visible bool)
}

// Visibility tracks whether the host is in the foreground.
type Visibility struct {
	reporter VisibleReporter
	logger   *slog.Logger

	mu      sync.Mutex
	visible bool
}

// NewVisibility creates a visibility watcher. The host starts visible.
func NewVisibility(reporter VisibleReporter, logger *slog.Logger) *Visibility {
	if logger == nil {
		logger = slog.Default()
	}
	return &Visibility{reporter: reporter, logger: logger, visible: true}
}

// Show marks the host visible.
func (v *Visibility) Show() { v.set(true) }

// Hide marks the host hidden. Reconnection pauses until Show.
func (v *Visibility) Hide() { v.set(false) }

// Visible returns the current visibility.
func (v *Visibility) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// Run applies events until ctx is done or events is closed.
func (v *Visibility) Run(ctx context.Context, events <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case visible, ok := <-events:
			if !ok {
				return nil
			}
			v.set(visible)
		}
	}
}

func (v *Visibility) set(visible bool) {
	v.mu.Lock()
	changed := v.visible != visible
	v.visible = visible
	v.mu.Unlock()

	if changed {
		v.logger.Debug("host visibility changed", "visible", visible)
	}
	v.reporter.SetVisible(visible)
}
