//go:build nogui

package tray

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// HeadlessRenderer logs menu changes instead of drawing them.
type HeadlessRenderer struct {
	logger *zap.SugaredLogger

	mu   sync.Mutex
	last Menu
	quit chan struct{}
	once sync.Once
}

// NewRenderer returns the headless renderer.
func NewRenderer(logger *zap.SugaredLogger) *HeadlessRenderer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HeadlessRenderer{logger: logger, quit: make(chan struct{})}
}

// Run blocks until Quit or ctx ends.
func (r *HeadlessRenderer) Run(ctx context.Context, _ func(Action)) {
	r.logger.Info("Tray disabled (nogui build)")
	select {
	case <-ctx.Done():
	case <-r.quit:
	}
}

// Quit unblocks Run.
func (r *HeadlessRenderer) Quit() {
	r.once.Do(func() { close(r.quit) })
}

// Render logs the status line and tooltip.
func (r *HeadlessRenderer) Render(m Menu) {
	r.mu.Lock()
	r.last = m
	r.mu.Unlock()

	status, _ := m.Item(ActionStatus)
	r.logger.Infow("Tray menu updated", "status", status.Title, "tooltip", m.Tooltip)
}

// Last returns the most recent menu.
func (r *HeadlessRenderer) Last() Menu {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
