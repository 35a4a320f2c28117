//go:build !nogui

package tray

import (
	"context"
	"sync"

	"fyne.io/systray"
	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/supervisor"
)

// SystrayRenderer draws the menu with fyne.io/systray. Run must be called from
// the main goroutine.
type SystrayRenderer struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	ready    bool
	items    map[Action]*systray.MenuItem
	last     map[Action]Item
	pending  *Menu
	status   supervisor.Status
	hasIcon  bool
	stopOnce sync.Once
}

// NewRenderer returns the platform tray renderer.
func NewRenderer(logger *zap.SugaredLogger) *SystrayRenderer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SystrayRenderer{
		logger: logger,
		items:  make(map[Action]*systray.MenuItem),
		last:   make(map[Action]Item),
	}
}

// Run blocks in the systray loop until Quit or ctx ends. Clicks are passed to onClick.
func (r *SystrayRenderer) Run(ctx context.Context, onClick func(Action)) {
	r.logger.Info("Starting system tray")

	go func() {
		<-ctx.Done()
		r.Quit()
	}()

	systray.Run(func() { r.onReady(ctx, onClick) }, func() {
		r.logger.Info("System tray exiting")
	})
}

// Quit leaves the systray loop.
func (r *SystrayRenderer) Quit() {
	r.stopOnce.Do(systray.Quit)
}

func (r *SystrayRenderer) onReady(ctx context.Context, onClick func(Action)) {
	systray.SetTooltip("Sigma Launcher")

	r.mu.Lock()
	for _, a := range Actions {
		if SeparatorBefore(a) {
			systray.AddSeparator()
		}
		var item *systray.MenuItem
		if a == ActionToggleAutostart || a == ActionToggleBeta {
			item = systray.AddMenuItemCheckbox(string(a), "", false)
		} else {
			item = systray.AddMenuItem(string(a), "")
		}
		r.items[a] = item

		go func(a Action, item *systray.MenuItem) {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-item.ClickedCh:
					if !ok {
						return
					}
					onClick(a)
				}
			}
		}(a, item)
	}
	r.ready = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	if pending != nil {
		r.Render(*pending)
	}
	r.logger.Info("System tray ready")
}

// Render updates only the items whose state changed.
func (r *SystrayRenderer) Render(m Menu) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		r.pending = &m
		return
	}

	if !r.hasIcon || r.status != m.Status {
		systray.SetIcon(StatusIcon(m.Status))
		r.status = m.Status
		r.hasIcon = true
	}
	systray.SetTooltip(m.Tooltip)

	for _, it := range m.Items {
		item := r.items[it.Action]
		if item == nil {
			continue
		}
		prev, seen := r.last[it.Action]
		if seen && prev == it {
			continue
		}
		item.SetTitle(it.Title)
		item.SetTooltip(it.Tooltip)
		if it.Enabled {
			item.Enable()
		} else {
			item.Disable()
		}
		if it.Checkable {
			if it.Checked {
				item.Check()
			} else {
				item.Uncheck()
			}
		}
		if it.Visible {
			item.Show()
		} else {
			item.Hide()
		}
		r.last[it.Action] = it
	}
}
