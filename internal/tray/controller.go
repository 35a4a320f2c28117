package tray

import (
	"context"

	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/eventloop"
	"github.com/sigmaauth/sigma-launcher/internal/settings"
	"github.com/sigmaauth/sigma-launcher/internal/supervisor"
	"github.com/sigmaauth/sigma-launcher/internal/updatecheck"
)

// ActionEvent is a menu click delivered through the event loop.
type ActionEvent struct {
	Action Action
}

// UpdateEvent carries an update checker state change into the event loop.
type UpdateEvent struct {
	Info updatecheck.Info
}

// SettingsSaver persists settings.
type SettingsSaver interface {
	Save(settings.Settings) error
}

// Registrar toggles the login item.
type Registrar interface {
	Enable() error
	Disable() error
}

// Updater is the part of the update checker the menu drives.
type Updater interface {
	CheckAsync(ctx context.Context, userInitiated bool)
	InstallNow(ctx context.Context) error
}

// Opener surfaces the dashboard.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Renderer draws menus.
type Renderer interface {
	Render(Menu)
}

// Deps are the controller's collaborators. Autostart and Updater may be nil.
type Deps struct {
	Settings     SettingsSaver
	Autostart    Registrar
	Updater      Updater
	Dashboard    Opener
	DashboardURL string
	Renderer     Renderer

	// Post queues an event on the loop; restart requests go through it.
	Post func(eventloop.Event)
	// Quit runs the shutdown sequence.
	Quit func()
}

// Controller owns the menu view. All methods run on the event loop goroutine.
type Controller struct {
	deps   Deps
	logger *zap.SugaredLogger
	view   View

	quitting bool
}

// NewController creates a controller with the loaded settings.
func NewController(deps Deps, initial settings.Settings, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		deps:   deps,
		logger: logger,
		view: View{
			Status:   supervisor.StatusStarting,
			Settings: initial,
			Update:   updatecheck.Info{State: updatecheck.StateIdle},
		},
	}
}

// View returns the current view.
func (c *Controller) View() View {
	return c.view
}

// Settings returns the in-memory settings.
func (c *Controller) Settings() settings.Settings {
	return c.view.Settings
}

// Menu returns the menu for the current view.
func (c *Controller) Menu() Menu {
	return BuildMenu(c.view)
}

// Render pushes the current menu to the renderer.
func (c *Controller) Render() {
	if c.deps.Renderer != nil {
		c.deps.Renderer.Render(BuildMenu(c.view))
	}
}

// SetStatus records a supervisor transition and re-renders.
func (c *Controller) SetStatus(status supervisor.Status, reason string) {
	c.view.Status = status
	c.view.Reason = reason
	c.Render()
}

// Handle processes tray events; it reports whether ev was one.
func (c *Controller) Handle(ctx context.Context, ev eventloop.Event) bool {
	switch e := ev.(type) {
	case ActionEvent:
		c.handleAction(ctx, e.Action)
	case UpdateEvent:
		c.view.Update = e.Info
		c.Render()
	default:
		return false
	}
	return true
}

func (c *Controller) handleAction(ctx context.Context, a Action) {
	if c.quitting {
		return
	}
	c.logger.Infow("Menu action", "action", a)

	switch a {
	case ActionOpenDashboard:
		if c.view.Status != supervisor.StatusRunning {
			c.logger.Debugw("Dashboard unavailable while server is not running", "status", c.view.Status)
			return
		}
		c.openDashboard(ctx)
	case ActionRestartServer:
		if c.deps.Post != nil {
			c.deps.Post(supervisor.StartCommand{Manual: true})
		}
	case ActionToggleAutostart:
		c.toggle(func(s *settings.Settings) bool {
			s.LaunchAtLogin = !s.LaunchAtLogin
			return s.LaunchAtLogin
		}, c.applyAutostart)
	case ActionToggleBeta:
		c.toggle(func(s *settings.Settings) bool {
			s.UseBetaChannel = !s.UseBetaChannel
			return s.UseBetaChannel
		}, func(bool) {
			if c.deps.Updater != nil {
				c.deps.Updater.CheckAsync(ctx, false)
			}
		})
	case ActionCheckUpdates:
		if c.deps.Updater != nil {
			c.deps.Updater.CheckAsync(ctx, true)
		}
	case ActionInstallUpdate:
		if c.deps.Updater != nil {
			updater := c.deps.Updater
			go func() {
				if err := updater.InstallNow(ctx); err != nil {
					c.logger.Warnw("Install from menu failed", "error", err)
				}
			}()
		}
	case ActionQuit:
		c.quitting = true
		if c.deps.Quit != nil {
			c.deps.Quit()
		}
	default:
		c.logger.Warnw("Unknown menu action", "action", a)
	}
}

// toggle flips a setting, persists it, applies its side effect and re-renders.
// A failed save keeps the new value for this session.
func (c *Controller) toggle(flip func(*settings.Settings) bool, apply func(bool)) {
	value := flip(&c.view.Settings)

	if c.deps.Settings != nil {
		if err := c.deps.Settings.Save(c.view.Settings); err != nil {
			c.logger.Errorw("Failed to save settings, change kept for this session", "error", err)
		}
	}
	apply(value)
	c.Render()
}

func (c *Controller) applyAutostart(enable bool) {
	if c.deps.Autostart == nil {
		c.logger.Warn("Launch at login is not available on this platform")
		return
	}
	var err error
	if enable {
		err = c.deps.Autostart.Enable()
	} else {
		err = c.deps.Autostart.Disable()
	}
	if err != nil {
		c.logger.Errorw("Failed to update launch at login", "enabled", enable, "error", err)
	}
}

func (c *Controller) openDashboard(ctx context.Context) {
	if c.deps.Dashboard == nil {
		return
	}
	opener, url := c.deps.Dashboard, c.deps.DashboardURL
	go func() {
		if err := opener.Open(ctx, url); err != nil {
			c.logger.Warnw("Failed to open dashboard", "url", url, "error", err)
		}
	}()
}
