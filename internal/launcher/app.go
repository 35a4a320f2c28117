// Package launcher wires the supervisor, tray, update checker and single-instance
// plumbing onto one event loop and owns the startup and shutdown order.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/autostart"
	"github.com/sigmaauth/sigma-launcher/internal/config"
	"github.com/sigmaauth/sigma-launcher/internal/deeplink"
	"github.com/sigmaauth/sigma-launcher/internal/desktop"
	"github.com/sigmaauth/sigma-launcher/internal/eventloop"
	"github.com/sigmaauth/sigma-launcher/internal/health"
	"github.com/sigmaauth/sigma-launcher/internal/observability"
	"github.com/sigmaauth/sigma-launcher/internal/serverenv"
	"github.com/sigmaauth/sigma-launcher/internal/settings"
	"github.com/sigmaauth/sigma-launcher/internal/singleton"
	"github.com/sigmaauth/sigma-launcher/internal/socket"
	"github.com/sigmaauth/sigma-launcher/internal/storage"
	"github.com/sigmaauth/sigma-launcher/internal/supervisor"
	"github.com/sigmaauth/sigma-launcher/internal/tray"
	"github.com/sigmaauth/sigma-launcher/internal/updatecheck"
)

const (
	// BinaryName is the launcher executable name inside release assets.
	BinaryName = "sigma-launcher"

	stopGrace        = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
	activateTimeout  = 3 * time.Second
	loopCallTimeout  = 2 * time.Second
	serverWaitMargin = 2 * time.Second
)

// ActivationEvent is posted when another launch hands over its arguments, and once
// at startup for our own arguments.
type ActivationEvent struct {
	Args []string
	// Initial marks the launch's own arguments; it never focuses the dashboard.
	Initial bool
}

// TrayRenderer draws the menu and owns the UI thread while Run blocks.
type TrayRenderer interface {
	tray.Renderer
	Run(ctx context.Context, onClick func(tray.Action))
	Quit()
}

// Notifier shows desktop notifications.
type Notifier interface {
	Notify(title, message string)
}

// Options carries the collaborators New would otherwise build itself.
type Options struct {
	Config  *config.Config
	Version string
	// Args are the command line arguments after the program name.
	Args []string

	Renderer  TrayRenderer
	Notifier  Notifier
	Prompter  updatecheck.Prompter
	Dashboard tray.Opener
	Autostart autostart.Registrar
	// Executable is relaunched after an update; defaults to os.Executable.
	Executable string
}

// Status is the document served on the activation endpoint's /status route.
type Status struct {
	Version  string              `json:"version"`
	PID      int                 `json:"pid"`
	Server   supervisor.Snapshot `json:"server"`
	Update   updatecheck.Info    `json:"update"`
	Settings settings.Settings   `json:"settings"`
}

// App is one launcher instance.
type App struct {
	opts   Options
	cfg    *config.Config
	logger *zap.Logger
	sugar  *zap.SugaredLogger

	loop       *eventloop.Loop
	guard      *singleton.Guard
	store      *settings.Store
	db         *storage.BoltDB
	sup        *supervisor.Supervisor
	controller *tray.Controller
	checker    *updatecheck.Checker
	deeplinks  *deeplink.Handler
	activation *singleton.ActivationServer
	dashboard  tray.Opener
	metrics    *observability.MetricsManager
	lastStatus supervisor.Status

	beta     atomic.Bool
	settings atomic.Value // settings.Settings

	quitOnce sync.Once
	quitCh   chan struct{}
	relaunch atomic.Bool
}

// New creates an App. Nothing is started until Run.
func New(opts Options, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	return &App{
		opts:   opts,
		cfg:    opts.Config,
		logger: logger,
		sugar:  logger.Sugar(),
		quitCh: make(chan struct{}),
	}
}

// Relaunch reports whether Run ended because an update was installed and the
// launcher should be started again.
func (a *App) Relaunch() bool {
	return a.relaunch.Load()
}

// Run acquires the single-instance lock and runs until quit or ctx ends. When
// another instance holds the lock, the arguments are handed to it and Run returns
// singleton.ErrAlreadyRunning.
func (a *App) Run(ctx context.Context) error {
	if err := config.EnsureDataDir(a.cfg.DataDir); err != nil {
		return err
	}

	a.guard = singleton.NewGuard(a.cfg.DataDir, a.logger)
	acquired, err := a.guard.Acquire()
	if err != nil {
		return err
	}
	if !acquired {
		a.activateRunning(ctx)
		return singleton.ErrAlreadyRunning
	}
	defer a.guard.Release()

	a.logger.Info("Starting launcher",
		zap.String("version", a.opts.Version),
		zap.String("data_dir", a.cfg.DataDir),
		zap.Int("port", a.cfg.Port))

	a.build()
	defer a.closeStore()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = a.loop.Run(loopCtx, a.handle)
	}()

	if err := a.activation.Start(); err != nil {
		a.logger.Warn("Activation endpoint unavailable, second launches cannot hand over", zap.Error(err))
	}

	a.loop.Do(a.controller.Render)
	a.loop.Post(ActivationEvent{Args: a.opts.Args, Initial: true})
	a.loop.Post(supervisor.StartCommand{})

	if a.checker != nil && a.checker.Enabled() {
		go a.checker.Run(runCtx)
	}

	go func() {
		select {
		case <-a.quitCh:
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	// The renderer must own the calling goroutine on macOS.
	a.opts.Renderer.Run(runCtx, func(action tray.Action) {
		a.loop.Post(tray.ActionEvent{Action: action})
	})
	cancelRun()

	a.shutdown()
	cancelLoop()
	<-loopDone
	return nil
}

func (a *App) build() {
	cfg := a.cfg
	a.loop = eventloop.New(a.sugar.Named("loop"))
	a.metrics = observability.NewMetricsManager(a.sugar.Named("metrics"))
	a.lastStatus = supervisor.StatusStarting

	a.store = settings.NewStore(cfg.DataDir, a.logger)
	initial := a.store.Load()
	a.settings.Store(initial)
	a.beta.Store(initial.UseBetaChannel)

	db, err := storage.NewBoltDB(cfg.DataDir, a.sugar)
	if err != nil {
		a.logger.Warn("Launcher database unavailable, update state will not persist", zap.Error(err))
	} else {
		a.db = db
	}

	notifier := a.opts.Notifier
	if notifier == nil {
		notifier = desktop.NewNotifier(a.sugar)
	}
	prompter := a.opts.Prompter
	if prompter == nil {
		prompter = desktop.NewPrompter(a.sugar)
	}
	a.dashboard = a.opts.Dashboard
	if a.dashboard == nil {
		a.dashboard = desktop.NewDashboard(a.sugar)
	}

	registrar := a.opts.Autostart
	if registrar == nil {
		var err error
		registrar, err = autostart.New(a.opts.Executable, nil, a.logger)
		if err != nil {
			a.logger.Warn("Launch at login unavailable", zap.Error(err))
		}
	}
	if registrar != nil {
		if err := autostart.Reconcile(registrar, initial.LaunchAtLogin); err != nil {
			a.logger.Warn("Failed to apply launch at login setting", zap.Error(err))
		}
	}

	supOpts := supervisor.Options{
		Command:         cfg.Server.Command,
		Args:            cfg.Server.Args,
		Port:            cfg.Port,
		Host:            cfg.Host,
		ReadinessMode:   cfg.Readiness.Mode,
		Markers:         cfg.Readiness.Markers,
		ReadinessPoll:   cfg.Readiness.Poll,
		HealthInterval:  cfg.Health.Interval,
		HealthTimeout:   cfg.Health.Timeout,
		RestartDelay:    cfg.Restart.Delay,
		MaxRestarts:     cfg.Restart.Max,
		StartTimeout:    cfg.Startup.Timeout,
		Settle:          cfg.Startup.Settle,
		ReopenDelay:     cfg.Startup.ReopenDelay,
		ConfirmAttempts: cfg.Startup.ConfirmAttempts,
		OnStatus:        a.onServerStatus,
		OnReady:         a.openDashboard,
	}
	spawner := supervisor.NewExecSpawner(a.sugar.Named("process"), stopGrace).
		WithEnvironment(serverenv.NewBuilder(a.sugar.Named("serverenv")))
	layout := supervisor.DirLayout{DevDir: cfg.Server.Dir, Entry: cfg.Server.Entry}
	prober := &instrumentedProber{prober: health.NewProber(cfg.BaseURL(), a.sugar.Named("health")), metrics: a.metrics}
	a.sup = supervisor.New(supOpts, a.loop, spawner, layout, prober, notifier, a.sugar.Named("supervisor"))

	a.checker = a.buildChecker(prompter, notifier)

	deps := tray.Deps{
		Settings:     &trackingSaver{store: a.store, app: a},
		Dashboard:    a.dashboard,
		DashboardURL: cfg.BaseURL(),
		Renderer:     a.opts.Renderer,
		Post:         a.loop.Post,
		Quit:         a.Quit,
	}
	if registrar != nil {
		deps.Autostart = registrar
	}
	if a.checker != nil && a.checker.Enabled() {
		deps.Updater = a.checker
	}
	a.controller = tray.NewController(deps, initial, a.sugar.Named("tray"))

	a.deeplinks = deeplink.NewHandler(a.logger, nil)
	a.activation = singleton.NewActivationServer(socket.Endpoint(cfg.DataDir),
		func(args []string) { a.loop.Post(ActivationEvent{Args: args}) },
		func() any { return a.Status() },
		a.logger)
	a.activation.Mount("/metrics", a.metrics.Handler())
	a.activation.Instrument(a.metrics.HTTPMiddleware())
}

func (a *App) buildChecker(prompter updatecheck.Prompter, notifier updatecheck.Notifier) *updatecheck.Checker {
	source, err := updatecheck.NewGitHubSource(a.cfg.Update.Repo, "", a.logger)
	if err != nil {
		a.logger.Warn("Update checks disabled", zap.Error(err))
		return nil
	}

	var store updatecheck.Store
	if a.db != nil {
		store = a.db
	}

	return updatecheck.New(updatecheck.Options{
		CurrentVersion: a.opts.Version,
		Mode:           updatecheck.Mode(a.cfg.Update.Mode),
		Interval:       a.cfg.Update.Interval,
		Disabled:       a.cfg.Update.Disabled,
		DataDir:        a.cfg.DataDir,
		Beta:           a.beta.Load,
		OnChange: func(info updatecheck.Info) {
			a.metrics.RecordUpdateState(string(info.State))
			a.loop.Post(tray.UpdateEvent{Info: info})
		},
		Restart: func() {
			a.relaunch.Store(true)
			a.Quit()
		},
	}, source, store, updatecheck.NewBinaryInstaller(BinaryName, a.logger), prompter, notifier, a.logger)
}

// handle is the loop handler; the supervisor and the tray controller each claim
// the events they understand.
func (a *App) handle(ctx context.Context, ev eventloop.Event) {
	if e, ok := ev.(ActivationEvent); ok {
		a.onActivation(ctx, e)
		return
	}
	if a.sup.Handle(ctx, ev) {
		return
	}
	if e, ok := ev.(tray.ActionEvent); ok {
		a.metrics.RecordMenuAction(string(e.Action))
	}
	if a.controller.Handle(ctx, ev) {
		return
	}
	a.sugar.Debugw("Unhandled event", "type", fmt.Sprintf("%T", ev))
}

func (a *App) onServerStatus(status supervisor.Status, reason string) {
	a.metrics.RecordServerStateChange(string(a.lastStatus), string(status), status == supervisor.StatusRunning)
	a.metrics.SetRestartBudgetUsed(a.sup.Budget().Count)
	a.lastStatus = status
	a.controller.SetStatus(status, reason)
}

func (a *App) onActivation(ctx context.Context, e ActivationEvent) {
	if a.deeplinks.HandleArgs(ctx, e.Args) || e.Initial {
		return
	}
	if status, _ := a.sup.Status(); status == supervisor.StatusRunning {
		a.openDashboard()
		return
	}
	a.logger.Info("Second launch while server is not running, dashboard not opened")
}

func (a *App) openDashboard() {
	url := a.cfg.BaseURL()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), activateTimeout)
		defer cancel()
		if err := a.dashboard.Open(ctx, url); err != nil {
			a.logger.Warn("Failed to open dashboard", zap.String("url", url), zap.Error(err))
		}
	}()
}

// Quit starts the shutdown sequence. Safe to call more than once and from any goroutine.
func (a *App) Quit() {
	a.quitOnce.Do(func() {
		a.logger.Info("Quit requested")
		close(a.quitCh)
	})
}

// Status reports the live state. Safe for concurrent use.
func (a *App) Status() Status {
	st := Status{
		Version: a.opts.Version,
		PID:     os.Getpid(),
	}
	if s, ok := a.settings.Load().(settings.Settings); ok {
		st.Settings = s
	}
	if a.sup != nil {
		st.Server = a.sup.Snapshot()
	}
	if a.checker != nil {
		st.Update = a.checker.Info()
	}
	return st
}

// shutdown stops the server, installs a deferred update and closes the endpoint.
// The tray has already left its loop.
func (a *App) shutdown() {
	a.logger.Info("Shutting down launcher")

	if done, ok := a.stopServer(); ok {
		select {
		case <-done:
			a.logger.Info("Server stopped")
		case <-time.After(stopGrace + serverWaitMargin):
			a.logger.Warn("Timed out waiting for server to exit")
		}
	}

	if a.checker != nil {
		if applied, err := a.checker.ApplyPending(); err != nil {
			a.logger.Error("Failed to install downloaded update", zap.Error(err))
		} else if applied {
			a.logger.Info("Installed downloaded update on quit")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.activation.Shutdown(ctx); err != nil {
		a.logger.Warn("Activation endpoint shutdown failed", zap.Error(err))
	}
	a.opts.Renderer.Quit()
}

// stopServer runs Stop on the loop so it never races a handler.
func (a *App) stopServer() (<-chan struct{}, bool) {
	result := make(chan (<-chan struct{}), 1)
	a.loop.Do(func() { result <- a.sup.Stop() })
	select {
	case done := <-result:
		return done, true
	case <-time.After(loopCallTimeout):
		a.logger.Warn("Event loop did not answer stop request")
		return nil, false
	}
}

func (a *App) closeStore() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close launcher database", zap.Error(err))
	}
}

// activateRunning hands our arguments to the instance holding the lock.
func (a *App) activateRunning(ctx context.Context) {
	pid, _ := a.guard.HolderPID()
	a.logger.Info("Launcher already running, handing over", zap.Int("pid", pid))

	client, err := singleton.NewClient(socket.Endpoint(a.cfg.DataDir), activateTimeout)
	if err != nil {
		a.logger.Warn("Cannot reach running launcher", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()
	if err := client.Activate(ctx, a.opts.Args); err != nil {
		a.logger.Warn("Failed to activate running launcher", zap.Error(err))
	}
}

// StartDetached launches a fresh copy of the launcher after an update.
func (a *App) StartDetached() error {
	exe, err := a.executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe)
	if err := cmd.Start(); err != nil {
		return err
	}
	a.logger.Info("Relaunched after update", zap.Int("pid", cmd.Process.Pid))
	return cmd.Process.Release()
}

func (a *App) executable() (string, error) {
	if a.opts.Executable != "" {
		return a.opts.Executable, nil
	}
	return os.Executable()
}

// instrumentedProber records every probe the supervisor makes.
type instrumentedProber struct {
	prober  *health.Prober
	metrics *observability.MetricsManager
}

func (p *instrumentedProber) Probe(ctx context.Context, timeout time.Duration) bool {
	c := p.prober.Check(ctx, timeout)
	p.metrics.RecordProbe(c.Healthy(), c.Latency)
	return c.Healthy()
}

// trackingSaver mirrors menu toggles into the values other goroutines read.
type trackingSaver struct {
	store *settings.Store
	app   *App
}

func (t *trackingSaver) Save(s settings.Settings) error {
	t.app.settings.Store(s)
	t.app.beta.Store(s.UseBetaChannel)
	return t.store.Save(s)
}
