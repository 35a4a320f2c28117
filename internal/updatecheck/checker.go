package updatecheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/storage"
)

const (
	// DefaultCheckInterval is the default interval between update checks (4 hours).
	DefaultCheckInterval = 4 * time.Hour

	// DefaultInitialDelay keeps the first check out of the startup path.
	DefaultInitialDelay = 30 * time.Second
)

// ErrNothingToInstall is returned by InstallNow without a downloaded update.
var ErrNothingToInstall = errors.New("no downloaded update to install")

// Source lists releases and fetches assets.
type Source interface {
	Releases(ctx context.Context) ([]Release, error)
	Download(ctx context.Context, asset Asset, dir string) (string, error)
}

// Store persists the deferred update and the last check outcome.
type Store interface {
	SavePendingUpdate(p *storage.PendingUpdate) error
	GetPendingUpdate() (*storage.PendingUpdate, error)
	ClearPendingUpdate() error
	SaveLastCheck(c *storage.CheckRecord) error
}

// Prompter asks a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, title, message, yes, no string) (bool, error)
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, message string)
}

// Options configures a Checker.
type Options struct {
	CurrentVersion string
	Mode           Mode
	Interval       time.Duration
	InitialDelay   time.Duration
	Disabled       bool
	DataDir        string
	GOOS           string
	GOARCH         string

	// Beta reports the current beta-channel preference.
	Beta func() bool
	// OnChange observes every state change.
	OnChange func(Info)
	// Restart is called after an immediate install succeeds.
	Restart func()
}

// Checker runs the update flow. Methods are safe for concurrent use; at most one
// check runs at a time.
type Checker struct {
	opts      Options
	source    Source
	store     Store
	installer Installer
	prompter  Prompter
	notifier  Notifier
	logger    *zap.Logger

	mu       sync.Mutex
	info     Info
	inFlight bool
	pending  *storage.PendingUpdate
}

// New creates a checker. store, prompter and notifier may be nil.
func New(opts Options, source Source, store Store, installer Installer, prompter Prompter, notifier Notifier, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultCheckInterval
	}
	if opts.Mode == "" {
		opts.Mode = ModePrompt
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.GOARCH == "" {
		opts.GOARCH = runtime.GOARCH
	}

	c := &Checker{
		opts:      opts,
		source:    source,
		store:     store,
		installer: installer,
		prompter:  prompter,
		notifier:  notifier,
		logger:    logger.Named("updatecheck"),
		info:      Info{State: StateIdle, CurrentVersion: opts.CurrentVersion},
	}
	c.restorePending()
	return c
}

// restorePending picks up an update downloaded by an earlier run that never got
// to install it.
func (c *Checker) restorePending() {
	p := c.loadPending()
	if p == nil {
		return
	}
	c.pending = p
	c.info.State = StateReadyToInstall
	c.info.LatestVersion = p.Version
	c.info.ReleaseURL = p.ReleaseURL
	c.info.AssetPath = p.AssetPath
	c.logger.Info("Downloaded update waiting for install", zap.String("version", p.Version))
}

// Enabled reports whether checks run at all. Development builds never check.
func (c *Checker) Enabled() bool {
	return !c.opts.Disabled && Canonical(c.opts.CurrentVersion) != ""
}

// Info returns a snapshot of the checker state.
func (c *Checker) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Run checks once after the initial delay and then every interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	if !c.Enabled() {
		c.logger.Info("Update checker disabled",
			zap.String("version", c.opts.CurrentVersion),
			zap.Bool("disabled_by_config", c.opts.Disabled))
		return
	}
	c.logger.Info("Starting update checker",
		zap.String("version", c.opts.CurrentVersion),
		zap.Duration("interval", c.opts.Interval))

	timer := time.NewTimer(c.opts.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Update checker stopped")
			return
		case <-timer.C:
			c.Check(ctx, false)
			timer.Reset(c.opts.Interval)
		}
	}
}

// CheckAsync runs Check on its own goroutine.
func (c *Checker) CheckAsync(ctx context.Context, userInitiated bool) {
	go c.Check(ctx, userInitiated)
}

// Check runs one pass of the update flow. User-initiated checks report every
// outcome with a notification; background checks only log failures.
func (c *Checker) Check(ctx context.Context, userInitiated bool) Info {
	if !c.begin() {
		c.logger.Debug("Update check already in progress")
		return c.Info()
	}
	defer c.end()

	if !c.Enabled() {
		if userInitiated {
			c.notify("Updates Unavailable", "Update checks are disabled for this build.")
		}
		return c.Info()
	}

	c.logger.Debug("Checking for updates", zap.Bool("user_initiated", userInitiated))
	c.update(func(i *Info) {
		i.State = StateChecking
		i.Error = ""
	})

	releases, err := c.source.Releases(ctx)
	if err != nil {
		return c.failed(userInitiated, "Update check failed", err)
	}

	beta := c.opts.Beta != nil && c.opts.Beta()
	rel, ok := Latest(releases, beta)
	if !ok || !Newer(c.opts.CurrentVersion, rel.Tag) {
		info := c.update(func(i *Info) {
			i.State = StateUpToDate
			i.LatestVersion = rel.Tag
			i.ReleaseURL = rel.HTMLURL
			i.IsPrerelease = rel.Prerelease
			stampChecked(i)
		})
		c.record(info)
		c.logger.Debug("Running latest version", zap.String("version", c.opts.CurrentVersion), zap.Bool("beta", beta))
		if userInitiated {
			c.notify("No Updates", fmt.Sprintf("Sigma Launcher %s is the latest version.", c.opts.CurrentVersion))
		}
		return info
	}

	version := Canonical(rel.Tag)
	if p := c.pendingUpdate(); p != nil && p.Version == version {
		c.offerInstall(ctx)
		return c.Info()
	}

	info := c.update(func(i *Info) {
		i.State = StateUpdateAvailable
		i.LatestVersion = version
		i.ReleaseURL = rel.HTMLURL
		i.IsPrerelease = rel.Prerelease
		stampChecked(i)
	})
	c.record(info)
	c.logger.Info("Update available",
		zap.String("current", c.opts.CurrentVersion),
		zap.String("latest", version),
		zap.String("url", rel.HTMLURL))
	c.notify("Update Available", fmt.Sprintf("Sigma Launcher %s is available.", version))

	if c.opts.Mode != ModeAuto {
		ok := c.confirm(ctx, "Update Available",
			fmt.Sprintf("Sigma Launcher %s is available. Download it now?", version), "Download", "Later")
		if !ok {
			c.logger.Info("Update download postponed", zap.String("version", version))
			return c.Info()
		}
	}

	return c.download(ctx, rel, userInitiated)
}

func (c *Checker) download(ctx context.Context, rel Release, userInitiated bool) Info {
	version := Canonical(rel.Tag)
	asset, err := SelectAsset(rel.Assets, c.opts.GOOS, c.opts.GOARCH)
	if err != nil {
		return c.failed(userInitiated, "Update failed", err)
	}

	c.update(func(i *Info) { i.State = StateDownloading })
	c.logger.Info("Downloading update", zap.String("version", version), zap.String("asset", asset.Name))

	path, err := c.source.Download(ctx, asset, filepath.Join(c.opts.DataDir, "updates", version))
	if err != nil {
		return c.failed(userInitiated, "Update download failed", err)
	}

	p := &storage.PendingUpdate{
		Version:      version,
		AssetPath:    path,
		ReleaseURL:   rel.HTMLURL,
		DownloadedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.SavePendingUpdate(p); err != nil {
			c.logger.Warn("Failed to record downloaded update", zap.Error(err))
		}
	}

	info := c.update(func(i *Info) {
		i.State = StateReadyToInstall
		i.AssetPath = path
	})
	c.record(info)
	c.logger.Info("Update ready to install", zap.String("version", version), zap.String("path", path))

	c.offerInstall(ctx)
	return c.Info()
}

// offerInstall asks whether to restart now; otherwise the update waits for exit.
func (c *Checker) offerInstall(ctx context.Context) {
	p := c.pendingUpdate()
	if p == nil {
		return
	}
	c.update(func(i *Info) {
		i.State = StateReadyToInstall
		i.LatestVersion = p.Version
		i.AssetPath = p.AssetPath
	})

	ok := c.confirm(ctx, "Update Ready",
		fmt.Sprintf("Sigma Launcher %s has been downloaded. Restart now to install it?", p.Version),
		"Restart Now", "Later")
	if !ok {
		c.logger.Info("Update deferred until exit", zap.String("version", p.Version))
		return
	}
	if err := c.InstallNow(ctx); err != nil {
		c.logger.Warn("Immediate install failed", zap.Error(err))
	}
}

// InstallNow installs the downloaded update and requests a restart.
func (c *Checker) InstallNow(_ context.Context) error {
	p := c.pendingUpdate()
	if p == nil {
		return ErrNothingToInstall
	}
	if err := c.install(p); err != nil {
		c.failed(true, "Update failed", err)
		return err
	}
	if c.opts.Restart != nil {
		c.opts.Restart()
	}
	return nil
}

// ApplyPending installs a deferred update during shutdown. It reports whether an
// install was attempted.
func (c *Checker) ApplyPending() (bool, error) {
	p := c.pendingUpdate()
	if p == nil {
		p = c.loadPending()
	}
	if p == nil {
		return false, nil
	}
	c.logger.Info("Applying deferred update", zap.String("version", p.Version))
	return true, c.install(p)
}

func (c *Checker) install(p *storage.PendingUpdate) error {
	defer c.clearPending()

	if c.installer == nil {
		return errors.New("no installer configured")
	}
	if err := c.installer.Install(p.AssetPath); err != nil {
		return fmt.Errorf("install %s: %w", p.Version, err)
	}
	c.update(func(i *Info) {
		i.State = StateIdle
		i.AssetPath = ""
	})
	c.logger.Info("Update installed", zap.String("version", p.Version))
	return nil
}

// loadPending reads the stored update and drops it when it is stale.
func (c *Checker) loadPending() *storage.PendingUpdate {
	if c.store == nil {
		return nil
	}
	p, err := c.store.GetPendingUpdate()
	if err != nil {
		c.logger.Warn("Failed to read pending update", zap.Error(err))
		return nil
	}
	if p == nil {
		return nil
	}
	if !Newer(c.opts.CurrentVersion, p.Version) {
		c.logger.Info("Dropping pending update that is not newer", zap.String("version", p.Version))
		c.clearPending()
		return nil
	}
	if _, err := os.Stat(p.AssetPath); err != nil {
		c.logger.Warn("Pending update asset missing", zap.String("path", p.AssetPath))
		c.clearPending()
		return nil
	}
	return p
}

func (c *Checker) pendingUpdate() *storage.PendingUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Checker) clearPending() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	if c.store == nil {
		return
	}
	if err := c.store.ClearPendingUpdate(); err != nil {
		c.logger.Warn("Failed to clear pending update", zap.Error(err))
	}
}

func (c *Checker) failed(userInitiated bool, title string, err error) Info {
	info := c.update(func(i *Info) {
		i.State = StateError
		i.Error = err.Error()
		stampChecked(i)
	})
	c.record(info)
	c.logger.Warn(title, zap.Error(err))
	if userInitiated {
		c.notify(title, err.Error())
	}
	return info
}

func (c *Checker) confirm(ctx context.Context, title, message, yes, no string) bool {
	if c.prompter == nil {
		return false
	}
	ok, err := c.prompter.Confirm(ctx, title, message, yes, no)
	if err != nil {
		c.logger.Warn("Prompt unavailable, treating as later", zap.Error(err))
		return false
	}
	return ok
}

func (c *Checker) notify(title, message string) {
	if c.notifier != nil {
		c.notifier.Notify(title, message)
	}
}

func (c *Checker) record(info Info) {
	if c.store == nil {
		return
	}
	rec := &storage.CheckRecord{
		CheckedAt:     time.Now().UTC(),
		State:         string(info.State),
		LatestVersion: info.LatestVersion,
		Error:         info.Error,
	}
	if err := c.store.SaveLastCheck(rec); err != nil {
		c.logger.Debug("Failed to record update check", zap.Error(err))
	}
}

func (c *Checker) update(fn func(*Info)) Info {
	c.mu.Lock()
	fn(&c.info)
	info := c.info
	c.mu.Unlock()

	if c.opts.OnChange != nil {
		c.opts.OnChange(info)
	}
	return info
}

func (c *Checker) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return false
	}
	c.inFlight = true
	return true
}

func (c *Checker) end() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func stampChecked(i *Info) {
	now := time.Now()
	i.CheckedAt = &now
}
