package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/config"
	"github.com/sigmaauth/sigma-launcher/internal/launcher"
	"github.com/sigmaauth/sigma-launcher/internal/logs"
	"github.com/sigmaauth/sigma-launcher/internal/singleton"
	"github.com/sigmaauth/sigma-launcher/internal/tray"
)

var (
	configFile string
	logToFile  bool

	version = "dev" // injected by -ldflags for release builds
)

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"data-dir":        "data_dir",
	"port":            "port",
	"host":            "host",
	"server-dir":      "server.dir",
	"log-level":       "log.level",
	"log-dir":         "log.dir",
	"update-mode":     "update.mode",
	"no-update-check": "update.disabled",
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sigma-launcher [deep-link-url]",
		Short:         "Runs the Sigma web server in the background and manages it from the system tray",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLauncher,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file path (default: <data-dir>/launcher.yaml)")
	flags.StringP("data-dir", "d", "", "Data directory path")
	flags.IntP("port", "p", config.DefaultPort, "Port the web server listens on")
	flags.String("host", config.DefaultHost, "Host the web server binds to")
	flags.String("server-dir", "", "Server directory used when no packaged server is found")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-dir", "", "Custom log directory path (overrides standard OS location)")
	flags.String("update-mode", config.UpdateModePrompt, "Update mode (prompt, auto)")
	flags.Bool("no-update-check", false, "Disable update checks")
	flags.BoolVar(&logToFile, "log-to-file", true, "Enable logging to file in standard OS location")

	rootCmd.AddCommand(newConfigCmd(), newStatusCmd(), newVersionCmd())
	return rootCmd
}

// loadConfig merges flags that were set on cmd over file, environment and defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}
	return config.Load(v, configFile)
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := logs.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.LogDir = cfg.Log.Dir
	logCfg.EnableFile = logToFile
	return logs.SetupLogger(logCfg)
}

func runLauncher(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := launcher.New(launcher.Options{
		Config:   cfg,
		Version:  version,
		Args:     args,
		Renderer: tray.NewRenderer(logger.Sugar().Named("systray")),
	}, logger)

	err = app.Run(ctx)
	if errors.Is(err, singleton.ErrAlreadyRunning) {
		return nil
	}
	if err != nil {
		logger.Error("Launcher failed", zap.Error(err))
		return err
	}

	if app.Relaunch() {
		if err := app.StartDetached(); err != nil {
			logger.Error("Failed to relaunch after update", zap.Error(err))
		}
	}
	logger.Info("Launcher stopped")
	return nil
}
