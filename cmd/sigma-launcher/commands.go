package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sigmaauth/sigma-launcher/internal/launcher"
	"github.com/sigmaauth/sigma-launcher/internal/singleton"
	"github.com/sigmaauth/sigma-launcher/internal/socket"
)

const statusTimeout = 3 * time.Second

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running launcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			client, err := singleton.NewClient(socket.Endpoint(cfg.DataDir), statusTimeout)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()
			var st launcher.Status
			if err := client.Status(ctx, &st); err != nil {
				return fmt.Errorf("launcher is not running: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func printStatus(w io.Writer, st launcher.Status) {
	fmt.Fprintf(w, "Launcher:  %s (pid %d)\n", st.Version, st.PID)
	server := string(st.Server.Status)
	if st.Server.Reason != "" {
		server += " (" + st.Server.Reason + ")"
	}
	fmt.Fprintf(w, "Server:    %s\n", server)
	if st.Server.PID > 0 {
		fmt.Fprintf(w, "Server PID: %d\n", st.Server.PID)
	}
	fmt.Fprintf(w, "Restarts:  %d\n", st.Server.Restarts)
	if st.Update.State != "" {
		update := string(st.Update.State)
		if st.Update.LatestVersion != "" {
			update += " " + st.Update.LatestVersion
		}
		fmt.Fprintf(w, "Updates:   %s\n", update)
	}
	fmt.Fprintf(w, "Beta:      %t\n", st.Settings.UseBetaChannel)
	fmt.Fprintf(w, "At login:  %t\n", st.Settings.LaunchAtLogin)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the launcher version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
