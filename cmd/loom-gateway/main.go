// ABOUTME: Entry point for the loom-gateway session server
// ABOUTME: serve runs the websocket gateway, bridge speaks the protocol over stdio, health probes a running instance

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/loom-gateway/internal/config"
	"github.com/2389/loom-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| | ___   ___  _ __ ___
| |/ _ \ / _ \| '_ ' _ \
| | (_) | (_) | | | | | |
|_|\___/ \___/|_| |_| |_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: LOOM_CONFIG env var > XDG_CONFIG_HOME/loom/gateway.yaml > ~/.config/loom/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loom", "gateway.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "loom-gateway",
		Short:   "Session gateway for stateful agent connections",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to gateway.yaml (default: $LOOM_CONFIG or ~/.config/loom/gateway.yaml)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newBridgeCommand(&configPath))
	root.AddCommand(newHealthCommand(&configPath))
	return root
}

func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		configPath = getConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			cyan.Print(banner)
			gray := color.New(color.FgHiBlack)
			gray.Printf("    version: %s\n\n", version)

			green := color.New(color.FgGreen)
			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", path)
			green.Print("    ▶ ")
			fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			green.Print("    ▶ ")
			fmt.Printf("Grace:     %s\n", cfg.Sessions.GracePeriod)
			fmt.Println()

			logger := setupLogger(cfg.Logging, os.Stdout)
			slog.SetDefault(logger)

			logger.Info("starting loom-gateway",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"grace_period", cfg.Sessions.GracePeriod,
			)

			gw, err := gateway.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func newBridgeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Serve the protocol over stdin/stdout for editors that spawn the gateway directly",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			// stdout carries protocol frames; logs must go to stderr.
			logger := setupLogger(cfg.Logging, os.Stderr)
			slog.SetDefault(logger)

			gw, err := gateway.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.RunBridge(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}

func newHealthCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			var health struct {
				Status               string `json:"status"`
				Clients              int    `json:"clients"`
				Sessions             int    `json:"sessions"`
				OrphanedSessions     int    `json:"orphaned_sessions"`
				DroppedNotifications int64  `json:"dropped_notifications"`
			}
			if err := json.Unmarshal(body, &health); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}

			color.New(color.FgGreen).Print("healthy ")
			fmt.Printf("clients=%d sessions=%d orphaned=%d dropped_notifications=%d\n",
				health.Clients, health.Sessions, health.OrphanedSessions, health.DroppedNotifications)
			return nil
		},
	}
}
