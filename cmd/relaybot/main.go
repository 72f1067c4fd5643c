package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/provider"
	"relaybot/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot: messaging gateway to AI completion relay",
		Long:  "relaybot relays WhatsApp (or Telegram) messages to AI completion providers and dispatches scheduled sends.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(usageCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and database status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("gateway", "transport", cfg.Gateway.Transport,
				"addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
			logger.Info("routing", "primary", cfg.Routing.Primary.Provider,
				"model", cfg.Routing.Primary.Model, "fallback", cfg.Routing.Fallback != nil)

			probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if p, err := provider.New(endpoint(cfg.Routing.Primary), provider.SharedHTTPClient(), logger); err != nil {
				logger.Info("provider", "name", cfg.Routing.Primary.Provider, "healthy", false, "err", err)
			} else if err := p.Healthy(probeCtx); err != nil {
				logger.Info("provider", "name", p.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", p.Name(), "model", p.Model(), "healthy", true)
			}

			db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				logger.Info("store", "path", cfg.Store.DBPath, "reachable", false, "err", err)
				return nil
			}
			defer db.Close()

			scheds, err := db.ListSchedules(context.Background(), 1000)
			if err != nil {
				return err
			}
			pending := 0
			for _, s := range scheds {
				if s.Status == "pending" {
					pending++
				}
			}
			logger.Info("store", "path", cfg.Store.DBPath, "reachable", true,
				"schedules", len(scheds), "pending", pending)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. routing.primary.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. routing.primary.model gpt-4o)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(resolveConfigPath(), cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (credentials masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func usageCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show per-provider/model/day usage counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			recs, err := db.ListUsage(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("no usage recorded")
				return nil
			}
			fmt.Printf("%-12s %-10s %-24s %9s %12s %12s %12s\n",
				"DATE", "PROVIDER", "MODEL", "REQUESTS", "TOKENS_IN", "TOKENS_OUT", "COST_USD")
			for _, r := range recs {
				fmt.Printf("%-12s %-10s %-24s %9d %12d %12d %12.4f\n",
					r.Date, r.Provider, r.Model, r.RequestCount, r.InputTokens, r.OutputTokens, r.EstimatedCostUSD)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 30, "maximum rows to show")
	return cmd
}
