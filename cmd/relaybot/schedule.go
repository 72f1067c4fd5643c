package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/domain"
	"relaybot/internal/provider"
	"relaybot/internal/scheduler"
	"relaybot/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled sends",
	}
	cmd.AddCommand(scheduleAddCmd())
	cmd.AddCommand(scheduleListCmd())
	cmd.AddCommand(scheduleRunCmd())
	return cmd
}

func scheduleAddCmd() *cobra.Command {
	var (
		to           string
		content      string
		task         string
		instructions string
		at           string
		recur        string
		interval     int
		until        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a scheduled send",
		Long: `Create a scheduled send with either fixed text (--content) or a prompt
generated at dispatch time (--task). Recurrence: once, daily, weekly,
every_n_hours, every_n_days, date_range.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			if (content == "") == (task == "") {
				return fmt.Errorf("exactly one of --content or --task is required")
			}

			scheduledFor, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("--at must be RFC3339 (e.g. 2025-07-01T09:00:00Z): %w", err)
			}

			rec := domain.Recurrence{Type: recur, Interval: interval}
			switch recur {
			case domain.RecurOnce, domain.RecurDaily, domain.RecurWeekly:
			case domain.RecurEveryNHours, domain.RecurEveryNDays:
				if interval < 1 {
					return fmt.Errorf("--interval must be >= 1 for %s", recur)
				}
			case domain.RecurDateRange:
				if until == "" {
					return fmt.Errorf("--until is required for date_range")
				}
				end, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("--until must be RFC3339: %w", err)
				}
				rec.EndDate = &end
			default:
				return fmt.Errorf("unknown recurrence: %s", recur)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			sched := domain.ScheduledSend{
				ID:                 uuid.NewString(),
				Identity:           to,
				Content:            content,
				TaskPrompt:         task,
				PromptInstructions: instructions,
				ScheduledFor:       scheduledFor.UTC(),
				Recurrence:         rec,
				Status:             domain.ScheduleStatusPending,
			}
			if err := db.CreateSchedule(context.Background(), sched); err != nil {
				return err
			}

			logger.Info("schedule created", "id", sched.ID, "to", to,
				"at", sched.ScheduledFor, "recur", recur)
			fmt.Println(sched.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "recipient identity (phone number or chat id)")
	cmd.Flags().StringVar(&content, "content", "", "fixed message text")
	cmd.Flags().StringVar(&task, "task", "", "prompt used to generate the message at dispatch time")
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra system instructions for --task generation")
	cmd.Flags().StringVar(&at, "at", "", "first dispatch instant, RFC3339")
	cmd.Flags().StringVar(&recur, "recur", domain.RecurOnce, "recurrence type")
	cmd.Flags().IntVar(&interval, "interval", 0, "interval for every_n_hours / every_n_days")
	cmd.Flags().StringVar(&until, "until", "", "end instant for date_range, RFC3339")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("at")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled sends",
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

			scheds, err := db.ListSchedules(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(scheds) == 0 {
				fmt.Println("no schedules")
				return nil
			}
			fmt.Printf("%-36s %-15s %-10s %-14s %-20s\n", "ID", "TO", "STATUS", "RECUR", "NEXT_DUE")
			for _, s := range scheds {
				fmt.Printf("%-36s %-15s %-10s %-14s %-20s\n",
					s.ID, s.Identity, s.Status, s.Recurrence.Type,
					s.DueAt().UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

// scheduleRunCmd triggers one scheduler pass from the CLI, without going
// through the HTTP endpoint. Useful with external cron.
func scheduleRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Claim and dispatch everything currently due",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: logLevel(cfg.General.LogLevel),
			}))

			db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			events := bus.NewEventBus(logger)
			httpClient := provider.SharedHTTPClient()

			primary, err := provider.New(endpoint(cfg.Routing.Primary), httpClient, logger)
			if err != nil {
				return fmt.Errorf("primary provider: %w", err)
			}
			var fallback domain.Provider
			if cfg.Routing.Fallback != nil {
				fallback, err = provider.New(endpoint(*cfg.Routing.Fallback), httpClient, logger)
				if err != nil {
					return fmt.Errorf("fallback provider: %w", err)
				}
			}
			router := provider.NewRouter(provider.RouterConfig{
				Primary:  primary,
				Fallback: fallback,
				Timeout:  time.Duration(cfg.Routing.TimeoutSeconds) * time.Second,
				Logger:   logger,
			})

			transport, err := channel.NewTransport(cfg.Gateway, httpClient, events, logger)
			if err != nil {
				return fmt.Errorf("transport: %w", err)
			}

			sched := scheduler.New(scheduler.Options{
				Schedules:    db,
				Usage:        db,
				Completer:    router,
				Transport:    transport,
				Events:       events,
				Logger:       logger,
				SystemPrompt: cfg.General.SystemPrompt,
				BatchSize:    cfg.Scheduler.BatchSize,
				ChunkLimit:   cfg.Gateway.ChunkLimit,
				ChunkDelay:   time.Duration(cfg.Gateway.ChunkDelayMs) * time.Millisecond,
			})

			sum, err := sched.Run(context.Background(), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Printf("claimed=%d sent=%d failed=%d expired=%d\n",
				sum.Claimed, sum.Sent, sum.Failed, sum.Expired)
			return nil
		},
	}
}
