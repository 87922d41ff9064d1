package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rulewatch/rulewatch/baseline"
	"github.com/rulewatch/rulewatch/config"
	"github.com/rulewatch/rulewatch/progress"
	"github.com/rulewatch/rulewatch/rules"
	"github.com/rulewatch/rulewatch/rules/managesieve"
	"github.com/rulewatch/rulewatch/rules/sievedir"
	"github.com/rulewatch/rulewatch/runner"
	"github.com/rulewatch/rulewatch/scan"
)

const (
	exitUsage       = 1
	exitNoMailboxes = 2
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rulewatch",
		Short: "Audit mailbox inbox rules for forwarding, deletion and client-side rules",
		Long: `rulewatch scans every monitored mailbox's inbox-processing rules, flags
rules that forward or delete mail on arrival (and all client-managed rules),
compares them against the last-known baseline and mails newly-appeared or
modified rules to an administrator.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting rulewatch", "source", cfg.Source.Kind, "checkNow", cfg.CheckNow, "dryRun", cfg.DryRun)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(exitUsage)
	}

	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, runner.ErrNoMailboxes) {
			os.Exit(exitNoMailboxes)
		}
		os.Exit(exitUsage)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	source, err := buildSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("rule source: %w", err)
	}

	store, err := baseline.NewStore(cfg.Baseline.Path)
	if err != nil {
		return fmt.Errorf("baseline store: %w", err)
	}

	var sender runner.Sender
	if !cfg.DryRun {
		sender, err = runner.NewSender(cfg, logger)
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
	}

	r, err := runner.New(cfg, source, store, sender, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	scan.NewReporter(r, logger)
	r.OnScanStart = func(total int) {
		bar := progress.New(total, cfg.Logging.Level)
		r.SubscribeEvents("progress-bar", bar.Subscriber)
	}

	return r.Run(ctx)
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse the configuration and check rule-source connectivity without scanning",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			source, err := buildSource(cfg, logger)
			if err != nil {
				return fmt.Errorf("rule source: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			mailboxes, err := source.Mailboxes(ctx)
			if err != nil {
				return fmt.Errorf("enumerate mailboxes: %w", err)
			}
			if len(mailboxes) == 0 {
				return runner.ErrNoMailboxes
			}

			fmt.Printf("configuration ok, %d mailboxes discoverable\n", len(mailboxes))
			return nil
		},
	}
	if err := config.RegisterFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func buildSource(cfg config.Config, logger *slog.Logger) (rules.Source, error) {
	switch cfg.Source.Kind {
	case "sievedir":
		return sievedir.New(sievedir.Options{
			Root:      cfg.Source.SieveDir.Root,
			Mailboxes: cfg.Source.Mailboxes,
		}, logger)
	case "managesieve":
		return managesieve.New(managesieve.Options{
			Host:               cfg.Source.ManageSieve.Host,
			Port:               cfg.Source.ManageSieve.Port,
			Username:           cfg.Source.ManageSieve.Username,
			Password:           cfg.Source.ManageSieve.Password,
			UseTLS:             cfg.Source.ManageSieve.UseTLS,
			InsecureSkipVerify: cfg.Source.ManageSieve.InsecureSkipVerify,
			Mailboxes:          cfg.Source.Mailboxes,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.Logging.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.Logging.Dir != "" {
		if err := os.MkdirAll(cfg.Logging.Dir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.Logging.Dir, fmt.Sprintf("rulewatch-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
