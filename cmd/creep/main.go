package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ridgeline-systems/creep/internal/app"
	"github.com/ridgeline-systems/creep/internal/config"
	"github.com/ridgeline-systems/creep/internal/platform"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "creep",
		Short: "creep runs the resource-lease scheduler's Loader, Janitor, and Worker components",
	}

	root.AddCommand(
		newModeCmd("run", "Run the Loader, Janitor, and Worker pool together"),
		newModeCmd("loader", "Run only the Loader"),
		newModeCmd("janitor", "Run only the Janitor"),
		newModeCmd("worker", "Run only the Worker pool"),
		newMigrateCmd(),
	)
	return root
}

func newModeCmd(mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg.Mode = mode

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := app.Run(ctx, cfg); err != nil {
				slog.Error("fatal", "error", err)
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}
