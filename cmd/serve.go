package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/rehearse/internal/server"
	"github.com/audiolibrelab/rehearse/internal/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the records server",
	Long: `Start the records server that stores folders, takes, their audio and
the mistakes flagged on them. Clients on the same network reach it at the
local URL printed on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Server.Listen = listen
		}

		st, err := store.Open(cfg.Server.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Records server starting", "listen", cfg.Server.Listen, "data_dir", cfg.Server.DataDir)
		if err := server.New(cfg, st).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
}
