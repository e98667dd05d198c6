package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/audiolibrelab/rehearse/internal/audio"
	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/audiolibrelab/rehearse/internal/gateway"
	"github.com/audiolibrelab/rehearse/internal/localstate"
	"github.com/audiolibrelab/rehearse/internal/notify"
	"github.com/audiolibrelab/rehearse/internal/service"
	"github.com/audiolibrelab/rehearse/internal/timeline"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int

	// stdin is shared by prompts and interactive loops so neither loses
	// buffered input to the other
	stdin = newConsole(os.Stdin)
)

var rootCmd = &cobra.Command{
	Use:   "rehearse",
	Short: "Record rehearsals, flag mistakes and review them later",
	Long: `Rehearse records a practice take from your instrument and the backing
track, lets you flag mistakes while you play, and files the take in a
folder on the records server.

Saved takes can be reviewed with a waveform, a checkpoint list of the
flagged mistakes, and comments on each of them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/rehearse.yaml")
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/rehearse.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 3=pipewire tracing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(playbackCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(foldersCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// newService wires the client side: capture backend, records API,
// local state and the terminal for alerts and confirmations
func newService() *service.RehearseService {
	timeout := time.Duration(cfg.Client.TimeoutMs) * time.Millisecond
	return service.New(
		cfg,
		audio.NewPipeWireBackend(cfg),
		gateway.New(cfg.Client.BaseURL, timeout),
		localstate.New(cfg.State.Directory),
		notify.NewTerminal(stdin, os.Stderr),
		timeline.NewSystemClock(),
	)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))

	// inherited by pw-jack
	if level >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
