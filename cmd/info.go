package cmd

import (
	"fmt"

	"github.com/audiolibrelab/rehearse/internal/timeline"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the draft and where things are kept",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService()

		fmt.Printf("=== CLIENT ===\n")
		fmt.Printf("server: %s\n", cfg.Client.BaseURL)
		fmt.Printf("owner: %t\n", cfg.Client.Owner)
		fmt.Printf("state: %s\n", cfg.State.Directory)
		fmt.Printf("capture mode: %s (%s, %d Hz)\n", cfg.Capture.Mode, cfg.Capture.Format, cfg.Capture.SampleRate)

		draft, err := svc.GetDraft()
		if err != nil {
			return err
		}
		fmt.Printf("\n=== DRAFT ===\n")
		if !draft.HasDraft() {
			fmt.Printf("none\n")
		} else {
			fmt.Printf("duration: %s\n", timeline.FormatTime(draft.Duration))
			fmt.Printf("mistakes: %d\n", len(draft.ErrorTimestamps))
			fmt.Printf("waveform samples: %d\n", len(draft.WaveformData))
		}
		if draft.Date != "" {
			fmt.Printf("recordings on %s: %d\n", draft.Date, draft.TodayRecordingIndex)
		}

		fmt.Printf("\n=== SERVER ===\n")
		fmt.Printf("listen: %s\n", cfg.Server.Listen)
		fmt.Printf("data: %s\n", cfg.Server.DataDir)
		return nil
	},
}
