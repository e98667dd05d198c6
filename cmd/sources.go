package cmd

import (
	"fmt"
	"sort"

	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List audio sources and the state of each mode's channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService()

		sources, err := svc.ListSources()
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}

		fmt.Printf("PipeWire/JACK sources (%d found):\n", len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		for _, mode := range []string{cfg.Capture.Mode, config.AlternateMode(cfg.Capture.Mode)} {
			status := svc.GetChannelStatus(mode)
			fmt.Printf("\n%s mode:\n", mode)
			if len(status) == 0 {
				fmt.Printf("  unavailable: %s\n", svc.GetLastError())
				continue
			}
			names := make([]string, 0, len(status))
			for name := range status {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-8s %s\n", name, status[name])
			}
		}

		fmt.Printf("\nConfigure sources as \"Device: Audio (hw:X,Y):port\" in capture.channels[].source\n")
		return nil
	},
}
