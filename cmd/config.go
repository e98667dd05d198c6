package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/rehearse/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Printf("# %s\n", cfgFile)
		fmt.Print(string(out))
		return nil
	},
}

var configModesCmd = &cobra.Command{
	Use:   "modes",
	Short: "Show the channels each capture mode records",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, mode := range []string{cfg.Capture.Mode, config.AlternateMode(cfg.Capture.Mode)} {
			channels, err := cfg.ResolveMode(mode)
			if err != nil {
				fmt.Printf("%s: %v\n", mode, err)
				continue
			}
			fmt.Printf("%s:\n", mode)
			for _, ch := range channels {
				fmt.Printf("  %-8s %-8s volume=%.2f  %s\n", ch.Name, ch.Type, ch.Volume, ch.Source)
			}
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configModesCmd)
}
