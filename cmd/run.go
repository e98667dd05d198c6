package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Execute pipeline steps: record, save, review",
	Long: `Execute the given pipeline steps in order on one take.

  r   record a take
  s   save the draft as [name] (default: today's date and number)
  p   review the saved take

Example: rehearse run -p rsp "Autumn Leaves"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, _ := cmd.Flags().GetString("pipeline")
		mode, _ := cmd.Flags().GetString("mode")
		folder, _ := cmd.Flags().GetInt64("folder")
		name := strings.Join(args, " ")

		steps := []rune(strings.ToLower(pipeline))
		if err := validatePipeline(steps); err != nil {
			return err
		}

		svc := newService()
		var saved int64

		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)

			switch step {
			case 'r':
				draft, err := recordTake(cmd.Context(), svc, mode)
				if err != nil {
					return fmt.Errorf("pipeline record failed: %w", err)
				}
				if draft == nil {
					fmt.Println("Pipeline: take discarded, stopping")
					return nil
				}
				status, _ := svc.GetRecordingStatus()
				slog.Debug("Pipeline record done", "status", status)

			case 's':
				id, err := saveDraft(cmd.Context(), svc, name, folder)
				if err != nil {
					return fmt.Errorf("pipeline save failed: %w", err)
				}
				saved = id

			case 'p':
				if saved == 0 {
					return fmt.Errorf("pipeline review needs a saved take, add 's' before 'p'")
				}
				if err := reviewTake(cmd.Context(), svc, saved); err != nil {
					return fmt.Errorf("pipeline review failed: %w", err)
				}
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("pipeline", "p", "rs", "pipeline steps: r=record, s=save, p=review (e.g. 'rsp', 'rs')")
	runCmd.Flags().StringP("mode", "m", "", "capture mode for the record step")
	runCmd.Flags().Int64P("folder", "f", 0, "target folder id for the save step")
}

// validatePipeline checks the step letters and their order
func validatePipeline(steps []rune) error {
	if len(steps) == 0 {
		return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rsp)")
	}
	last := -1
	for _, step := range steps {
		pos := strings.IndexRune("rsp", step)
		if pos < 0 {
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, s=save, p=review)", step)
		}
		if pos <= last {
			return fmt.Errorf("pipeline steps must be in order r, s, p: %q", string(steps))
		}
		last = pos
	}
	return nil
}
