package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/audiolibrelab/rehearse/internal/service"
	"github.com/audiolibrelab/rehearse/internal/timeline"

	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save [name]",
	Short: "Save the draft take to a folder",
	Long: `Upload the last recorded take with its flagged mistakes.

Without a name the take is called after today's date and a running
number, e.g. "17.10.2026 (3)". Without --folder it goes to the folder
used last, else to Drafts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetInt64("folder")
		_, err := saveDraft(cmd.Context(), newService(), strings.Join(args, " "), folder)
		return err
	},
}

func init() {
	saveCmd.Flags().Int64P("folder", "f", 0, "target folder id")
}

func saveDraft(ctx context.Context, svc *service.RehearseService, name string, folder int64) (int64, error) {
	draft, err := svc.GetDraft()
	if err != nil {
		return 0, err
	}
	if draft.HasDraft() {
		fmt.Printf("Draft: %s, %d mistakes\n", timeline.FormatTime(draft.Duration), len(draft.ErrorTimestamps))
	}

	if name == "" && draft.HasDraft() {
		if name, err = svc.DefaultName(time.Now()); err != nil {
			return 0, err
		}
	}

	id, err := svc.Save(ctx, name, folder)
	if err != nil {
		return 0, err
	}
	fmt.Printf("Saved %q as record %d\n", name, id)
	return id, nil
}
