package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Rename, trash or delete saved takes",
}

var recordRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a take",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return newService().RenameRecord(cmd.Context(), id, strings.Join(args[1:], " "))
	},
}

var recordTrashCmd = &cobra.Command{
	Use:   "trash <id>",
	Short: "Move a take to the Trash folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return newService().TrashRecord(cmd.Context(), id)
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a take and its audio for good",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !confirmed(cmd, fmt.Sprintf("Delete record %d permanently?", id)) {
			return nil
		}
		return newService().DeleteRecord(cmd.Context(), id)
	},
}

func init() {
	recordDeleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	recordsCmd.AddCommand(recordRenameCmd)
	recordsCmd.AddCommand(recordTrashCmd)
	recordsCmd.AddCommand(recordDeleteCmd)
}
