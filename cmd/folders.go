package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/audiolibrelab/rehearse/internal/notify"
	"github.com/audiolibrelab/rehearse/internal/timeline"

	"github.com/spf13/cobra"
)

var foldersCmd = &cobra.Command{
	Use:     "folders",
	Aliases: []string{"folder"},
	Short:   "Manage folders on the records server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return folderListCmd.RunE(cmd, args)
	},
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List folders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		folders, err := newService().ListFolders(cmd.Context())
		if err != nil {
			return err
		}
		for _, f := range folders {
			fmt.Printf("%4d  %s\n", f.ID, f.Name)
		}
		return nil
	},
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a folder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newService().CreateFolder(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("Created folder %d: %s\n", f.ID, f.Name)
		return nil
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a folder",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return newService().RenameFolder(cmd.Context(), id, strings.Join(args[1:], " "))
	},
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a folder, moving its records to Drafts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !confirmed(cmd, fmt.Sprintf("Delete folder %d? Its records move to Drafts.", id)) {
			return nil
		}
		moved, err := newService().DeleteFolder(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Folder deleted, %d records moved to Drafts\n", moved)
		return nil
	},
}

var folderRecordsCmd = &cobra.Command{
	Use:   "records <id>",
	Short: "List a folder's records grouped by day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		recs, err := newService().FolderRecords(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", recs.Folder.Name)
		for _, group := range recs.Dates {
			fmt.Printf("\n%s\n", group.Date)
			for _, r := range group.Records {
				trash := ""
				if r.Trash {
					trash = "  (trash)"
				}
				fmt.Printf("  %4d  %-30s %s%s\n", r.ID, r.Name, timeline.FormatTime(r.Duration), trash)
			}
		}
		return nil
	},
}

// confirmed asks unless --yes was given
func confirmed(cmd *cobra.Command, question string) bool {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true
	}
	return notify.NewTerminal(stdin, os.Stderr).Confirm(question)
}

func init() {
	folderDeleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	foldersCmd.AddCommand(folderListCmd)
	foldersCmd.AddCommand(folderCreateCmd)
	foldersCmd.AddCommand(folderRenameCmd)
	foldersCmd.AddCommand(folderDeleteCmd)
	foldersCmd.AddCommand(folderRecordsCmd)
}
