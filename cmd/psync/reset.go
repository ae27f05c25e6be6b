package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/prefsync/prefsync/internal/ui"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Turn off sync and clear the store",
	Long: `Delete all content from the sync store and forget this machine's sync
bookkeeping. Other machines see the store as turned off on their next
round. Local files are left untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Turn off sync and clear the store?").
					Description("All stored content is deleted. Local files are kept.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				fail("%v", err)
			}
			if !confirmed {
				fmt.Println("Aborted")
				return
			}
		}

		a, err := newApp(nil)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		if err := a.svc.Reset(cmd.Context()); err != nil {
			fail("reset failed: %v", err)
		}

		fmt.Printf("%s Sync turned off; store cleared\n", ui.RenderPass("✓"))
	},
}

func init() {
	resetCmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
