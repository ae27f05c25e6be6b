package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prefsync/prefsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display the aggregate sync status, per-resource statuses, the last
successful sync time and any errors left by the most recent round.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("Sync status:"), ui.RenderStatus(a.svc.Status()))

		for _, ss := range a.svc.SourceStatuses() {
			fmt.Println(ui.RenderSourceStatus(ss.Source, ss.Status))
		}

		at, ok := a.svc.LastSyncTime()
		fmt.Printf("\n%s %s\n", ui.Label.Render("Last sync:"), ui.RenderLastSync(at, ok))
		fmt.Printf("%s %s\n", ui.Label.Render("Store:"), a.storePath)

		if errs := a.svc.LastErrors(); len(errs) > 0 {
			fmt.Printf("\n%s Last round reported errors:\n", ui.RenderWarn("⚠"))
			for _, se := range errs {
				fmt.Println(ui.RenderError(se.Source, se.Err))
			}
		}

		if conflicts := a.svc.Conflicts(); len(conflicts) > 0 {
			fmt.Println(ui.Dim.Render("\nRun 'psync resolve' to resolve conflicts"))
		}
		fmt.Fprintln(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
