package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prefsync/prefsync/internal/ui"
	"github.com/prefsync/prefsync/internal/userdata"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the sync store",
	Long: `Create the sync store schema. Until the store is initialized every
command reports the uninitialized status and sync rounds fail.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		if a.store.IsConfigured() {
			fmt.Printf("%s Store already initialized: %s\n", ui.RenderWarn("⚠"), a.storePath)
			return
		}
		if err := a.store.InitSchemaContext(cmd.Context()); err != nil {
			fail("failed to initialize store: %v", err)
		}
		fmt.Printf("%s Initialized sync store: %s\n", ui.RenderPass("✓"), a.storePath)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync round across all resources",
	Long: `Run a single sync round: settings, keybindings, global state and
extensions, in that order. A failing resource is reported and skipped so
the remaining resources still sync.

If this machine has never synced before and the store already holds data,
local and remote content is merged on first contact.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()

		if merge, err := a.svc.IsFirstTimeSyncWithMerge(ctx); err == nil && merge {
			fmt.Println(ui.Dim.Render("First sync on this machine; merging with existing store data"))
		}

		err = a.svc.Sync(ctx)
		reportRound(a, err)
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace local content with the store's content",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		err = a.svc.Pull(cmd.Context())
		reportRound(a, err)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Replace the store's content with local content",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		err = a.svc.Push(cmd.Context())
		reportRound(a, err)
	},
}

// reportRound prints the outcome of a sync, pull or push invocation,
// including the per-resource error batch.
func reportRound(a *app, err error) {
	for _, se := range a.svc.LastErrors() {
		fmt.Println(ui.RenderError(se.Source, se.Err))
	}

	switch {
	case err == nil:
	case errors.Is(err, userdata.ErrNotEnabled):
		fail("sync is disabled (store.enabled = false)")
	case errors.Is(err, userdata.ErrTurnedOff):
		fail("sync was turned off from another machine; run 'psync init' to start over")
	case errors.Is(err, userdata.ErrSessionExpired):
		fail("the sync session was reset remotely; run 'psync sync' again to adopt the new session")
	case errors.Is(err, userdata.ErrTooLarge):
		fail("content exceeds the store size limit: %v", err)
	case errors.Is(err, userdata.ErrSyncInProgress):
		fail("another sync round is already running")
	default:
		fail("%v", err)
	}

	status := a.svc.Status()
	if status == userdata.StatusHasConflicts {
		fmt.Printf("\n%s Completed with conflicts:\n", ui.RenderWarn("⚠"))
		for _, src := range a.svc.Conflicts() {
			fmt.Printf("  %s\n", ui.SourceName.Render(string(src)))
		}
		fmt.Println(ui.Dim.Render("\nRun 'psync resolve' to resolve them"))
		return
	}

	fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
}
