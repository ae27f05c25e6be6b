package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/prefsync/prefsync/internal/ui"
	"github.com/prefsync/prefsync/internal/userdata"
	"github.com/prefsync/prefsync/internal/userdata/syncers"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve sync conflicts interactively",
	Long: `Walk through each conflicted resource and choose which side to keep.

"Keep local" accepts this machine's file as the new truth; "take remote"
accepts the store's version (with any automatic merge applied). Either
choice writes the accepted content to both sides and clears the conflict.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(nil)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()

		conflicts := a.svc.Conflicts()
		if len(conflicts) == 0 {
			fmt.Printf("%s No conflicts to resolve\n", ui.RenderPass("✓"))
			return
		}

		for _, src := range conflicts {
			if err := resolveOne(ctx, a, src); err != nil {
				fail("resolving %s: %v", src, err)
			}
		}

		fmt.Printf("\n%s All conflicts resolved\n", ui.RenderPass("✓"))
	},
}

// resolveOne prompts for one conflicted resource and accepts the chosen
// side.
func resolveOne(ctx context.Context, a *app, src userdata.SyncSource) error {
	remoteContent, err := a.svc.RemoteContent(ctx, src, true)
	if err != nil {
		return fmt.Errorf("failed to load remote content: %w", err)
	}

	localContent, err := readLocal(a, src)
	if err != nil {
		return fmt.Errorf("failed to read local content: %w", err)
	}

	const (
		keepLocal  = "local"
		takeRemote = "remote"
		skip       = "skip"
	)

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Conflict in %s", src)).
			Description("Both this machine and the store changed this resource.").
			Options(
				huh.NewOption("Keep this machine's version", keepLocal),
				huh.NewOption("Take the store's version", takeRemote),
				huh.NewOption("Skip for now", skip),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return err
	}

	switch choice {
	case keepLocal:
		if err := a.svc.Accept(ctx, src, localContent); err != nil {
			return err
		}
		fmt.Printf("  %s kept local %s\n", ui.RenderPass("✓"), src)
	case takeRemote:
		if err := a.svc.Accept(ctx, src, remoteContent); err != nil {
			return err
		}
		fmt.Printf("  %s took remote %s\n", ui.RenderPass("✓"), src)
	default:
		fmt.Printf("  %s skipped %s\n", ui.RenderWarn("⚠"), src)
	}
	return nil
}

// readLocal returns the conflicted resource's on-disk content.
func readLocal(a *app, src userdata.SyncSource) (string, error) {
	var s *syncers.FileSyncer
	for _, f := range a.fileSyncers {
		if f.Source() == src {
			s = f
			break
		}
	}
	if s == nil {
		return "", userdata.ErrNoSynchroniser
	}

	data, err := os.ReadFile(s.LocalPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
