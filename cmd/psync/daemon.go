package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/prefsync/prefsync/internal/daemon"
	"github.com/prefsync/prefsync/internal/dashboard"
	"github.com/prefsync/prefsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon (foreground)",
	Long: `Run the sync daemon in foreground mode.

The daemon:
  1. Runs an initial sync round on startup
  2. Watches the user-data directory and syncs after local edits
  3. Runs periodic rounds to pick up changes from other machines
  4. Optionally serves a WebSocket dashboard of sync activity

Example usage:
  psync daemon                         # watch and sync
  psync daemon --dashboard             # also serve the dashboard
  psync daemon --log-file sync.log     # log to a rotated file

Connect a dashboard client:
  ws://localhost:8090/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := daemonLogger(cmd)

		a, err := newApp(logger)
		if err != nil {
			fail("%v", err)
		}
		defer a.Close()

		syncInterval := viper.GetDuration("daemon.sync_interval")
		debounce := viper.GetDuration("daemon.debounce_interval")
		if v, _ := cmd.Flags().GetDuration("sync-interval"); v > 0 {
			syncInterval = v
		}
		if v, _ := cmd.Flags().GetDuration("debounce"); v > 0 {
			debounce = v
		}

		d, err := daemon.New(a.svc, a.fileSyncers, a.userDataDir, &daemon.Config{
			SyncInterval:     syncInterval,
			DebounceInterval: debounce,
			Logger:           logger,
		})
		if err != nil {
			fail("failed to create daemon: %v", err)
		}

		if on, _ := cmd.Flags().GetBool("dashboard"); on {
			port := viper.GetInt("dashboard.port")
			if v, _ := cmd.Flags().GetInt("dashboard-port"); cmd.Flags().Changed("dashboard-port") {
				port = v
			}
			srv := dashboard.NewServer(a.svc, &dashboard.Config{Port: port, Logger: logger})
			if err := srv.Start(); err != nil {
				fail("failed to start dashboard: %v", err)
			}
			defer func() {
				if err := srv.Stop(); err != nil {
					logger.Printf("Dashboard shutdown error: %v", err)
				}
			}()
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", port)
		}

		fmt.Printf("%s Starting sync daemon\n", ui.RenderAccent("psync"))
		fmt.Printf("   Watching: %s\n", a.userDataDir)
		fmt.Printf("   Store:    %s\n", a.storePath)
		fmt.Printf("   Interval: %s\n", syncInterval)
		fmt.Println("\nPress Ctrl+C to stop")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fail("daemon stopped with error: %v", err)
		}
	},
}

// daemonLogger builds the daemon's logger, rotating through a file when
// one is configured.
func daemonLogger(cmd *cobra.Command) *log.Logger {
	logFile := viper.GetString("daemon.log_file")
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		logFile = v
	}

	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(out, "[daemon] ", log.LstdFlags)
}

func init() {
	daemonCmd.Flags().Duration("sync-interval", 0, "interval between periodic rounds (default 5m)")
	daemonCmd.Flags().Duration("debounce", 0, "delay before reacting to file edits (default 500ms)")
	daemonCmd.Flags().String("log-file", "", "log to this file with rotation instead of stderr")
	daemonCmd.Flags().Bool("dashboard", false, "serve the WebSocket dashboard")
	daemonCmd.Flags().Int("dashboard-port", 8090, "dashboard port")
	rootCmd.AddCommand(daemonCmd)
}
