package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prefsync/prefsync/internal/remote"
	"github.com/prefsync/prefsync/internal/statestore"
	"github.com/prefsync/prefsync/internal/userdata"
	"github.com/prefsync/prefsync/internal/userdata/syncers"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "psync",
	Short: "Synchronize editor settings, keybindings and extensions across machines",
	Long: `psync keeps user data (settings.json, keybindings.json, storage.json and
the installed-extension list) in sync across machines through a shared
sync store.

Each resource is synced independently: a failure in one never blocks the
others. Conflicting edits are kept aside as previews until resolved with
'psync resolve'.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <config-dir>/psync/config.yaml)")
	rootCmd.PersistentFlags().String("user-data-dir", "", "directory holding the synced files")
	rootCmd.PersistentFlags().String("state-dir", "", "directory for sync bookkeeping state")
	rootCmd.PersistentFlags().String("store", "", "path to the sync store database")

	_ = viper.BindPFlag("user_data_dir", rootCmd.PersistentFlags().Lookup("user-data-dir"))
	_ = viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("store_path", rootCmd.PersistentFlags().Lookup("store"))
}

// initConfig loads the config file and environment. Flags win over the
// environment, which wins over the file.
func initConfig() {
	base := configBase()

	viper.SetDefault("user_data_dir", filepath.Join(base, "userdata"))
	viper.SetDefault("state_dir", filepath.Join(base, "state"))
	viper.SetDefault("store_path", filepath.Join(base, "store.db"))
	viper.SetDefault("store.enabled", true)
	viper.SetDefault("store.max_size", int64(10<<20))
	viper.SetDefault("daemon.sync_interval", "5m")
	viper.SetDefault("daemon.debounce_interval", "500ms")
	viper.SetDefault("daemon.log_file", "")
	viper.SetDefault("dashboard.port", 8090)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(base)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
}

// configBase returns the psync directory under the platform config dir.
func configBase() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "psync")
}

// app bundles everything a command needs to talk to the sync service.
type app struct {
	store       *remote.Store
	state       *statestore.FileStore
	svc         *userdata.Service
	fileSyncers []*syncers.FileSyncer
	userDataDir string
	storePath   string
	logger      *log.Logger
}

// newApp wires the store, state and synchronisers into a sync service.
//
// The caller MUST call Close() when done.
func newApp(logger *log.Logger) (*app, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	userDataDir := viper.GetString("user_data_dir")
	stateDir := viper.GetString("state_dir")
	storePath := viper.GetString("store_path")

	for _, dir := range []string{userDataDir, stateDir, filepath.Dir(storePath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	store, err := remote.Open(storePath, &remote.Config{
		Enabled:      viper.GetBool("store.enabled"),
		MaxStoreSize: viper.GetInt64("store.max_size"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sync store: %w", err)
	}

	state, err := statestore.Open(filepath.Join(stateDir, "sync-state.json"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	files := []*syncers.FileSyncer{
		syncers.NewSettings(store, userDataDir, stateDir, logger),
		syncers.NewKeybindings(store, userDataDir, stateDir, logger),
		syncers.NewGlobalState(store, userDataDir, stateDir, logger),
		syncers.NewExtensions(store, userDataDir, stateDir, logger),
	}
	all := make([]userdata.Synchroniser, len(files))
	for i, f := range files {
		all[i] = f
	}

	return &app{
		store:       store,
		state:       state,
		svc:         userdata.New(store, state, all, logger),
		fileSyncers: files,
		userDataDir: userDataDir,
		storePath:   storePath,
		logger:      logger,
	}, nil
}

// Close releases the store connection.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Printf("Error closing store: %v", err)
	}
}

// fail prints an error and exits.
func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
