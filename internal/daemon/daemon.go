// Package daemon provides the background sync daemon.
//
// The daemon:
//  1. Performs an initial sync round on startup
//  2. Watches the user-data directory for edits to synced files
//  3. Debounces rapid edits and triggers sync rounds
//  4. Runs periodic rounds to pick up remote changes
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prefsync/prefsync/internal/userdata"
	"github.com/prefsync/prefsync/internal/userdata/syncers"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a round even without local
	// changes, to pick up edits made on other machines.
	SyncInterval time.Duration

	// DebounceInterval is how long to wait before reacting to file
	// changes. This batches rapid updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching and periodic sync rounds.
type Daemon struct {
	svc         *userdata.Service
	userDataDir string
	config      *Config

	// byPath routes a changed file to the synchroniser that owns it.
	byPath map[string]*syncers.FileSyncer

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// fileSyncers must be the same synchronisers registered with svc; the
// daemon uses their local paths to route file events.
//
// Use Start() to begin watching and syncing.
func New(svc *userdata.Service, fileSyncers []*syncers.FileSyncer, userDataDir string, config *Config) (*Daemon, error) {
	if svc == nil {
		return nil, fmt.Errorf("svc cannot be nil")
	}
	if userDataDir == "" {
		return nil, fmt.Errorf("userDataDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	byPath := make(map[string]*syncers.FileSyncer, len(fileSyncers))
	for _, s := range fileSyncers {
		abs, err := filepath.Abs(s.LocalPath())
		if err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", s.LocalPath(), err)
		}
		byPath[abs] = s
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		svc:         svc,
		userDataDir: userDataDir,
		config:      config,
		byPath:      byPath,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Initial round picks up whatever changed while we were down.
	if err := d.runRound(); err != nil {
		d.config.Logger.Printf("Initial sync failed: %v", err)
	}

	if err := d.watcher.Add(d.userDataDir); err != nil {
		return fmt.Errorf("failed to watch user-data directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.userDataDir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and queues changes to synced
// files.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, watched := d.byPath[abs]; !watched {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(abs)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains debounced file changes and triggers a round.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			ready := d.drainReadyChanges()
			if len(ready) == 0 {
				continue
			}

			for _, path := range ready {
				if s, ok := d.byPath[path]; ok {
					s.NotifyLocalChange()
				}
			}

			if err := d.runRound(); err != nil {
				d.config.Logger.Printf("Sync after local change failed: %v", err)
			}
		}
	}
}

// drainReadyChanges returns the queued paths whose debounce window has
// elapsed, removing them from the queue.
func (d *Daemon) drainReadyChanges() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var ready []string
	now := time.Now()
	for path, queued := range d.changeQueue {
		if now.Sub(queued) >= d.config.DebounceInterval {
			ready = append(ready, path)
			delete(d.changeQueue, path)
		}
	}
	return ready
}

// periodicSync runs rounds on the configured interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.runRound(); err != nil {
				d.config.Logger.Printf("Periodic sync failed: %v", err)
			}
		}
	}
}

// runRound triggers one sync round. A round already in flight is not an
// error; the in-flight round will pick up the queued state.
func (d *Daemon) runRound() error {
	err := d.svc.Sync(d.ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, userdata.ErrSyncInProgress):
		return nil
	case errors.Is(err, userdata.ErrTurnedOff):
		return fmt.Errorf("sync disabled on the server: %w", err)
	default:
		return err
	}
}
