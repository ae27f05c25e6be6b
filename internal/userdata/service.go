package userdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"
)

// Service orchestrates sync rounds across all registered synchronisers.
//
// A round is strictly sequential: synchronisers may share underlying store
// and version-negotiation state, so the service never invokes two of them
// concurrently. Overlapping rounds are rejected with ErrSyncInProgress.
//
// The service aggregates status and conflicts across synchronisers and
// notifies registered observers:
//
//   - status changes fire only when the aggregate status actually changes
//   - conflict-set changes fire only when the set differs as an unordered
//     collection from the previous one
//   - per-round errors are emitted as one batch at the end of each round
type Service struct {
	store     RemoteStore
	state     StateStore
	syncers   []Synchroniser
	logger    *log.Logger
	telemetry Telemetry

	mu           sync.Mutex
	inFlight     bool
	status       SyncStatus
	conflicts    []SyncSource
	roundErrors  []SyncError
	lastSyncTime time.Time

	statusListeners    listeners[SyncStatus]
	conflictsListeners listeners[[]SyncSource]
	errorsListeners    listeners[[]SyncError]
	localListeners     listeners[SyncSource]
	lastSyncListeners  listeners[time.Time]
}

// New creates a sync service over the given store, persisted state and
// synchronisers. The synchroniser order is the fixed order used for every
// round.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store RemoteStore, state StateStore, syncers []Synchroniser, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	s := &Service{
		store:     store,
		state:     state,
		syncers:   syncers,
		logger:    logger,
		telemetry: nopTelemetry{},
	}

	if raw, ok := state.Get(KeyLastSyncTime); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.lastSyncTime = time.UnixMilli(ms)
		}
	}

	s.status = s.computeStatus()
	s.conflicts = s.computeConflicts()

	// Re-aggregate whenever a synchroniser's own status moves, and re-tag
	// local changes with the synchroniser's source.
	for _, sc := range syncers {
		sc.OnStatusChange(func(SyncStatus) { s.updateStatus() })
		src := sc.Source()
		sc.OnLocalChange(func() { s.localListeners.fire(src) })
	}

	return s
}

// SetTelemetry installs a telemetry sink. A nil sink restores the no-op
// default.
func (s *Service) SetTelemetry(t Telemetry) {
	if t == nil {
		t = nopTelemetry{}
	}
	s.telemetry = t
}

// Status returns the current aggregate status.
func (s *Service) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Conflicts returns the sources whose synchronisers currently report
// conflicts, in registration order.
func (s *Service) Conflicts() []SyncSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncSource, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// LastErrors returns the error batch accumulated by the most recent round.
func (s *Service) LastErrors() []SyncError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncError, len(s.roundErrors))
	copy(out, s.roundErrors)
	return out
}

// LastSyncTime returns the completion time of the last successful round.
// The second return value is false if no round has ever completed.
func (s *Service) LastSyncTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncTime, !s.lastSyncTime.IsZero()
}

// SourceStatus pairs a synchroniser source with its current status.
type SourceStatus struct {
	Source SyncSource
	Status SyncStatus
}

// SourceStatuses returns the per-synchroniser statuses in registration
// order.
func (s *Service) SourceStatuses() []SourceStatus {
	out := make([]SourceStatus, 0, len(s.syncers))
	for _, sc := range s.syncers {
		out = append(out, SourceStatus{Source: sc.Source(), Status: sc.Status()})
	}
	return out
}

// OnStatusChange registers fn to run when the aggregate status changes.
func (s *Service) OnStatusChange(fn func(SyncStatus)) (remove func()) {
	return s.statusListeners.add(fn)
}

// OnConflictsChange registers fn to run when the conflict set changes as an
// unordered collection.
func (s *Service) OnConflictsChange(fn func([]SyncSource)) (remove func()) {
	return s.conflictsListeners.add(fn)
}

// OnSyncErrors registers fn to receive each round's error batch.
func (s *Service) OnSyncErrors(fn func([]SyncError)) (remove func()) {
	return s.errorsListeners.add(fn)
}

// OnLocalChange registers fn to run when a synchroniser observes a local
// content change, tagged with that synchroniser's source.
func (s *Service) OnLocalChange(fn func(SyncSource)) (remove func()) {
	return s.localListeners.add(fn)
}

// OnLastSyncTimeChange registers fn to run when the last-sync timestamp is
// refreshed.
func (s *Service) OnLastSyncTimeChange(fn func(time.Time)) (remove func()) {
	return s.lastSyncListeners.add(fn)
}

// Pull replaces local content with remote content for every synchroniser,
// in fixed order. A failing synchroniser is logged and skipped; it never
// blocks the others. Store-capacity failures are the exception: they
// propagate immediately.
func (s *Service) Pull(ctx context.Context) error {
	if !s.store.IsEnabled() {
		return ErrNotEnabled
	}
	if err := s.beginRound(); err != nil {
		return err
	}
	defer s.endRound()
	defer s.updateStatus()

	for _, sc := range s.syncers {
		if err := sc.Pull(ctx); err != nil {
			if errors.Is(err, ErrTooLarge) {
				s.telemetry.RecordTooLarge(sc.Source())
				return fmt.Errorf("pull %s: %w", sc.Source(), err)
			}
			s.logger.Printf("WARNING: pull %s failed: %v", sc.Source(), err)
		}
	}

	s.refreshLastSyncTimeIfIdle()
	return nil
}

// Push replaces remote content with local content for every synchroniser,
// in fixed order, with the same failure isolation as Pull.
func (s *Service) Push(ctx context.Context) error {
	if !s.store.IsEnabled() {
		return ErrNotEnabled
	}
	if err := s.beginRound(); err != nil {
		return err
	}
	defer s.endRound()
	defer s.updateStatus()

	for _, sc := range s.syncers {
		if err := sc.Push(ctx); err != nil {
			if errors.Is(err, ErrTooLarge) {
				s.telemetry.RecordTooLarge(sc.Source())
				return fmt.Errorf("push %s: %w", sc.Source(), err)
			}
			s.logger.Printf("WARNING: push %s failed: %v", sc.Source(), err)
		}
	}

	s.refreshLastSyncTimeIfIdle()
	return nil
}

// Sync runs one complete synchronisation round.
//
// The round fetches the manifest once, validates session continuity, then
// drives every synchroniser in fixed order. Per-synchroniser failures are
// recorded and do not abort the round; ErrTooLarge does. Whatever happens,
// the aggregate status is recomputed and the round's error batch is emitted
// before Sync returns.
func (s *Service) Sync(ctx context.Context) (err error) {
	if !s.store.IsEnabled() {
		return ErrNotEnabled
	}
	if err := s.beginRound(); err != nil {
		return err
	}
	defer s.endRound()

	s.mu.Lock()
	s.roundErrors = nil
	s.mu.Unlock()

	// Do not regress a pending conflict view to "syncing".
	if s.Status() != StatusHasConflicts {
		s.setStatus(StatusSyncing)
	}

	defer func() {
		s.updateStatus()
		if err == nil && s.Status() == StatusIdle {
			s.refreshLastSyncTime()
		}
		s.errorsListeners.fire(s.LastErrors())
	}()

	manifest, mErr := s.store.Manifest(ctx)
	if mErr != nil {
		return fmt.Errorf("failed to fetch manifest: %w", mErr)
	}

	if manifest == nil {
		for _, sc := range s.syncers {
			synced, pErr := sc.HasPreviouslySynced()
			if pErr != nil {
				s.logger.Printf("WARNING: %s: checking previous sync: %v", sc.Source(), pErr)
				continue
			}
			if synced {
				return ErrTurnedOff
			}
		}
	}

	sessionID, hasSession := s.state.Get(KeySessionID)
	if manifest != nil && hasSession && sessionID != manifest.SessionID {
		return ErrSessionExpired
	}

	for _, sc := range s.syncers {
		if sErr := sc.Sync(ctx, manifest.Ref(sc.ResourceKey())); sErr != nil {
			s.recordError(sc.Source(), sErr)
			if errors.Is(sErr, ErrTooLarge) {
				s.telemetry.RecordTooLarge(sc.Source())
				return fmt.Errorf("sync %s: %w", sc.Source(), sErr)
			}
			s.logger.Printf("WARNING: sync %s failed: %v", sc.Source(), sErr)
		}
	}

	// A first sync may have caused the remote store to initialize a
	// manifest; pick up its session.
	if manifest == nil {
		manifest, mErr = s.store.Manifest(ctx)
		if mErr != nil {
			s.logger.Printf("WARNING: re-fetching manifest: %v", mErr)
		}
	}

	if manifest != nil && manifest.SessionID != sessionID {
		if sErr := s.state.Set(KeySessionID, manifest.SessionID); sErr != nil {
			return fmt.Errorf("failed to persist session id: %w", sErr)
		}
	}

	return nil
}

// Stop halts every non-idle synchroniser. Individual failures are logged,
// never propagated.
func (s *Service) Stop(ctx context.Context) error {
	if !s.store.IsEnabled() {
		return ErrNotEnabled
	}
	if s.Status() == StatusIdle {
		return nil
	}

	for _, sc := range s.syncers {
		if sc.Status() == StatusIdle {
			continue
		}
		if err := sc.Stop(ctx); err != nil {
			s.logger.Printf("WARNING: stop %s failed: %v", sc.Source(), err)
		}
	}

	s.updateStatus()
	return nil
}

// Accept resolves the named source's outstanding conflict with the given
// content.
func (s *Service) Accept(ctx context.Context, source SyncSource, content string) error {
	if !s.store.IsEnabled() {
		return ErrNotEnabled
	}

	sc := s.syncerFor(source)
	if sc == nil {
		return fmt.Errorf("%w: %s", ErrNoSynchroniser, source)
	}
	return sc.Accept(ctx, content)
}

// RemoteContent returns the named source's latest remote content, or its
// conflict preview when preview is true. Returns the empty string when no
// synchroniser matches or no content exists.
func (s *Service) RemoteContent(ctx context.Context, source SyncSource, preview bool) (string, error) {
	if !s.store.IsEnabled() {
		return "", ErrNotEnabled
	}

	sc := s.syncerFor(source)
	if sc == nil {
		return "", nil
	}
	return sc.RemoteContent(ctx, preview)
}

// ResolveContent returns the content stored under ref for the resource key,
// or the empty string when no synchroniser owns the key.
func (s *Service) ResolveContent(ctx context.Context, key ResourceKey, ref string) (string, error) {
	if !s.store.IsEnabled() {
		return "", ErrNotEnabled
	}

	for _, sc := range s.syncers {
		if sc.ResourceKey() == key {
			return sc.ResolveContent(ctx, ref)
		}
	}
	return "", nil
}

// IsFirstTimeSyncWithMerge reports whether an initial sync needs a merge
// UI: a remote manifest exists, no synchroniser has previously synced, and
// at least one synchroniser has local data.
func (s *Service) IsFirstTimeSyncWithMerge(ctx context.Context) (bool, error) {
	if !s.store.IsEnabled() {
		return false, ErrNotEnabled
	}

	manifest, err := s.store.Manifest(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	if manifest == nil {
		return false, nil
	}

	for _, sc := range s.syncers {
		synced, err := sc.HasPreviouslySynced()
		if err != nil {
			return false, fmt.Errorf("%s: checking previous sync: %w", sc.Source(), err)
		}
		if synced {
			return false, nil
		}
	}

	for _, sc := range s.syncers {
		hasData, err := sc.HasLocalData()
		if err != nil {
			return false, fmt.Errorf("%s: checking local data: %w", sc.Source(), err)
		}
		if hasData {
			return true, nil
		}
	}
	return false, nil
}

// Reset clears the remote store, every synchroniser's local sync state, and
// the persisted session/timestamp keys. Each step is best-effort: failures
// are logged and the remaining steps still run.
func (s *Service) Reset(ctx context.Context) error {
	if !s.store.IsEnabled() {
		return ErrNotEnabled
	}
	if err := s.beginRound(); err != nil {
		return err
	}
	defer s.endRound()
	defer s.updateStatus()

	if err := s.store.Reset(ctx); err != nil {
		s.logger.Printf("WARNING: remote reset failed: %v", err)
	}

	for _, sc := range s.syncers {
		if err := sc.ResetLocal(ctx); err != nil {
			s.logger.Printf("WARNING: local reset %s failed: %v", sc.Source(), err)
		}
	}

	if err := s.state.Delete(KeySessionID); err != nil {
		s.logger.Printf("WARNING: clearing session id: %v", err)
	}
	if err := s.state.Delete(KeyLastSyncTime); err != nil {
		s.logger.Printf("WARNING: clearing last sync time: %v", err)
	}

	s.mu.Lock()
	s.lastSyncTime = time.Time{}
	s.mu.Unlock()
	s.lastSyncListeners.fire(time.Time{})

	return nil
}

// beginRound marks a round as in flight. Only one round may be in flight
// at a time.
func (s *Service) beginRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrSyncInProgress
	}
	s.inFlight = true
	return nil
}

func (s *Service) endRound() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Service) syncerFor(source SyncSource) Synchroniser {
	for _, sc := range s.syncers {
		if sc.Source() == source {
			return sc
		}
	}
	return nil
}

func (s *Service) recordError(source SyncSource, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roundErrors = append(s.roundErrors, SyncError{Source: source, Err: err})
}

// computeStatus derives the aggregate status from the store configuration
// and the per-synchroniser statuses. Conflicts dominate syncing, which
// dominates idle.
func (s *Service) computeStatus() SyncStatus {
	if !s.store.IsConfigured() {
		return StatusUninitialized
	}
	for _, sc := range s.syncers {
		if sc.Status() == StatusHasConflicts {
			return StatusHasConflicts
		}
	}
	for _, sc := range s.syncers {
		if sc.Status() == StatusSyncing {
			return StatusSyncing
		}
	}
	return StatusIdle
}

func (s *Service) computeConflicts() []SyncSource {
	var out []SyncSource
	for _, sc := range s.syncers {
		if sc.Status() == StatusHasConflicts {
			out = append(out, sc.Source())
		}
	}
	return out
}

// setStatus forces the aggregate status, notifying observers on change.
func (s *Service) setStatus(status SyncStatus) {
	s.mu.Lock()
	changed := s.status != status
	leftConflicts := s.status == StatusHasConflicts && status != StatusHasConflicts
	s.status = status
	s.mu.Unlock()

	if changed {
		s.statusListeners.fire(status)
	}
	if leftConflicts {
		s.refreshLastSyncTime()
	}
}

// updateStatus recomputes the aggregate status and the conflict set,
// notifying observers of actual changes only. Conflict-set equality is
// order-insensitive: re-emitting the same sources in a different order does
// not notify.
func (s *Service) updateStatus() {
	newStatus := s.computeStatus()
	newConflicts := s.computeConflicts()

	s.mu.Lock()
	statusChanged := s.status != newStatus
	leftConflicts := s.status == StatusHasConflicts && newStatus != StatusHasConflicts
	conflictsChanged := !sameSources(s.conflicts, newConflicts)
	s.status = newStatus
	s.conflicts = newConflicts
	s.mu.Unlock()

	if statusChanged {
		s.statusListeners.fire(newStatus)
	}
	if conflictsChanged {
		s.conflictsListeners.fire(append([]SyncSource(nil), newConflicts...))
	}
	if leftConflicts {
		s.refreshLastSyncTime()
	}
}

func (s *Service) refreshLastSyncTimeIfIdle() {
	if s.Status() == StatusIdle {
		s.refreshLastSyncTime()
	}
}

func (s *Service) refreshLastSyncTime() {
	now := time.Now()
	if err := s.state.Set(KeyLastSyncTime, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		s.logger.Printf("WARNING: persisting last sync time: %v", err)
		return
	}

	s.mu.Lock()
	s.lastSyncTime = now
	s.mu.Unlock()
	s.lastSyncListeners.fire(now)
}

// sameSources reports whether a and b contain the same sources, ignoring
// order.
func sameSources(a, b []SyncSource) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[SyncSource]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}
