package userdata

import "sync"

// listeners is a registry of observer callbacks for one event kind.
//
// Registration returns a removal func. Firing snapshots the callback set
// under the lock and invokes the callbacks outside of it, so a callback may
// register or remove listeners without deadlocking.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

// add registers fn and returns a func that removes the registration.
// Removal is idempotent.
func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// fire invokes every registered callback with v.
func (l *listeners[T]) fire(v T) {
	l.mu.Lock()
	snapshot := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		snapshot = append(snapshot, fn)
	}
	l.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

// StatusEmitter is an embeddable helper for Synchroniser implementations.
// It tracks the synchroniser's status and fires registered observers only
// when the status actually changes.
type StatusEmitter struct {
	mu     sync.Mutex
	status SyncStatus

	statusListeners listeners[SyncStatus]
	localListeners  listeners[struct{}]
}

// NewStatusEmitter returns an emitter starting in the given status.
func NewStatusEmitter(initial SyncStatus) *StatusEmitter {
	return &StatusEmitter{status: initial}
}

// Status returns the current status.
func (e *StatusEmitter) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetStatus updates the status, notifying observers if it changed.
func (e *StatusEmitter) SetStatus(status SyncStatus) {
	e.mu.Lock()
	changed := e.status != status
	e.status = status
	e.mu.Unlock()

	if changed {
		e.statusListeners.fire(status)
	}
}

// OnStatusChange implements Synchroniser.OnStatusChange.
func (e *StatusEmitter) OnStatusChange(fn func(SyncStatus)) func() {
	return e.statusListeners.add(fn)
}

// OnLocalChange implements Synchroniser.OnLocalChange.
func (e *StatusEmitter) OnLocalChange(fn func()) func() {
	return e.localListeners.add(func(struct{}) { fn() })
}

// NotifyLocalChange fires the local-change observers.
func (e *StatusEmitter) NotifyLocalChange() {
	e.localListeners.fire(struct{}{})
}
