package workspace

import (
	"context"
	"fmt"
	"sync"
)

// EventKind identifies a workspace transition.
type EventKind int

const (
	// EventFolderAdded fires after a folder is registered.
	EventFolderAdded EventKind = iota
	// EventFolderRemoved fires before a folder's queue is torn down.
	EventFolderRemoved
	// EventFocusChanged fires after focus moves; Folder is nil when
	// focus was cleared deliberately.
	EventFocusChanged
	// EventUnfocused fires for the previously focused folder before a
	// new focus is announced.
	EventUnfocused
	// EventManifestChanged fires after a folder's manifest changed on
	// disk and the folder was refreshed.
	EventManifestChanged
	// EventSettingsChanged fires after a new settings snapshot is
	// installed; Folder is nil.
	EventSettingsChanged
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventFolderAdded:
		return "folder-added"
	case EventFolderRemoved:
		return "folder-removed"
	case EventFocusChanged:
		return "focus-changed"
	case EventUnfocused:
		return "unfocused"
	case EventManifestChanged:
		return "manifest-changed"
	case EventSettingsChanged:
		return "settings-changed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is one workspace transition as seen by observers.
type Event struct {
	Kind   EventKind
	Folder *Folder
}

// Observer receives workspace events synchronously, in registration
// order (reverse order for folder teardown). An error from a handler
// stops the dispatch: later observers are skipped for that event.
//
// Handlers run while the workspace transition lock is held and must not
// call back into workspace mutators; hand work that needs to off to a
// goroutine.
type Observer interface {
	HandleWorkspaceEvent(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event) error

// HandleWorkspaceEvent implements Observer.
func (f ObserverFunc) HandleWorkspaceEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type observerEntry struct {
	id  uint64
	obs Observer
}

// observerSet is an ordered observer list. Registration order is
// preserved and drives dispatch order.
type observerSet struct {
	mu      sync.Mutex
	nextID  uint64
	entries []observerEntry
}

// add registers obs and returns its removal function.
func (s *observerSet) add(obs Observer) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, observerEntry{id: id, obs: obs})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		for i, e := range s.entries {
			if e.id == id {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
}

func (s *observerSet) snapshot() []observerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]observerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// notify dispatches ev in registration order. The first handler error
// aborts the dispatch and is returned; skipped observers are reported.
func (s *observerSet) notify(ctx context.Context, ev Event, report func(format string, args ...any)) error {
	entries := s.snapshot()
	for i, e := range entries {
		if err := e.obs.HandleWorkspaceEvent(ctx, ev); err != nil {
			reportSkipped(report, ev, len(entries)-i-1, err)
			return fmt.Errorf("dispatch %s: %w", ev.Kind, err)
		}
	}
	return nil
}

// notifyReverse dispatches ev in reverse registration order. Teardown
// events use it so the most recently registered observers unwind first.
func (s *observerSet) notifyReverse(ctx context.Context, ev Event, report func(format string, args ...any)) error {
	entries := s.snapshot()
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].obs.HandleWorkspaceEvent(ctx, ev); err != nil {
			reportSkipped(report, ev, i, err)
			return fmt.Errorf("dispatch %s: %w", ev.Kind, err)
		}
	}
	return nil
}

func reportSkipped(report func(format string, args ...any), ev Event, skipped int, err error) {
	if skipped > 0 && report != nil {
		report("dispatch %s: %d observer(s) skipped after error: %v", ev.Kind, skipped, err)
	}
}
