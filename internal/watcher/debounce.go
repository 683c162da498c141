package watcher

import (
	"sync"
	"time"
)

// Debounced wraps a Watcher and coalesces rapid changes to the same
// path into one event carrying the union of the operations. Editors
// that write a file several times per save then trigger one reaction.
type Debounced struct {
	inner  Watcher
	window time.Duration

	mu      sync.Mutex
	pending map[string]*coalesced
	closed  bool

	events chan Event
	errors chan error
	quit   chan struct{}
	wg     sync.WaitGroup
}

type coalesced struct {
	event Event
	timer *time.Timer
}

var _ Watcher = (*Debounced)(nil)

// Debounce wraps inner with a coalescing window. A non-positive window
// defaults to 100ms.
func Debounce(inner Watcher, window time.Duration) *Debounced {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	d := &Debounced{
		inner:   inner,
		window:  window,
		pending: make(map[string]*coalesced),
		events:  make(chan Event, 64),
		errors:  make(chan error, 64),
		quit:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Watch delegates to the inner watcher.
func (d *Debounced) Watch(path string) error { return d.inner.Watch(path) }

// WatchTree delegates to the inner watcher.
func (d *Debounced) WatchTree(root string) error { return d.inner.WatchTree(root) }

// Unwatch delegates to the inner watcher.
func (d *Debounced) Unwatch(path string) error { return d.inner.Unwatch(path) }

// IsWatching delegates to the inner watcher.
func (d *Debounced) IsWatching(path string) bool { return d.inner.IsWatching(path) }

// Events returns the coalesced change channel.
func (d *Debounced) Events() <-chan Event { return d.events }

// Errors returns the error channel.
func (d *Debounced) Errors() <-chan error { return d.errors }

// Pending returns the number of paths still waiting out the window.
func (d *Debounced) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush fires every pending event immediately. Tests use it to avoid
// waiting out the window.
func (d *Debounced) Flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.pending))
	for path, p := range d.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	d.mu.Unlock()

	for _, path := range paths {
		d.fire(path)
	}
}

// Close stops the wrapper and the inner watcher. Pending events are
// discarded.
func (d *Debounced) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.quit)
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()

	d.wg.Wait()
	close(d.events)
	close(d.errors)
	return d.inner.Close()
}

func (d *Debounced) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case ev, ok := <-d.inner.Events():
			if !ok {
				return
			}
			d.handle(ev)
		case err, ok := <-d.inner.Errors():
			if !ok {
				return
			}
			select {
			case d.errors <- err:
			case <-d.quit:
			default:
			}
		}
	}
}

func (d *Debounced) handle(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if p, ok := d.pending[ev.Path]; ok {
		p.event.Op |= ev.Op
		p.event.Time = ev.Time
		p.timer.Reset(d.window)
		return
	}
	p := &coalesced{event: ev}
	p.timer = time.AfterFunc(d.window, func() { d.fire(ev.Path) })
	d.pending[ev.Path] = p
}

func (d *Debounced) fire(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	ev := p.event
	d.mu.Unlock()

	select {
	case d.events <- ev:
	case <-d.quit:
	default:
	}
}
