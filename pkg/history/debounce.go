package history

import (
	"sync"
	"time"
)

// debouncer coalesces rapid writes per logical resource. Each Schedule call
// for a key resets that key's timer rather than stacking a second one, so at
// most one write per key is ever pending.
type debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timers   map[string]*time.Timer
	pending  map[string]func()
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{
		interval: interval,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]func()),
	}
}

// Schedule arms (or re-arms) the trailing timer for key. fn runs once the
// interval elapses without another Schedule call for the same key.
func (d *debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.pending[key] = fn
	d.timers[key] = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		fn, ok := d.pending[key]
		delete(d.pending, key)
		delete(d.timers, key)
		d.mu.Unlock()
		if ok {
			fn()
		}
	})
}

// Cancel drops any pending write for key without running it.
func (d *debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
	delete(d.pending, key)
}

// Flush runs every pending write immediately.
func (d *debouncer) Flush() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.pending))
	for key, fn := range d.pending {
		if t, ok := d.timers[key]; ok {
			t.Stop()
		}
		fns = append(fns, fn)
		delete(d.pending, key)
		delete(d.timers, key)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
