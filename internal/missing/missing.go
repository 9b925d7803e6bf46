// Package missing implements the Missing List (spec §4.5): a periodic
// scan over paths whose parents exist but that don't, re-attempting
// association until the path reappears.
//
// Grounded on original_source/gio/fen/fen-missing.c
// (_fen_missing_scan_timeout_cb): walk the list, try to associate each
// entry, emit CREATED and remove on success, stop the timer once empty.
//
// This package is deliberately generic over an Entry interface rather
// than importing internal/fdata directly, so that fdata (which needs to
// push entries here from AdjustDeleted) doesn't create an import cycle.
package missing

import (
	"sync"
	"time"
)

// Entry is anything the Missing List can periodically retry.
type Entry interface {
	// Path is the entry's key, used for dedup.
	Path() string
	// TryAssociate attempts to re-associate the entry with the kernel
	// primitive. ok is true on success.
	TryAssociate() (ok bool, err error)
	// EmitCreated is called once, right after a successful TryAssociate.
	EmitCreated()
}

// List is the Missing List. It is safe for concurrent use, though in
// this engine it is always called with the global lock already held.
type List struct {
	mu       sync.Mutex
	interval time.Duration
	entries  map[string]Entry
	timer    *time.Timer
	afterFn  func(d time.Duration, f func()) *time.Timer // swappable for tests
}

// New returns an empty Missing List that scans every interval (spec
// default ~4000ms) while non-empty.
func New(interval time.Duration) *List {
	return &List{
		interval: interval,
		entries:  make(map[string]Entry),
		afterFn:  time.AfterFunc,
	}
}

// Add registers e and arms the scan timer if this is the first entry.
func (l *List) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[e.Path()] = e
	if l.timer == nil {
		l.timer = l.afterFn(l.interval, l.tick)
	}
}

// Remove drops e's path from the list, e.g. because it was resolved by
// some other means (a direct subscription succeeded).
func (l *List) Remove(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, path)
}

// Len reports the number of outstanding entries.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *List) tick() {
	l.mu.Lock()
	entries := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.Unlock()

	for _, e := range entries {
		ok, err := e.TryAssociate()
		if err != nil {
			continue
		}
		if ok {
			l.Remove(e.Path())
			e.EmitCreated()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		l.timer = nil
		return
	}
	l.timer = l.afterFn(l.interval, l.tick)
}

// Tick runs one scan pass synchronously, for deterministic tests that
// don't want to wait on the real timer.
func (l *List) Tick() { l.tick() }

// SetAfterFunc overrides the timer-scheduling function used to arm the
// periodic scan. The owning Engine installs a wrapper that takes its
// single global lock before running the callback (spec §5), since
// TryAssociate/EmitCreated reach back into the tree and event engine;
// tests may install a synchronous stand-in.
func (l *List) SetAfterFunc(fn func(d time.Duration, f func()) *time.Timer) {
	l.afterFn = fn
}
