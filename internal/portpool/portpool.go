// Package portpool implements the Port Layer (spec §4.2): a pool of
// kernel.Port handles bounded by the platform's max-associations ceiling,
// a subscriber->association-record map, the event pump that drains
// kernel events onto a global queue, and the global queue's on-the-fly
// coalescing rules.
//
// Grounded on original_source/gio/fen/fen-kernel.c (port ref-counting,
// _port_associate/_port_dissociate, the "Marked" record state for
// in-flight dissociation) and backend_fen.go's readEvents/handleEvent
// for the Go event-pump shape.
package portpool

import (
	"os"
	"syscall"
	"time"

	"github.com/emirpasic/gods/lists/doublylinkedlist"

	"github.com/lma-fen/fencore/internal/debug"
	"github.com/lma-fen/fencore/kernel"
)

// EventSink receives normalized events from the Port Layer's pump. It is
// invoked with the Layer's lock held by the caller of Pump/DrainGlobal, so
// implementations must not re-enter the Layer synchronously (spec §5).
type EventSink func(subscriber interface{}, kind kernel.EventKind, twin bool)

type portEntry struct {
	port  kernel.Port
	count int
	timer *time.Timer
}

// record is the Port Layer's per-subscriber association record (spec
// §4.2).
type record struct {
	port       *portEntry
	fileObj    *kernel.FileObject
	active     bool
	subscriber interface{} // nulled ("Marked") once Dissociate runs ahead of buffered events
	marked     bool
}

type queuedEvent struct {
	subscriber interface{}
	kind       kernel.EventKind
	twin       bool
}

// Layer is the Port Layer. Callers must hold their own lock (the
// engine's single global lock, spec §5) around every method.
type Layer struct {
	src          kernel.Source
	maxPerPort   int
	pumpInterval time.Duration
	drainBatch   int

	available []*portEntry
	full      []*portEntry
	records   map[interface{}]*record

	// global is the global event queue (spec §4.2). It is a
	// doublylinkedlist rather than a plain queue because coalescing
	// must inspect and rewrite the *tail* (most recently appended
	// element) while the pump drains from the *head* in FIFO order —
	// gods' queue types only expose the head via Peek/Dequeue.
	global *doublylinkedlist.List // of *queuedEvent

	sink EventSink

	// afterFunc lets tests replace the pump's real-time scheduling.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// Config bundles the Port Layer's tunables (spec §4.2, §5).
type Config struct {
	PumpInterval time.Duration // default 400ms
	DrainBatch   int           // default 64
}

// New creates a Port Layer over src, delivering normalized events to
// sink.
func New(src kernel.Source, cfg Config, sink EventSink) *Layer {
	if cfg.PumpInterval <= 0 {
		cfg.PumpInterval = 400 * time.Millisecond
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = 64
	}
	return &Layer{
		src:          src,
		maxPerPort:   src.MaxAssociations(),
		pumpInterval: cfg.PumpInterval,
		drainBatch:   cfg.DrainBatch,
		records:      make(map[interface{}]*record),
		global:       doublylinkedlist.New(),
		sink:         sink,
		afterFunc:    time.AfterFunc,
	}
}

func (l *Layer) pickPort() (*portEntry, error) {
	if len(l.available) > 0 {
		return l.available[0], nil
	}
	p, err := l.src.NewPort()
	if err != nil {
		return nil, err
	}
	pe := &portEntry{port: p}
	l.available = append(l.available, pe)
	l.schedulePump(pe)
	return pe, nil
}

func (l *Layer) migrate(pe *portEntry) {
	if pe.count >= l.maxPerPort {
		l.removeFrom(&l.available, pe)
		l.full = appendUnique(l.full, pe)
	} else {
		l.removeFrom(&l.full, pe)
		l.available = appendUnique(l.available, pe)
	}
}

func appendUnique(s []*portEntry, pe *portEntry) []*portEntry {
	for _, e := range s {
		if e == pe {
			return s
		}
	}
	return append(s, pe)
}

func (l *Layer) removeFrom(s *[]*portEntry, pe *portEntry) {
	out := (*s)[:0]
	for _, e := range *s {
		if e != pe {
			out = append(out, e)
		}
	}
	*s = out
}

// statFileObj fills in the FileObject timestamps the way fen.go's
// populateFileObj does.
func statFileObj(path string) (*kernel.FileObject, int64, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, 0, false, err
	}
	obj := &kernel.FileObject{Name: path}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		obj.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		obj.Mtime = time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
		obj.Ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	} else {
		obj.Mtime = fi.ModTime()
	}
	return obj, fi.Size(), fi.IsDir(), nil
}

// Associate finds-or-creates the record for subscriber and arms the
// kernel association with the full event mask (MODIFIED|ATTRIB,
// NOFOLLOW implied). The path is always stat'd to fill the FileObject;
// the resulting size/is-dir are returned only when statRefresh is true
// (spec §4.2).
func (l *Layer) Associate(path string, subscriber interface{}, statRefresh bool) (size int64, isDir bool, err error) {
	obj, sz, dir, err := statFileObj(path)
	if err != nil {
		l.teardownRecord(subscriber)
		return 0, false, err
	}
	if !statRefresh {
		sz, dir = 0, false // caller already knows; size/isDir only meaningful when statRefresh
	}

	rec, ok := l.records[subscriber]
	if !ok {
		pe, perr := l.pickPort()
		if perr != nil {
			return 0, false, perr
		}
		rec = &record{port: pe, subscriber: subscriber}
		l.records[subscriber] = rec
	}
	rec.fileObj = obj

	if err := rec.port.port.Associate(obj, kernel.Modified|kernel.Attrib, subscriber); err != nil {
		l.teardownRecord(subscriber)
		return 0, false, err
	}
	if !rec.active {
		rec.port.count++
		l.migrate(rec.port)
	}
	rec.active = true
	rec.marked = false
	rec.subscriber = subscriber
	debug.Trace(path, kernel.Modified|kernel.Attrib)
	return sz, dir, nil
}

// Reassociate re-arms an existing record without returning a refreshed
// size/is-dir (used after a settle completes and size is already known).
func (l *Layer) Reassociate(path string, subscriber interface{}) error {
	_, _, err := l.Associate(path, subscriber, false)
	return err
}

// Dissociate detaches subscriber from the kernel. If events are still
// buffered for it in the kernel, the record lingers ("Marked") with its
// back-pointer nulled; the pump frees it when those events arrive.
func (l *Layer) Dissociate(subscriber interface{}) error {
	rec, ok := l.records[subscriber]
	if !ok {
		return nil
	}
	err := rec.port.port.Dissociate(subscriber)
	if rec.active {
		rec.port.count--
		l.migrate(rec.port)
	}
	rec.active = false
	rec.marked = true
	rec.subscriber = nil // Marked: event arriving later finds a nil back-pointer and is freed
	return err
}

func (l *Layer) teardownRecord(subscriber interface{}) {
	rec, ok := l.records[subscriber]
	if !ok {
		return
	}
	if rec.active {
		rec.port.count--
		l.migrate(rec.port)
	}
	delete(l.records, subscriber)
}

// IsAssociated reports whether subscriber currently holds a live
// (non-Marked) association.
func (l *Layer) IsAssociated(subscriber interface{}) bool {
	rec, ok := l.records[subscriber]
	return ok && rec.active && !rec.marked
}

func (l *Layer) schedulePump(pe *portEntry) {
	pe.timer = l.afterFunc(l.pumpInterval, func() { l.pumpOnce(pe) })
}

// pumpOnce drains one port's events, as spec §4.2 describes: repeatedly
// poll in batches of drainBatch with a zero timeout until none remain,
// normalize/coalesce each into the global queue, then process the
// global queue.
func (l *Layer) pumpOnce(pe *portEntry) {
	for {
		events, err := pe.port.Poll(l.drainBatch, 0)
		if err != nil || len(events) == 0 {
			break
		}
		for _, ev := range events {
			l.handleRaw(pe, ev)
		}
		if len(events) < l.drainBatch {
			break
		}
	}
	l.DrainGlobal()

	if pe.count <= 0 {
		return // stop re-scheduling once the port is empty
	}
	l.schedulePump(pe)
}

// Pump lets callers (the engine, or tests) force one pump pass
// synchronously rather than waiting on the real timer.
func (l *Layer) Pump() {
	for _, pe := range append(append([]*portEntry{}, l.available...), l.full...) {
		for {
			events, err := pe.port.Poll(l.drainBatch, 0)
			if err != nil || len(events) == 0 {
				break
			}
			for _, ev := range events {
				l.handleRaw(pe, ev)
			}
			if len(events) < l.drainBatch {
				break
			}
		}
	}
	l.DrainGlobal()
}

func (l *Layer) handleRaw(pe *portEntry, ev kernel.Event) {
	rec := l.records[ev.Cookie]

	// Single-shot semantics: the association is now inactive regardless
	// of what we do next.
	if rec != nil {
		if rec.active {
			rec.active = false
			pe.count--
			l.migrate(pe)
		}
	}

	if ev.Exception {
		// FILE_EXCEPTION: drop the record, no further interpretation.
		delete(l.records, ev.Cookie)
		return
	}

	if rec == nil || rec.marked {
		// Marked: the record was dissociated while events were still
		// buffered. Free it now that the last event has arrived.
		delete(l.records, ev.Cookie)
		return
	}

	kind, twin, ok := normalize(ev.Kind)
	if !ok {
		// FILE_ACCESS: the design deliberately ignores accesses.
		return
	}
	l.enqueueGlobal(rec.subscriber, kind, twin)
}

// normalize applies spec §4.2: when ATTRIB arrives combined with any
// other bit, ATTRIB is stripped and remembered as a twin on the
// resulting event (fen-kernel.c's port_add_kevent: "e & FILE_ATTRIB &&
// e != FILE_ATTRIB" strips the bit before rename normalization, since
// a MODIFIED often also flips ATTRIB on arrival); then RENAME_FROM ->
// DELETE, RENAME_TO -> MODIFIED; ACCESS is rejected unless it rode in
// on another bit, in which case it is simply dropped from the mask.
func normalize(kind kernel.EventKind) (out kernel.EventKind, twin, ok bool) {
	out = kind
	if out.Has(kernel.Attrib) && out != kernel.Attrib {
		out &^= kernel.Attrib
		twin = true
	}
	if out.Has(kernel.RenameFrom) {
		out = (out &^ kernel.RenameFrom) | kernel.Delete
	}
	if out.Has(kernel.RenameTo) {
		out = (out &^ kernel.RenameTo) | kernel.Modified
	}
	if out.Has(kernel.Access) {
		if out&^kernel.Access == 0 {
			return 0, false, false
		}
		out &^= kernel.Access
	}
	return out, twin, true
}

// enqueueGlobal appends a raw event to the global queue, applying the
// on-the-fly coalescing rules against the current tail (spec §4.2).
// twin marks an event that already carries its own ATTRIB companion,
// decomposed by normalize from a single combined arrival.
func (l *Layer) enqueueGlobal(subscriber interface{}, kind kernel.EventKind, twin bool) {
	if n := l.global.Size(); n > 0 {
		tailAny, _ := l.global.Get(n - 1)
		tail := tailAny.(*queuedEvent)
		if tail.subscriber == subscriber {
			switch {
			case tail.kind == kind:
				// Equal kind on the same subscriber: merge twin flags, drop new.
				tail.twin = tail.twin || twin
				return
			case kind == kernel.Modified && tail.kind == kernel.Attrib && !tail.twin:
				l.global.Set(n-1, &queuedEvent{subscriber: subscriber, kind: kernel.Modified, twin: true})
				return
			case kind == kernel.Attrib && tail.kind == kernel.Modified && !tail.twin:
				tail.twin = true
				return
			}
		}
	}
	l.global.Add(&queuedEvent{subscriber: subscriber, kind: kind, twin: twin})
}

// DrainGlobal invokes the sink for every queued event, in order, then
// empties the queue (spec §4.2 step 5).
func (l *Layer) DrainGlobal() {
	for l.global.Size() > 0 {
		v, _ := l.global.Get(0)
		l.global.Remove(0)
		qe := v.(*queuedEvent)
		l.sink(qe.subscriber, qe.kind, qe.twin)
	}
}

// Stats reports pool occupancy, for tests and Dump.
func (l *Layer) Stats() (availablePorts, fullPorts, records int) {
	return len(l.available), len(l.full), len(l.records)
}

// Ports returns every kernel.Port this Layer currently owns (available
// and full), for diagnostics and tests that need to inject events
// directly into the simulated backend.
func (l *Layer) Ports() []kernel.Port {
	out := make([]kernel.Port, 0, len(l.available)+len(l.full))
	for _, pe := range l.available {
		out = append(out, pe.port)
	}
	for _, pe := range l.full {
		out = append(out, pe.port)
	}
	return out
}

// SetAfterFunc overrides the timer-scheduling function used to arm the
// per-port pump. The owning Engine installs a wrapper that takes its
// single global lock before running the callback (spec §5: every timer
// fires under that lock); tests may install a synchronous stand-in.
func (l *Layer) SetAfterFunc(fn func(d time.Duration, f func()) *time.Timer) {
	l.afterFunc = fn
}
