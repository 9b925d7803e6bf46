// Package fdata implements the FData event engine (spec §4.3): per-path
// event queueing with pair/triplet optimization, settle-scan back-off,
// and AdjustDeleted. This is the most subtle component in the system.
//
// Grounded almost line-for-line on original_source/gio/fen/fen-data.c
// (_fdata_add_event, _fdata_events_timeout_cb, _fdata_change_timeout_cb,
// _fdata_adjust_deleted), with the Go idiom for timers and queues
// following backend_fen.go's handleEvent/updateDirectory.
package fdata

import (
	"io"
	"os"
	"path/filepath"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/lma-fen/fencore/internal/debug"
	"github.com/lma-fen/fencore/internal/missing"
	"github.com/lma-fen/fencore/internal/node"
	"github.com/lma-fen/fencore/kernel"
)

// SemanticKind is one of the high-level event kinds the core emits
// (spec §6): CREATED, DELETED, CHANGED, ATTRIBUTE_CHANGED, UNMOUNTED.
type SemanticKind int

const (
	Created SemanticKind = iota
	Deleted
	Changed
	AttributeChanged
	SemUnmounted
)

func (k SemanticKind) String() string {
	switch k {
	case Created:
		return "CREATED"
	case Deleted:
		return "DELETED"
	case Changed:
		return "CHANGED"
	case AttributeChanged:
		return "ATTRIBUTE_CHANGED"
	case SemUnmounted:
		return "UNMOUNTED"
	default:
		return "UNKNOWN"
	}
}

// Mapper converts a raw (post-normalization) kernel.EventKind into the
// semantic kind the external adapter understands (spec §6's mapping
// table; the Subscription Façade injects one of two built-in mappers).
type Mapper func(raw kernel.EventKind) SemanticKind

// Sink is the event-sink contract the Subscription Façade fulfills
// (spec §6): EmitAll reaches every subscriber of an FData plus (with
// CHANGED-suppression rules the façade applies) its parent's
// subscribers; EmitOne reaches exactly one subscriber. Both are called
// with the engine's global lock held, so implementations must not call
// back into the engine synchronously (spec §5).
type Sink interface {
	EmitAll(f *FData, kind SemanticKind)
	EmitOne(f *FData, kind SemanticKind, subscriber interface{})
}

// PortOps is the subset of the Port Layer (internal/portpool.Layer) the
// event engine drives. Declared here, rather than importing portpool
// directly, keeps fdata's dependency surface to exactly what it uses.
type PortOps interface {
	Associate(path string, subscriber interface{}, statRefresh bool) (size int64, isDir bool, err error)
	Reassociate(path string, subscriber interface{}) error
	Dissociate(subscriber interface{}) error
	IsAssociated(subscriber interface{}) bool
}

// Config bundles the FData engine's timing constants (spec §4.3).
type Config struct {
	PairWindow   time.Duration // pair-merge window, default 50ms
	PumpInterval time.Duration // event-pump tick, default 10ms
	SettleBase   time.Duration // settle back-off base, default 50ms
	SettleMin    time.Duration // default 400ms
	SettleMax    time.Duration // default 400ms
}

func (c *Config) setDefaults() {
	if c.PairWindow <= 0 {
		c.PairWindow = 50 * time.Millisecond
	}
	if c.PumpInterval <= 0 {
		c.PumpInterval = 10 * time.Millisecond
	}
	if c.SettleBase <= 0 {
		c.SettleBase = 50 * time.Millisecond
	}
	if c.SettleMin <= 0 {
		c.SettleMin = 400 * time.Millisecond
	}
	if c.SettleMax <= 0 {
		c.SettleMax = 400 * time.Millisecond
	}
}

// Engine owns the FData event state machine for every monitored path in
// a tree.
type Engine struct {
	cfg Config

	tree    *node.Tree
	port    PortOps
	missing *missing.List
	sink    Sink
	mapper  Mapper

	afterFunc func(d time.Duration, f func()) *time.Timer
	deferred  *cache.Cache // cancelled FData awaiting both timers to drain, keyed by path
}

// NewEngine wires the FData event engine over tree, port, missingList,
// sink and mapper.
func NewEngine(tree *node.Tree, port PortOps, missingList *missing.List, sink Sink, mapper Mapper, cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:       cfg,
		tree:      tree,
		port:      port,
		missing:   missingList,
		sink:      sink,
		mapper:    mapper,
		afterFunc: time.AfterFunc,
		deferred:  cache.New(cache.NoExpiration, 0),
	}
}

// GetOrCreate returns the FData for path, creating the node and/or
// FData if either is missing.
func (e *Engine) GetOrCreate(path string) *FData {
	n := e.tree.FindOrCreate(path, nil)
	fd, ok := n.Data.(*FData)
	if !ok {
		fd = newFData(n, e)
		n.Data = fd
	}
	return fd
}

// Get returns the FData for path if the node and FData both exist.
func (e *Engine) Get(path string) (*FData, bool) {
	n, exact := e.tree.Find(path)
	if !exact || n.Data == nil {
		return nil, false
	}
	fd, ok := n.Data.(*FData)
	return fd, ok
}

// EmitOne delivers kind for f to exactly one subscriber, bypassing any
// queueing — used by the Subscription Façade for initial-existence
// notifications (spec §6).
func (e *Engine) EmitOne(f *FData, kind SemanticKind, subscriber interface{}) {
	e.sink.EmitOne(f, kind, subscriber)
}

// Dump walks the tree and writes one line per live FData to w (spec
// SPEC_FULL.md §D, grounded on fen-dump.c).
func (e *Engine) Dump(w io.Writer) {
	node.Traverse(e.tree.Root, func(n *node.Node) {
		f, ok := n.Data.(*FData)
		if !ok {
			return
		}
		debug.DumpLine(w, f.Path(), f.size, f.queue.Size(), f.isDir, f.Passive(), f.cancelled)
	})
}

// AddSubscriber adds sub to f's subscriber list, incrementing the
// directory-monitor count when isDirMonitor is set.
func (e *Engine) AddSubscriber(f *FData, sub interface{}, isDirMonitor bool) {
	f.addSubscriber(sub)
	if isDirMonitor {
		f.dirMonitorCount++
	}
}

// RemoveSubscriber removes sub from f's subscriber list, and runs Delete
// on f if it becomes passive (immediate teardown, or cancellation and
// deferral while its timers are active).
func (e *Engine) RemoveSubscriber(f *FData, sub interface{}, isDirMonitor bool) {
	f.removeSubscriber(sub)
	if isDirMonitor && f.dirMonitorCount > 0 {
		f.dirMonitorCount--
	}
	if f.Passive() {
		e.Delete(f)
	}
}

// Associate arms (or re-arms) the kernel association for f. When
// statRefresh is true, f's cached size/is-dir are refreshed from the
// result.
func (e *Engine) Associate(f *FData, statRefresh bool) error {
	size, isDir, err := e.port.Associate(f.Path(), f, statRefresh)
	if err != nil {
		return err
	}
	if statRefresh {
		f.size = size
		f.isDir = isDir
	}
	return nil
}

// AddEvent is the heart of the event engine (spec §4.3's AddEvent
// policy).
func (e *Engine) AddEvent(f *FData, rawKind kernel.EventKind, twinFromPort bool) {
	if !f.Living() {
		return
	}
	now := time.Now()

	switch rawKind {
	case kernel.RenameFrom, kernel.RenameTo, kernel.Access:
		panic("fdata: AddEvent invariant violation: un-normalized raw kind " + rawKind.String())
	}

	if rawKind == kernel.Delete {
		f.consecutiveModified = 0
		f.queue.Clear()
		e.emitRaw(f, kernel.Delete, false)
		e.AdjustDeleted(f)
		return
	}

	if rawKind == kernel.Modified || rawKind == kernel.Unmounted || rawKind == kernel.MountedOver {
		f.consecutiveModified++
	}

	ev := &NodeEvent{Kind: rawKind, Twin: twinFromPort, At: now}

	for f.queue.Size() > 0 {
		i := f.queue.Size() - 1
		tailAny, _ := f.queue.Get(i)
		tail := tailAny.(*NodeEvent)

		switch {
		case tail.Kind == ev.Kind && tail.At.After(ev.At) && tail.At.Sub(ev.At) <= e.cfg.PairWindow:
			f.queue.Remove(i)
			ev.Twin = ev.Twin || tail.Twin
			ev.At = ev.At.Add(time.Millisecond)
			continue
		case ev.Kind == kernel.Modified && tail.Kind == kernel.Attrib:
			ev.Twin = true
			f.queue.Remove(i)
			continue
		case ev.Kind == kernel.Attrib && f.settleTimer != nil:
			tail.Twin = true
			return
		}
		break
	}

	ev.At = ev.At.Add(e.cfg.PairWindow)
	f.queue.Add(ev)
	if f.pumpTimer == nil {
		ff := f
		f.pumpTimer = e.afterFunc(e.cfg.PumpInterval, func() { e.pumpTick(ff) })
	}
}

// emitRaw maps a raw kind through the injected Mapper and delivers it
// via Sink.EmitAll, emitting the twin ATTRIBUTE_CHANGED companion first
// when requested (spec §6's ordering: "ATTRIBUTE_CHANGED then CHANGED").
func (e *Engine) emitRaw(f *FData, rawKind kernel.EventKind, twin bool) {
	if twin {
		e.sink.EmitAll(f, e.mapper(kernel.Attrib))
	}
	e.sink.EmitAll(f, e.mapper(rawKind))
}

// pumpTick drains one queued event for f (spec §4.3's event-pump tick).
func (e *Engine) pumpTick(f *FData) {
	if !f.Living() {
		f.pumpTimer = nil
		return
	}
	if f.queue.Size() == 0 {
		f.pumpTimer = nil
		return
	}

	evAny, _ := f.queue.Get(0)
	f.queue.Remove(0)
	ev := evAny.(*NodeEvent)

	if !ev.Pending {
		e.emitRaw(f, ev.Kind, ev.Twin)
	}

	switch ev.Kind {
	case kernel.Modified, kernel.Unmounted, kernel.MountedOver:
		if f.settleTimer == nil {
			e.armSettle(f)
		}
	case kernel.Attrib:
		if f.settleTimer != nil {
			panic("fdata: ATTRIB pumped while settle timer active for " + f.Path())
		}
		if err := e.port.Reassociate(f.Path(), f); err != nil {
			e.enqueueSyntheticDelete(f)
		}
	case kernel.Delete:
		// cleanup already performed synchronously in AddEvent
	}

	if f.queue.Size() > 0 {
		ff := f
		f.pumpTimer = e.afterFunc(e.cfg.PumpInterval, func() { e.pumpTick(ff) })
	} else {
		f.pumpTimer = nil
	}
}

// armSettle schedules the change-settle timer with the scalable
// back-off described in spec §4.3: interval = base * 2^consecutive,
// clamped to [min, max]. Once clamped, growth stops (settleClamped
// replaces the source's change_update_id sentinel reuse, per spec §9's
// open question).
func (e *Engine) armSettle(f *FData) {
	interval := e.cfg.SettleBase
	if !f.settleClamped {
		shift := f.consecutiveModified
		if shift > 30 {
			shift = 30
		}
		interval = e.cfg.SettleBase * time.Duration(int64(1)<<uint(shift))
	}
	if interval >= e.cfg.SettleMax {
		interval = e.cfg.SettleMax
		f.settleClamped = true
		f.consecutiveModified = 0
	}
	if interval < e.cfg.SettleMin {
		interval = e.cfg.SettleMin
	}
	ff := f
	f.settleTimer = e.afterFunc(interval, func() { e.settleTick(ff) })
}

// settleTick is the change-settle scan (spec §4.3's "Change-settle
// tick").
func (e *Engine) settleTick(f *FData) {
	parentPassive := true
	if f.node.Parent != nil {
		if pd, ok := f.node.Parent.Data.(*FData); ok {
			parentPassive = pd.Passive()
		}
	}
	if !f.Living() || (len(f.node.Children) == 0 && f.Passive() && parentPassive) {
		f.settleTimer = nil
		return
	}

	fi, err := os.Stat(f.Path())
	if err != nil {
		f.settleTimer = nil
		e.enqueueSyntheticDelete(f)
		return
	}

	if newSize := fi.Size(); newSize != f.size {
		f.size = newSize
		f.isDir = fi.IsDir()
		f.queue.Add(&NodeEvent{Kind: kernel.Modified, Pending: true, At: time.Now()})
		if f.pumpTimer == nil {
			ff := f
			f.pumpTimer = e.afterFunc(e.cfg.PumpInterval, func() { e.pumpTick(ff) })
		}
		f.consecutiveModified++
		e.armSettle(f)
		return
	}

	f.consecutiveModified = 0
	f.settleClamped = false
	f.isDir = fi.IsDir()

	if f.isDir {
		if f.MonitoredDirectory() {
			e.ScanChildren(f)
		} else {
			e.ScanKnownChildren(f)
			if len(f.node.Children) == 0 && f.Passive() && parentPassive {
				e.port.Dissociate(f)
				f.settleTimer = nil
				return
			}
		}
	}

	if err := e.port.Reassociate(f.Path(), f); err != nil {
		e.enqueueSyntheticDelete(f)
	}
	f.settleTimer = nil
}

func (e *Engine) enqueueSyntheticDelete(f *FData) {
	e.AddEvent(f, kernel.Delete, false)
}

// AdjustDeleted classifies a just-observed deletion (spec §4.3's
// AdjustDeleted).
func (e *Engine) AdjustDeleted(f *FData) {
	parent := f.node.Parent
	var parentFD *FData
	if parent != nil {
		if pd, ok := parent.Data.(*FData); ok {
			parentFD = pd
		}
	}

	hasInterest := !f.Passive() || len(f.node.Children) > 0 || (parentFD != nil && parentFD.Living())
	if !hasInterest {
		e.tree.PendingRemove(f.node, e.preDelete)
		return
	}

	if parent != nil {
		pd := parentFD
		if pd == nil {
			pd = e.GetOrCreate(parent.Name)
		}
		if err := e.Associate(pd, true); err != nil {
			e.AdjustDeleted(pd)
		}
		return
	}

	e.missing.Add(f)
}

// ScanChildren creates FData for unknown child entries of a monitored
// directory, associates each, and emits CREATED to every subscriber
// (spec §4.4's ScanChildren, used when resettling a monitored
// directory).
func (e *Engine) ScanChildren(f *FData) {
	e.scanChildren(f, func(cf *FData) { e.sink.EmitAll(cf, Created) })
}

// ScanChildrenForInit is the Add-time variant (spec §4.4's
// ScanChildrenForInit): same discovery and association as ScanChildren,
// but CREATED is delivered only to requester — the subscriber that just
// subscribed to the directory — via EmitOne, not broadcast to every
// existing subscriber.
func (e *Engine) ScanChildrenForInit(f *FData, requester interface{}) {
	e.scanChildren(f, func(cf *FData) { e.sink.EmitOne(cf, Created, requester) })
}

func (e *Engine) scanChildren(f *FData, onNew func(cf *FData)) {
	entries, err := os.ReadDir(f.Path())
	if err != nil {
		return
	}
	for _, ent := range entries {
		childPath := filepath.Join(f.Path(), ent.Name())
		cf := e.GetOrCreate(childPath)
		if cf.Monitoring() {
			continue // already armed, nothing to discover
		}
		if err := e.Associate(cf, true); err != nil {
			continue
		}
		onNew(cf)
	}
}

// ScanKnownChildren re-associates already-known children that have a
// live subscriber but are not yet monitoring anything (spec §4.4's
// ScanKnownChildren) — the case of a path subscribed to before it
// existed, whose nearest existing ancestor just settled and found it
// real. New entries and purely passive bookkeeping children are left
// alone; each child that re-associates successfully gets a CREATED.
func (e *Engine) ScanKnownChildren(f *FData) {
	for _, child := range f.node.Children {
		cf, ok := child.Data.(*FData)
		if !ok || cf.Passive() || cf.Monitoring() {
			continue
		}
		if err := e.Associate(cf, true); err == nil {
			e.sink.EmitAll(cf, Created)
		}
	}
}

// Delete runs the FData lifecycle cleanup (spec §4.3's Delete(f)):
// called when f is passive. If either timer is still active, f is
// cancelled and deferred; otherwise it is torn down immediately.
func (e *Engine) Delete(f *FData) {
	if !f.Passive() {
		return
	}
	if f.pumpTimer != nil || f.settleTimer != nil {
		f.cancelled = true
		if !f.deferredQueued {
			f.deferredQueued = true
			e.deferred.Set(f.Path(), f, cache.NoExpiration)
		}
		return
	}
	e.teardown(f)
}

func (e *Engine) teardown(f *FData) {
	n := f.node
	n.Data = nil // null the back-pointer before any potentially reentrant action
	e.port.Dissociate(f)
	f.queue.Clear()
	e.deferred.Delete(f.Path())
	e.tree.Remove(n, e.preDelete)
}

// preDelete lets the Node Tree remove a node whose FData has already
// been nulled out by teardown.
func (e *Engine) preDelete(n *node.Node) bool { return n.Data == nil }

// IdleSweep drains the deferred-delete list, retrying teardown for any
// cancelled FData whose timers have since drained (spec §4.3: "each
// idle tick, attempt deletion again").
func (e *Engine) IdleSweep() {
	for path, item := range e.deferred.Items() {
		f, ok := item.Object.(*FData)
		if !ok {
			continue
		}
		if f.pumpTimer == nil && f.settleTimer == nil {
			e.teardown(f)
		}
		_ = path
	}
	e.tree.Sweep()
}

// DeferredCount reports how many FData records are cancelled and
// awaiting their timers to drain (test/diagnostic use).
func (e *Engine) DeferredCount() int { return e.deferred.ItemCount() }

// SetAfterFunc overrides the timer-scheduling function used for the
// event pump and settle timers. The owning Engine installs a wrapper
// that takes its single global lock before running the callback (spec
// §5); tests may install a synchronous stand-in.
func (e *Engine) SetAfterFunc(fn func(d time.Duration, f func()) *time.Timer) {
	e.afterFunc = fn
}
