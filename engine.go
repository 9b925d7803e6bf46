// Package fencore's Engine wires the Port Layer, Node Tree, FData event
// engine and Missing List together and exposes the Subscription Façade
// (spec §4.4).
//
// Grounded on original_source/gio/fen/gfendirectorymonitor.c for what
// the external callbacks are used for, and fen-data.h's
// _fdata_class_init(user_emit_cb, user_emit_once_cb, user_event_converter)
// for the injected-callback-plus-mapper shape spec.md §9 calls for.
package fencore

import (
	"io"
	"sync"
	"time"

	"github.com/lma-fen/fencore/internal/fdata"
	"github.com/lma-fen/fencore/internal/missing"
	"github.com/lma-fen/fencore/internal/node"
	"github.com/lma-fen/fencore/internal/portpool"
	"github.com/lma-fen/fencore/kernel"
)

// Config bundles the Engine's timing constants. A zero Config gets the
// defaults used throughout spec.md §4: 50ms pairing/settle base, 400ms
// settle min/max, 10ms event pump, 400ms port pump, 4000ms missing-list
// scan. NodeCoolOff and DeferredSweepInterval have no value named in
// the spec; the defaults here were chosen to keep churn low without
// visibly delaying cleanup.
type Config struct {
	PairWindow   time.Duration
	PumpInterval time.Duration
	SettleBase   time.Duration
	SettleMin    time.Duration
	SettleMax    time.Duration

	PortPumpInterval time.Duration
	PortDrainBatch   int

	MissingScanInterval time.Duration

	NodeCoolOff           time.Duration
	DeferredSweepInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.MissingScanInterval <= 0 {
		c.MissingScanInterval = 4000 * time.Millisecond
	}
	if c.NodeCoolOff <= 0 {
		c.NodeCoolOff = 2 * time.Second
	}
	if c.DeferredSweepInterval <= 0 {
		c.DeferredSweepInterval = 250 * time.Millisecond
	}
}

type subOptions struct {
	dirMonitor          bool
	includeChildChanges bool
}

// Engine is the FEN monitoring core. Create one with New, feed it a
// kernel.Source, and drive it exclusively through Add/Remove/Dump/Close.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	tree    *node.Tree
	port    *portpool.Layer
	missing *missing.List
	events  *fdata.Engine

	subOpts map[*fdata.FData]map[interface{}]subOptions

	idleTimer *time.Timer
	closed    bool
}

// New constructs an Engine rooted at rootPath (typically the platform
// separator), sourcing kernel associations from src and delivering
// events through emitAll/emitOne, mapped by mapper (MapNotify or
// MapGIO, or a caller-supplied one).
func New(src kernel.Source, rootPath string, cfg Config, emitAll EmitAllFunc, emitOne EmitOneFunc, mapper Mapper) *Engine {
	cfg.setDefaults()

	e := &Engine{
		cfg:     cfg,
		subOpts: make(map[*fdata.FData]map[interface{}]subOptions),
	}
	e.tree = node.NewTree(rootPath, cfg.NodeCoolOff)
	e.missing = missing.New(cfg.MissingScanInterval)

	e.port = portpool.New(src, portpool.Config{
		PumpInterval: cfg.PortPumpInterval,
		DrainBatch:   cfg.PortDrainBatch,
	}, e.onPortEvent)

	sink := &coreSink{engine: e, emitAll: emitAll, emitOne: emitOne}
	e.events = fdata.NewEngine(e.tree, e.port, e.missing, sink, mapper, fdata.Config{
		PairWindow:   cfg.PairWindow,
		PumpInterval: cfg.PumpInterval,
		SettleBase:   cfg.SettleBase,
		SettleMin:    cfg.SettleMin,
		SettleMax:    cfg.SettleMax,
	})

	// Every background timer — port pump, event pump, settle scan,
	// missing-list scan, idle sweep — ends up mutating shared state
	// reachable from Add/Remove/Dump, so every one of them must take the
	// same single lock before running (spec §5). locked wraps the real
	// clock once here; Add/Remove/Dump take the same e.mu themselves.
	locked := func(d time.Duration, f func()) *time.Timer {
		return time.AfterFunc(d, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.closed {
				return
			}
			f()
		})
	}
	e.port.SetAfterFunc(locked)
	e.events.SetAfterFunc(locked)
	e.missing.SetAfterFunc(locked)

	e.armIdleSweep()
	return e
}

// onPortEvent is the Port Layer's EventSink: it resolves the subscriber
// key (always a *fdata.FData, per how Associate is always called here)
// back to its FData and forwards into the event engine.
func (e *Engine) onPortEvent(subscriber interface{}, kind kernel.EventKind, twin bool) {
	f, ok := subscriber.(*fdata.FData)
	if !ok {
		return
	}
	e.events.AddEvent(f, kind, twin)
}

func (e *Engine) armIdleSweep() {
	e.idleTimer = time.AfterFunc(e.cfg.DeferredSweepInterval, e.idleTick)
}

func (e *Engine) idleTick() {
	e.mu.Lock()
	closed := e.closed
	if !closed {
		e.events.IdleSweep()
	}
	e.mu.Unlock()
	if !closed {
		e.idleTimer = time.AfterFunc(e.cfg.DeferredSweepInterval, e.idleTick)
	}
}

func (e *Engine) subOptions(f *fdata.FData) map[interface{}]subOptions {
	m, ok := e.subOpts[f]
	if !ok {
		m = make(map[interface{}]subOptions)
		e.subOpts[f] = m
	}
	return m
}

// Add registers subscriber on path (spec §4.4). When isDirMonitor is
// set, the path is treated as a directory monitor: its existing
// children are enumerated (CREATED delivered only to subscriber) and
// future children are tracked automatically.
func (e *Engine) Add(path string, subscriber interface{}, isDirMonitor bool) error {
	return e.AddWithOptions(path, subscriber, isDirMonitor, false)
}

// AddWithOptions is Add, with the additional option to receive CHANGED
// events propagated up from children even when isDirMonitor is set
// (spec §6: "parent subscribers that monitor a directory receive only
// non-CHANGED events unless they opt in").
func (e *Engine) AddWithOptions(path string, subscriber interface{}, isDirMonitor, includeChildChanges bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	f := e.events.GetOrCreate(path)

	if err := e.events.Associate(f, true); err != nil {
		e.events.AddSubscriber(f, subscriber, isDirMonitor)
		e.subOptions(f)[subscriber] = subOptions{dirMonitor: isDirMonitor, includeChildChanges: includeChildChanges}
		e.events.AdjustDeleted(f)
		e.events.EmitOne(f, Deleted, subscriber)
		return nil
	}

	if isDirMonitor {
		e.events.ScanChildrenForInit(f, subscriber)
	}
	e.events.AddSubscriber(f, subscriber, isDirMonitor)
	e.subOptions(f)[subscriber] = subOptions{dirMonitor: isDirMonitor, includeChildChanges: includeChildChanges}
	return nil
}

// Remove unregisters subscriber from path (spec §4.4).
func (e *Engine) Remove(path string, subscriber interface{}, isDirMonitor bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	f, ok := e.events.Get(path)
	if !ok {
		return nil
	}
	e.events.RemoveSubscriber(f, subscriber, isDirMonitor)
	if opts, ok := e.subOpts[f]; ok {
		delete(opts, subscriber)
		if len(opts) == 0 {
			delete(e.subOpts, f)
		}
	}
	return nil
}

// Dump writes one diagnostic line per live FData in the tree to w (see
// SPEC_FULL.md §D; grounded on original_source/gio/fen/fen-dump.c).
func (e *Engine) Dump(w io.Writer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events.Dump(w)
}

// Close stops the Engine's idle sweep. It does not dissociate any
// remaining subscriptions; callers are expected to Remove their own
// subscriptions before calling Close.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	return nil
}
