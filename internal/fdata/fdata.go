package fdata

import (
	"time"

	"github.com/emirpasic/gods/lists/doublylinkedlist"

	"github.com/lma-fen/fencore/internal/node"
)

// FData is the per-path monitor state (spec §3). At most one exists per
// Node, hung off the node's Data slot.
type FData struct {
	node   *node.Node
	engine *Engine

	size  int64
	isDir bool

	cancelled       bool
	dirMonitorCount int
	subscribers     []interface{}

	// queue holds *NodeEvent in enqueue order. A doublylinkedlist, not a
	// plain FIFO queue, because AddEvent must inspect and rewrite the
	// *tail* for pair-merging while the pump drains the *head*.
	queue *doublylinkedlist.List

	pumpTimer      *time.Timer
	settleTimer    *time.Timer
	deferredQueued bool

	consecutiveModified int
	settleClamped       bool // replaces the source's change_update_id sentinel trick (spec §9)
}

func newFData(n *node.Node, e *Engine) *FData {
	return &FData{node: n, engine: e, queue: doublylinkedlist.New()}
}

// Path returns the absolute path this FData monitors.
func (f *FData) Path() string { return f.node.Name }

// Node returns the owning tree node.
func (f *FData) Node() *node.Node { return f.node }

// Size returns the last known file size.
func (f *FData) Size() int64 { return f.size }

// IsDir reports whether the path was last observed to be a directory.
func (f *FData) IsDir() bool { return f.isDir }

// Passive reports whether there are no direct subscribers.
func (f *FData) Passive() bool { return len(f.subscribers) == 0 }

// MonitoredDirectory reports whether at least one subscriber watches
// this path as a directory.
func (f *FData) MonitoredDirectory() bool { return f.dirMonitorCount > 0 }

// Living reports whether this FData has not been cancelled.
func (f *FData) Living() bool { return !f.cancelled }

// Monitoring reports whether this FData is associated with the kernel
// primitive or has an active settle timer (spec §3's is_monitoring).
func (f *FData) Monitoring() bool {
	return f.engine.port.IsAssociated(f) || f.settleTimer != nil
}

// QueueLen reports the number of queued-but-unemitted events.
func (f *FData) QueueLen() int { return f.queue.Size() }

// Subscribers returns the current subscriber list. Callers must treat it
// as read-only; it aliases FData's internal slice.
func (f *FData) Subscribers() []interface{} { return f.subscribers }

func (f *FData) addSubscriber(s interface{}) {
	for _, existing := range f.subscribers {
		if existing == s {
			panic("fdata: duplicate subscriber add for " + f.Path())
		}
	}
	f.subscribers = append(f.subscribers, s)
}

func (f *FData) removeSubscriber(s interface{}) {
	for i, existing := range f.subscribers {
		if existing == s {
			f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
			return
		}
	}
	panic("fdata: remove of absent subscriber for " + f.Path())
}

// TryAssociate and EmitCreated satisfy internal/missing.Entry, letting
// an FData register itself on the Missing List from AdjustDeleted when
// its path has no parent node left to retry on.

// TryAssociate attempts to re-arm the kernel association for this path.
// ok is true once the path exists again and the association succeeds.
func (f *FData) TryAssociate() (ok bool, err error) {
	if aerr := f.engine.Associate(f, true); aerr != nil {
		return false, nil
	}
	return true, nil
}

// EmitCreated delivers a synthetic CREATED event after a successful
// Missing List retry.
func (f *FData) EmitCreated() {
	f.engine.sink.EmitAll(f, Created)
}
