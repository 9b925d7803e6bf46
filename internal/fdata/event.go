package fdata

import (
	"time"

	"github.com/lma-fen/fencore/kernel"
)

// NodeEvent is a record queued on an FData (spec §3 "Node Event"). It
// carries the raw kind, a twin flag (a synthetic ATTRIBUTE_CHANGED
// companion must be emitted alongside it; AddEvent may still set it on
// the queued tail), a pending flag (the pump does not emit the event but
// still runs its post-emission handling — set by the settle tick when it
// re-enqueues a size-changed MODIFIED), and the timestamp used for pair
// merging.
type NodeEvent struct {
	Kind    kernel.EventKind
	Twin    bool
	Pending bool
	At      time.Time
}
