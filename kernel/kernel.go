// Package kernel defines the contract of the kernel event-notification
// primitive that the FEN core is built on top of (spec §6): a per-file,
// single-shot association that is consumed the moment an event is
// delivered for it, and a port that multiplexes many such associations.
//
// The primitive itself is assumed to exist; this package only describes
// its shape, generalizing github.com/fsnotify/fsnotify's Solaris backend
// (backend_fen.go, fen.go) so that the engine can be driven by either the
// real OS primitive (kernel_fen.go, solaris-only) or an in-memory
// simulation (kernel_sim.go) used in tests and on non-Solaris hosts.
package kernel

import "time"

// EventKind is a bitmask of raw event kinds, named after the FILE_* and
// port event constants in golang.org/x/sys/unix (themselves named after
// Solaris's sys/port.h).
type EventKind uint32

const (
	Access      EventKind = 1 << iota // FILE_ACCESS — refused by the core, never normalized
	Modified                          // FILE_MODIFIED
	Attrib                            // FILE_ATTRIB
	Delete                            // FILE_DELETE
	RenameFrom                        // FILE_RENAME_FROM — normalized to Delete
	RenameTo                          // FILE_RENAME_TO — normalized to Modified
	Unmounted                         // UNMOUNTED
	MountedOver                       // MOUNTEDOVER

	// Created is synthetic: it is never reported by Poll. It is produced
	// internally (missing-list reappearance, directory child scan) and
	// carries the FN_EVENT_CREATED meaning from fen-data.h.
	Created
)

// Has reports whether mask contains every bit in want.
func (m EventKind) Has(want EventKind) bool { return m&want == want }

// String renders the set bits, for debug tracing.
func (m EventKind) String() string {
	names := []struct {
		bit  EventKind
		name string
	}{
		{Access, "ACCESS"}, {Modified, "MODIFIED"}, {Attrib, "ATTRIB"},
		{Delete, "DELETE"}, {RenameFrom, "RENAME_FROM"}, {RenameTo, "RENAME_TO"},
		{Unmounted, "UNMOUNTED"}, {MountedOver, "MOUNTEDOVER"}, {Created, "CREATED"},
	}
	out := ""
	for _, n := range names {
		if m.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// FileObject is the handle installed into the kernel primitive. It
// carries the name and the stat timestamps the primitive uses to detect
// that the file underneath a path changed identity (fen-kernel.h's
// file_obj_t / fsnotify's C.file_obj_t).
type FileObject struct {
	Name  string
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Event is a single notification returned by Poll.
type Event struct {
	// Cookie is whatever opaque value was passed to Associate; the core
	// uses it to recover the subscriber identity the event belongs to.
	Cookie interface{}
	Kind   EventKind
	// Exception reports FILE_EXCEPTION: the association is gone and the
	// record should be torn down without further interpretation.
	Exception bool
}

// Port is one kernel event port: a bounded set of single-shot file
// associations plus a way to drain delivered events.
type Port interface {
	// Associate arms (or re-arms) a single-shot notification for obj.
	// After any event fires for cookie, the association is consumed and
	// must be re-associated to keep watching the path.
	Associate(obj *FileObject, mask EventKind, cookie interface{}) error
	// Dissociate best-effort cancels the association for cookie.
	// Already-buffered events may still be delivered afterward.
	Dissociate(cookie interface{}) error
	// Poll returns up to max already-available events without blocking
	// longer than timeout (timeout==0 means return immediately).
	Poll(max int, timeout time.Duration) ([]Event, error)
	// Count reports the number of live associations on this port.
	Count() int
	Close() error
}

// Source creates ports and reports the platform's per-port association
// ceiling (spec §5: max_port_events, default 512).
type Source interface {
	NewPort() (Port, error)
	MaxAssociations() int
}
