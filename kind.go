package fencore

import (
	"github.com/lma-fen/fencore/internal/fdata"
	"github.com/lma-fen/fencore/kernel"
)

// Kind is one of the high-level event kinds delivered to subscribers.
type Kind = fdata.SemanticKind

const (
	Created          = fdata.Created
	Deleted          = fdata.Deleted
	Changed          = fdata.Changed
	AttributeChanged = fdata.AttributeChanged
	Unmounted        = fdata.SemUnmounted
)

// Mapper converts a raw (post-normalization) kernel event kind into the
// Kind delivered to subscribers (spec §6). The synthetic CREATED kind
// never passes through a Mapper — it is produced directly by the
// Missing List and directory child scans.
type Mapper = fdata.Mapper

// MapNotify is Mapping A (§6): UNMOUNTED and ATTRIB keep distinct
// semantic kinds of their own.
func MapNotify(raw kernel.EventKind) Kind {
	switch {
	case raw.Has(kernel.Delete):
		return Deleted
	case raw.Has(kernel.Unmounted):
		return Unmounted
	case raw.Has(kernel.Attrib):
		return AttributeChanged
	default:
		return Changed
	}
}

// MapGIO is Mapping B (§6): every raw kind besides DELETE collapses to
// CHANGED.
func MapGIO(raw kernel.EventKind) Kind {
	if raw.Has(kernel.Delete) {
		return Deleted
	}
	return Changed
}
