package fencore

import "github.com/lma-fen/fencore/internal/fdata"

// EmitAllFunc delivers kind, for the file at path, to subscriber. It is
// called once per subscriber reached by an EmitAll fan-out (the
// subscribers of the event's own FData, plus — with the directory-
// monitor CHANGED-suppression rule applied — the subscribers of its
// parent). Called with the Engine's lock held; must not call back into
// the Engine synchronously.
type EmitAllFunc func(path string, kind Kind, subscriber interface{})

// EmitOneFunc delivers kind, for path, to exactly one subscriber — used
// for the initial-existence enumeration performed by Add and
// ScanChildrenForInit. Same reentrancy rule as EmitAllFunc.
type EmitOneFunc func(path string, kind Kind, subscriber interface{})

// coreSink implements fdata.Sink, translating FData-level emission into
// the external EmitAllFunc/EmitOneFunc callbacks and applying the
// parent-propagation and CHANGED-suppression rule from spec §6.
type coreSink struct {
	engine  *Engine
	emitAll EmitAllFunc
	emitOne EmitOneFunc
}

func (s *coreSink) EmitAll(f *fdata.FData, kind fdata.SemanticKind) {
	path := f.Path()
	for _, sub := range f.Subscribers() {
		s.emitAll(path, kind, sub)
	}

	parent := f.Node().Parent
	if parent == nil {
		return
	}
	pd, ok := parent.Data.(*fdata.FData)
	if !ok {
		return
	}
	opts := s.engine.subOptions(pd)
	for _, sub := range pd.Subscribers() {
		o := opts[sub]
		if o.dirMonitor && kind == fdata.Changed && !o.includeChildChanges {
			continue
		}
		s.emitAll(path, kind, sub)
	}
}

func (s *coreSink) EmitOne(f *fdata.FData, kind fdata.SemanticKind, subscriber interface{}) {
	s.emitOne(f.Path(), kind, subscriber)
}
