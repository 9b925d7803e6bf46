package fencore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lma-fen/fencore/kernel"
)

// recordedEvent is one delivery captured by a test's emitAll/emitOne
// callback.
type recordedEvent struct {
	path string
	kind Kind
	sub  interface{}
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) record(path string, kind Kind, sub interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{path, kind, sub})
}

func (l *eventLog) snapshot() []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedEvent(nil), l.events...)
}

func (l *eventLog) count(path string, kind Kind) int {
	n := 0
	for _, e := range l.snapshot() {
		if e.path == path && e.kind == kind {
			n++
		}
	}
	return n
}

// fastConfig shrinks every timing constant to at most 20 milliseconds.
// Timer-driven tests run these inside a synctest bubble (see
// synctest_test.go), where the values only ever advance a fake clock, so
// shrinking them is about readable test code, not wall-clock budget.
func fastConfig() Config {
	return Config{
		PairWindow:            time.Millisecond,
		PumpInterval:          2 * time.Millisecond,
		SettleBase:            2 * time.Millisecond,
		SettleMin:             8 * time.Millisecond,
		SettleMax:             8 * time.Millisecond,
		PortPumpInterval:      3 * time.Millisecond,
		MissingScanInterval:   15 * time.Millisecond,
		NodeCoolOff:           20 * time.Millisecond,
		DeferredSweepInterval: 5 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T) (*Engine, *eventLog) {
	t.Helper()
	log := &eventLog{}
	src := kernel.NewSimSource(512)
	e := New(src, string(os.PathSeparator), fastConfig(),
		func(path string, kind Kind, sub interface{}) { log.record(path, kind, sub) },
		func(path string, kind Kind, sub interface{}) { log.record(path, kind, sub) },
		MapNotify)
	t.Cleanup(func() { e.Close() })
	return e, log
}

// injectRaw delivers one raw kernel event for path's FData through the
// simulated port and forces a synchronous port-pump pass, as a stand-in
// for the real kernel waking the port pump timer. Must be called with no
// other goroutine touching e concurrently — it takes e.mu itself.
func injectRaw(t *testing.T, e *Engine, path string, kind kernel.EventKind) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.events.Get(path)
	require.True(t, ok, "no FData associated for %s", path)
	ports := e.port.Ports()
	require.NotEmpty(t, ports, "expected at least one live port")
	sp, ok := ports[0].(*kernel.SimPort)
	require.True(t, ok)
	sp.Inject(f, kind, false)
	e.port.Pump()
}

// Scenario 6 (spec §8), as the cascading half of AdjustDeleted actually
// resolves it when a grandparent is still real: remove the direct
// parent of a subscribed path. AdjustDeleted walks up past the now-gone
// parent to the next existing ancestor (here, the temp-dir root itself)
// and re-associates it rather than registering on the Missing List — the
// Missing List is reserved for the case where no existing ancestor
// remains at all (covered directly in internal/missing's own tests).
// Every step here — the port pump, AddEvent's synchronous DELETE
// handling, and AdjustDeleted's recursive Associate — runs on the
// calling goroutine with no timer involved, so the result is asserted
// directly with no wait of any kind.
func TestParentDisappearsDeletedDeliveredAndGrandparentPicksUpMonitoring(t *testing.T) {
	e, log := newTestEngine(t)
	base := t.TempDir()
	parent := filepath.Join(base, "b")
	child := filepath.Join(parent, "c")
	require.NoError(t, os.MkdirAll(parent, 0o755))
	require.NoError(t, os.WriteFile(child, []byte("x"), 0o644))

	require.NoError(t, e.Add(child, "subA", false))
	assert.Zero(t, log.count(child, Deleted))

	require.NoError(t, os.RemoveAll(parent))
	injectRaw(t, e, child, kernel.Delete)

	assert.Equal(t, 1, log.count(child, Deleted))

	e.mu.Lock()
	missingLen := e.missing.Len()
	baseFD, ok := e.events.Get(base)
	baseAssociated := ok && e.port.IsAssociated(baseFD)
	e.mu.Unlock()
	assert.Zero(t, missingLen, "an existing grandparent should absorb the watch, not the Missing List")
	assert.True(t, baseAssociated, "the temp-dir root should now hold the association AdjustDeleted cascaded up to")
}

func TestRemoveThenCloseIsIdempotentAndRejectsFurtherAdds(t *testing.T) {
	e, _ := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, e.Add(path, "subA", false))
	require.NoError(t, e.Remove(path, "subA", false))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "Close must be idempotent")

	err := e.Add(path, "subB", false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDumpWritesOneLinePerLiveFData(t *testing.T) {
	e, _ := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	require.NoError(t, e.Add(path, "subA", false))

	var buf fakeWriter
	e.Dump(&buf)
	assert.Contains(t, buf.String(), path)
}

type fakeWriter struct{ data []byte }

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *fakeWriter) String() string { return string(w.data) }
