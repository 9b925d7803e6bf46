//go:build go1.25

package fencore

import (
	"os"
	"path/filepath"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lma-fen/fencore/kernel"
)

// settle waits long enough, in the bubble's fake time, for every
// currently-armed pump/settle/missing timer to have fired at least
// once — replacing the require.Eventually real-time polling loops this
// suite used before synctest.Test was adopted. Since every goroutine the
// engine spawns (via time.AfterFunc) lives inside the same bubble, the
// runtime fast-forwards straight through this sleep the instant nothing
// else can make progress, so there's no real wall-clock cost to padding
// it generously.
func settle() { time.Sleep(200 * time.Millisecond) }

func TestAddOnExistingFileThenModifiedDeliversChanged(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e, log := newTestEngine(t)
		dir := t.TempDir()
		path := filepath.Join(dir, "f")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		require.NoError(t, e.Add(path, "subA", false))
		assert.Zero(t, log.count(path, Deleted))

		injectRaw(t, e, path, kernel.Modified)

		settle()
		assert.GreaterOrEqual(t, log.count(path, Changed), 1)
	})
}

// Scenario 1 (spec §8): subscribe to a path before it exists, whose
// parent directory already does. Expect DELETED immediately, then
// CREATED once the file appears and the ancestor directory's settle
// tick notices it via ScanKnownChildren.
func TestAddOnNonexistentPathThenCreatedWhenFileAppears(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e, log := newTestEngine(t)
		dir := t.TempDir()
		path := filepath.Join(dir, "future.txt")

		require.NoError(t, e.Add(path, "subA", false))
		assert.Equal(t, 1, log.count(path, Deleted))

		require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

		// AdjustDeleted associates the ancestor directory synchronously
		// as part of Add above; confirm that before nudging its settle
		// timer by delivering a raw event for it, since the simulated
		// port never generates one on its own the way a real filesystem
		// mtime-change would.
		e.mu.Lock()
		_, ok := e.events.Get(dir)
		e.mu.Unlock()
		require.True(t, ok, "parent directory should have been associated as part of AdjustDeleted")
		injectRaw(t, e, dir, kernel.Modified)

		settle()
		assert.Equal(t, 1, log.count(path, Created))
	})
}

// Scenario 3 (spec §8): ATTRIB immediately followed by MODIFIED for the
// same path collapses, in the event engine's AddEvent pair-merging (the
// port layer's global queue is drained between the two injections), into
// a single twin MODIFIED — which the event engine then emits as
// ATTRIBUTE_CHANGED followed by CHANGED, in that order.
func TestAttribThenModifiedEmitsBothInOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e, log := newTestEngine(t)
		dir := t.TempDir()
		path := filepath.Join(dir, "f")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		require.NoError(t, e.Add(path, "subA", false))

		e.mu.Lock()
		f, ok := e.events.Get(path)
		require.True(t, ok)
		ports := e.port.Ports()
		require.NotEmpty(t, ports)
		sp := ports[0].(*kernel.SimPort)
		sp.Inject(f, kernel.Attrib, false)
		e.port.Pump()
		require.NoError(t, e.events.Associate(f, false))
		sp.Inject(f, kernel.Modified, false)
		e.port.Pump()
		e.mu.Unlock()

		settle()
		require.Equal(t, 1, log.count(path, AttributeChanged))
		require.Equal(t, 1, log.count(path, Changed))

		events := log.snapshot()
		var order []Kind
		for _, ev := range events {
			if ev.path == path {
				order = append(order, ev.kind)
			}
		}
		require.Len(t, order, 2)
		assert.Equal(t, AttributeChanged, order[0])
		assert.Equal(t, Changed, order[1])
	})
}

// Scenario 4 (spec §8): a directory monitor discovers a new child.
func TestDirectoryMonitorDiscoversNewChild(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e, log := newTestEngine(t)
		dir := t.TempDir()

		require.NoError(t, e.Add(dir, "subA", true))
		assert.Zero(t, log.count(dir, Created), "the directory itself is not reported as created")

		childPath := filepath.Join(dir, "a")
		require.NoError(t, os.WriteFile(childPath, []byte("x"), 0o644))

		injectRaw(t, e, dir, kernel.Modified)

		settle()
		assert.Equal(t, 1, log.count(childPath, Created))
		assert.Zero(t, log.count(dir, Created))
	})
}

// Scenario 5 (spec §8): a DELETE arriving before the pump has drained a
// previously queued MODIFIED is handled synchronously, and the queued
// MODIFIED is discarded rather than emitted.
func TestDeletePreemptsQueuedModified(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e, log := newTestEngine(t)
		dir := t.TempDir()
		path := filepath.Join(dir, "f")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		require.NoError(t, e.Add(path, "subA", false))

		e.mu.Lock()
		f, ok := e.events.Get(path)
		require.True(t, ok)
		ports := e.port.Ports()
		require.NotEmpty(t, ports)
		sp := ports[0].(*kernel.SimPort)
		sp.Inject(f, kernel.Modified, false)
		sp.Inject(f, kernel.Delete, false)
		e.port.Pump()
		e.mu.Unlock()

		// AddEvent's DELETE branch runs synchronously inside Pump above,
		// clearing the queued MODIFIED before its own pump timer ever
		// fires — no wait needed for this half of the assertion.
		require.Equal(t, 1, log.count(path, Deleted))

		// Let the stray pump timer armed for the now-discarded MODIFIED
		// run to completion, and confirm it never emits anything.
		settle()
		assert.Zero(t, log.count(path, Changed), "the preempted MODIFIED must never be emitted")
	})
}
