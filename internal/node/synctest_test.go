//go:build go1.25

package node

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestSweepRemovesExpiredEntries exercises the pending-remove cool-off
// (internal/node.Tree.pending) under synctest's fake clock instead of a
// real time.Sleep — PendingRemove and Sweep compare due times against
// time.Now(), which synctest fakes inside the bubble exactly like its
// own timers, so the cool-off elapses without actually costing
// wall-clock time.
func TestSweepRemovesExpiredEntries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tree := NewTree("/", 10*time.Millisecond)
		n := tree.FindOrCreate("/a/b", nil)
		tree.PendingRemove(n, nil)

		time.Sleep(30 * time.Millisecond)
		tree.Sweep()

		_, exact := tree.Find("/a/b")
		assert.False(t, exact)
	})
}
