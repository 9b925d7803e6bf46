package missing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	path       string
	associates bool
	created    int
}

func (e *fakeEntry) Path() string { return e.path }

func (e *fakeEntry) TryAssociate() (bool, error) { return e.associates, nil }

func (e *fakeEntry) EmitCreated() { e.created++ }

func TestAddArmsTimerOnlyOnFirstEntry(t *testing.T) {
	l := New(time.Hour)
	var calls int
	var mu sync.Mutex
	l.afterFn = func(d time.Duration, f func()) *time.Timer {
		mu.Lock()
		calls++
		mu.Unlock()
		return time.AfterFunc(time.Hour, f) // never actually fires in this test
	}

	l.Add(&fakeEntry{path: "/a"})
	l.Add(&fakeEntry{path: "/b"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "the scan timer should be armed once, not per entry")
}

func TestTickResolvesSuccessfulAssociations(t *testing.T) {
	l := New(time.Hour)
	e := &fakeEntry{path: "/a", associates: true}
	l.Add(e)
	require.Equal(t, 1, l.Len())

	l.Tick()

	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 1, e.created)
}

func TestTickLeavesUnresolvedEntries(t *testing.T) {
	l := New(time.Hour)
	e := &fakeEntry{path: "/a", associates: false}
	l.Add(e)

	l.Tick()

	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 0, e.created)
}

func TestRemoveDropsAnEntryDirectly(t *testing.T) {
	l := New(time.Hour)
	l.Add(&fakeEntry{path: "/a"})
	l.Remove("/a")
	assert.Equal(t, 0, l.Len())
}
