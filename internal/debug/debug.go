// Package debug provides the engine's trace/dump sink, generalizing the
// teacher's per-backend Debug(name string, mask int32) helpers
// (internal/debug_solaris.go, internal/debug_kqueue.go,
// internal/debug_windows.go in github.com/fsnotify/fsnotify) into one
// that speaks the core's own raw event kinds, gated the same way: an
// environment variable checked once, a single fmt.Fprintf line per call.
package debug

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lma-fen/fencore/kernel"
)

// Enabled mirrors FSNOTIFY_DEBUG; set FENCORE_DEBUG=1 to trace.
var Enabled = os.Getenv("FENCORE_DEBUG") != ""

// Trace logs one raw-event line, decoded symbolically, the way
// internal/debug_solaris.go's Debug(name, mask) does.
func Trace(path string, kind kernel.EventKind) {
	if !Enabled {
		return
	}
	fmt.Fprintf(os.Stderr, "%s  %-28s → %q\n",
		time.Now().Format("15:04:05.0000"), kind.String(), path)
}

// DumpLine renders one FData's state for (*Engine).Dump, in the spirit
// of original_source/gio/fen/fen-dump.c's per-node debug line.
func DumpLine(w io.Writer, path string, size int64, queueDepth int, isDir, passive, cancelled bool) {
	flags := ""
	if isDir {
		flags += "d"
	}
	if passive {
		flags += "p"
	}
	if cancelled {
		flags += "c"
	}
	if flags == "" {
		flags = "-"
	}
	fmt.Fprintf(w, "%-50s %10s  q=%-3d [%s]\n", path, humanize.Bytes(uint64(size)), queueDepth, flags)
}
