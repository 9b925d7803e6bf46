//go:build solaris

package kernel

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// fenSource creates real Solaris event ports. It is a direct
// generalization of backend_fen.go's Watcher, which embedded exactly one
// *unix.EventPort; here the Port Layer (internal/portpool) owns a pool of
// them.
type fenSource struct{}

// NewFENSource returns the production Source backed by Solaris event
// ports (unix.EventPort), as used by backend_fen.go.
func NewFENSource() Source { return fenSource{} }

func (fenSource) MaxAssociations() int {
	// Matches spec §5's documented default; Solaris doesn't expose a
	// queryable ceiling through unix.EventPort, so the default here is
	// the same constant backend_fen.go's callers would hit in practice.
	return 512
}

func (fenSource) NewPort() (Port, error) {
	p, err := unix.NewEventPort()
	if err != nil {
		return nil, fmt.Errorf("kernel: NewEventPort: %w", err)
	}
	return &fenPort{port: p}, nil
}

type fenPort struct {
	mu      sync.Mutex
	port    *unix.EventPort
	n       int
	byToken map[interface{}]string
}

func (p *fenPort) Associate(obj *FileObject, mask EventKind, cookie interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.byToken == nil {
		p.byToken = make(map[interface{}]string)
	}
	fi, err := os.Stat(obj.Name)
	if err != nil {
		return err
	}
	already := p.port.PathIsWatched(obj.Name)
	if already {
		if err := p.port.DissociatePath(obj.Name); err != nil && err != unix.ENOENT {
			return err
		}
	}
	if err := p.port.AssociatePath(obj.Name, fi, toUnixMask(mask), cookie); err != nil {
		return fmt.Errorf("kernel: AssociatePath(%s): %w", obj.Name, err)
	}
	p.byToken[cookie] = obj.Name
	if !already {
		p.n++
	}
	return nil
}

func (p *fenPort) Dissociate(cookie interface{}) error {
	p.mu.Lock()
	name, ok := p.byToken[cookie]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.dissociatePath(name)
}

func (p *fenPort) dissociatePath(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.port.PathIsWatched(name) {
		return nil
	}
	if err := p.port.DissociatePath(name); err != nil {
		return err
	}
	p.n--
	for c, n := range p.byToken {
		if n == name {
			delete(p.byToken, c)
		}
	}
	return nil
}

func (p *fenPort) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *fenPort) Poll(max int, timeout time.Duration) ([]Event, error) {
	raw := make([]unix.PortEvent, max)
	var to *unix.Timespec
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		to = &ts
	} else {
		ts := unix.NsecToTimespec(0)
		to = &ts
	}
	n, err := p.port.Get(raw, 1, to)
	if err != nil && err != unix.ETIME {
		return nil, err
	}
	out := make([]Event, 0, n)
	for _, ev := range raw[:n] {
		if ev.Source != unix.PORT_SOURCE_FILE {
			continue
		}
		out = append(out, Event{
			Cookie:    ev.Cookie,
			Kind:      fromUnixMask(ev.Events),
			Exception: ev.Events&unix.FILE_EXCEPTION == unix.FILE_EXCEPTION,
		})
	}
	return out, nil
}

func (p *fenPort) Close() error { return p.port.Close() }

func toUnixMask(m EventKind) int32 {
	var out int32
	if m.Has(Modified) {
		out |= unix.FILE_MODIFIED
	}
	if m.Has(Attrib) {
		out |= unix.FILE_ATTRIB
	}
	out |= unix.FILE_NOFOLLOW
	return out
}

func fromUnixMask(events int32) EventKind {
	var out EventKind
	if events&unix.FILE_MODIFIED == unix.FILE_MODIFIED {
		out |= Modified
	}
	if events&unix.FILE_ATTRIB == unix.FILE_ATTRIB {
		out |= Attrib
	}
	if events&unix.FILE_DELETE == unix.FILE_DELETE {
		out |= Delete
	}
	if events&unix.FILE_RENAME_FROM == unix.FILE_RENAME_FROM {
		out |= RenameFrom
	}
	if events&unix.FILE_RENAME_TO == unix.FILE_RENAME_TO {
		out |= RenameTo
	}
	if events&unix.UNMOUNTED == unix.UNMOUNTED {
		out |= Unmounted
	}
	if events&unix.MOUNTEDOVER == unix.MOUNTEDOVER {
		out |= MountedOver
	}
	if events&unix.FILE_ACCESS == unix.FILE_ACCESS {
		out |= Access
	}
	return out
}
