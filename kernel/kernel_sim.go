package kernel

import (
	"sync"
	"time"
)

// SimSource is an in-memory stand-in for the real kernel primitive,
// matching the §6 contract (single-shot re-arm, cookie-addressed
// dissociation, exception bit) without any OS dependency. It is the
// Source used in this module's tests and on any non-Solaris dev host;
// spec.md §1 explicitly treats the kernel primitive as an assumed
// external collaborator, so a faithful fake is the right substitute
// here rather than a syscall shim.
//
// Unlike the real primitive, SimPort never delivers events on its own:
// tests call Inject to enqueue a raw event for a cookie, simulating what
// the OS would have delivered. This keeps tests deterministic and lets
// them be driven under testing/synctest.
type SimSource struct {
	max int
}

// NewSimSource returns a simulated Source. max mirrors max_port_events
// (spec §5); 0 means use the spec's documented default (512).
func NewSimSource(max int) *SimSource {
	if max <= 0 {
		max = 512
	}
	return &SimSource{max: max}
}

func (s *SimSource) MaxAssociations() int { return s.max }

func (s *SimSource) NewPort() (Port, error) {
	return &SimPort{assoc: make(map[interface{}]*FileObject)}, nil
}

// SimPort is the Port half of SimSource.
type SimPort struct {
	mu      sync.Mutex
	assoc   map[interface{}]*FileObject
	pending []Event
	closed  bool
}

func (p *SimPort) Associate(obj *FileObject, mask EventKind, cookie interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClosedPort
	}
	cp := *obj
	p.assoc[cookie] = &cp
	return nil
}

func (p *SimPort) Dissociate(cookie interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.assoc, cookie)
	return nil
}

func (p *SimPort) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.assoc)
}

func (p *SimPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Inject simulates the kernel delivering an event for cookie: this
// consumes the association (single-shot semantics, spec §6) exactly as
// the real primitive would, and queues the event for the next Poll.
func (p *SimPort) Inject(cookie interface{}, kind EventKind, exception bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.assoc, cookie) // single-shot: consumed on delivery
	p.pending = append(p.pending, Event{Cookie: cookie, Kind: kind, Exception: exception})
}

// IsAssociated reports whether cookie currently holds a live
// association (i.e. hasn't been consumed by a delivered event or
// explicitly dissociated). Test-only helper.
func (p *SimPort) IsAssociated(cookie interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.assoc[cookie]
	return ok
}

func (p *SimPort) Poll(max int, timeout time.Duration) ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if max <= 0 || max > len(p.pending) {
		max = len(p.pending)
	}
	out := append([]Event(nil), p.pending[:max]...)
	p.pending = p.pending[max:]
	return out, nil
}

var errClosedPort = simError("kernel: port closed")

type simError string

func (e simError) Error() string { return string(e) }
