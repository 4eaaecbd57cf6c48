package engine

import (
	"os"
	"time"
)

// Port is the only cross-thread entry point into a running Engine: a
// buffered message queue whose delivery callback runs on the reactor
// goroutine. Send may be called from any goroutine; everything else is
// reactor-side.
type Port struct {
	r, w    *os.File
	msgs    chan interface{}
	handler func(interface{})
	closed  bool
}

// NewPort registers a port on e with the given delivery handler and
// queue capacity.
func NewPort(e *Engine, capacity int, handler func(interface{})) (*Port, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if capacity < 1 {
		capacity = 1
	}
	p := &Port{r: r, w: w, msgs: make(chan interface{}, capacity), handler: handler}
	e.Register(p)
	if err := e.Start(p); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	return p, nil
}

// Send enqueues msg for delivery on the reactor goroutine. It blocks when
// the queue is full and reports false once the port is closed.
func (p *Port) Send(msg interface{}) bool {
	defer func() { recover() }()
	p.msgs <- msg
	if _, err := p.w.Write([]byte{0}); err != nil {
		return false
	}
	return true
}

// Launch is a no-op; a port has no child process.
func (p *Port) Launch() error { return nil }

// Daemon marks the port as bookkeeping-only for the engine: no fanout
// slot, and an engine whose remaining clients are all ports returns from
// Run.
func (p *Port) Daemon() bool { return true }

func (p *Port) ReadFds() []int {
	if p.closed {
		return nil
	}
	return []int{int(p.r.Fd())}
}

func (p *Port) WriteFds() []int { return nil }

func (p *Port) HandleReadable(fd int) error {
	buf := make([]byte, 1)
	if _, err := p.r.Read(buf); err != nil {
		return err
	}
	select {
	case msg := <-p.msgs:
		p.handler(msg)
	default:
	}
	return nil
}

func (p *Port) HandleWritable(fd int) error { return nil }

// Done reports true only after Close: a port stays registered for the
// life of its engine. Engines with only ports left still return from
// Run, since ports do not count as launched work.
func (p *Port) Done() bool { return p.closed }

func (p *Port) ConnectDeadline() time.Time { return time.Time{} }
func (p *Port) CommandDeadline() time.Time { return time.Time{} }
func (p *Port) TimeoutExpired()            {}

// Abort closes the port; pending messages are dropped.
func (p *Port) Abort() { p.Close() }

// Close shuts the port down from the reactor goroutine.
func (p *Port) Close() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.msgs)
	p.r.Close()
	p.w.Close()
}
