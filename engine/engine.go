package engine

import (
	"container/heap"
	"container/list"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned by Run when its overall timeout expires before
// every client is done. Affected clients are unwound before Run returns.
var ErrTimedOut = errors.New("engine: run timed out")

// DefaultFanout bounds concurrently launched clients when SetFanout was
// never called.
const DefaultFanout = 64

// Engine is the single-threaded cooperative reactor. All methods must be
// called from the goroutine that calls Run, except Port.Send which is the
// documented cross-thread entry point.
type Engine struct {
	fanout  int
	running int

	registered map[Client]struct{}
	readers    map[int]Client
	writers    map[int]Client
	pending    *list.List

	timers timerHeap
	poller poller

	aborted bool
	evCount uint64
}

// New returns an Engine ready for Register/Start/Run.
func New() (*Engine, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		fanout:     DefaultFanout,
		registered: make(map[Client]struct{}),
		readers:    make(map[int]Client),
		writers:    make(map[int]Client),
		pending:    list.New(),
		poller:     p,
	}, nil
}

// SetFanout resizes the sliding window of concurrently launched clients.
// Shrinking does not stop already launched clients.
func (e *Engine) SetFanout(n int) {
	if n < 1 {
		n = 1
	}
	e.fanout = n
}

// Fanout returns the current sliding-window size.
func (e *Engine) Fanout() int { return e.fanout }

// Running returns how many clients are currently launched.
func (e *Engine) Running() int { return e.running }

// Clients returns how many clients are registered, launched or not.
func (e *Engine) Clients() int { return len(e.registered) }

// Register attaches client without starting any I/O.
func (e *Engine) Register(c Client) {
	e.registered[c] = struct{}{}
}

// Start requests that client become active. If a fanout slot is free the
// client is launched now, otherwise it waits its turn on the pending FIFO.
func (e *Engine) Start(c Client) error {
	if _, ok := e.registered[c]; !ok {
		e.Register(c)
	}
	if !isDaemon(c) && e.running >= e.fanout {
		e.pending.PushBack(c)
		return nil
	}
	return e.launch(c)
}

// isDaemon reports whether c is bookkeeping-only: it neither consumes a
// fanout slot nor keeps Run alive. Ports are the one daemon client.
func isDaemon(c Client) bool {
	d, ok := c.(interface{ Daemon() bool })
	return ok && d.Daemon()
}

func (e *Engine) launch(c Client) error {
	if !isDaemon(c) {
		e.running++
	}
	if err := c.Launch(); err != nil {
		if !isDaemon(c) {
			e.running--
		}
		delete(e.registered, c)
		return err
	}
	e.watch(c)
	return nil
}

// watch registers the client's currently declared fds with the poller.
func (e *Engine) watch(c Client) {
	for _, fd := range c.ReadFds() {
		if _, ok := e.readers[fd]; !ok {
			e.readers[fd] = c
			e.poller.register(fd, false)
		}
	}
	for _, fd := range c.WriteFds() {
		if _, ok := e.writers[fd]; !ok {
			e.writers[fd] = c
			e.poller.register(fd, true)
		}
	}
}

func fdListed(fds []int, fd int) bool {
	for _, f := range fds {
		if f == fd {
			return true
		}
	}
	return false
}

// Update re-syncs a launched client's declared fd interest with the
// poller. Clients call it when their write interest appears (first
// buffered bytes) and the engine calls it after every dispatch, when
// interest commonly disappears (buffer drained, stream closed).
func (e *Engine) Update(c Client) {
	if _, ok := e.registered[c]; !ok {
		return
	}
	e.unwatch(c)
	e.watch(c)
}

// unwatch drops any fds whose interest the client no longer declares.
func (e *Engine) unwatch(c Client) {
	for fd, owner := range e.readers {
		if owner == c && !fdListed(c.ReadFds(), fd) {
			delete(e.readers, fd)
			e.poller.unregister(fd, false)
		}
	}
	for fd, owner := range e.writers {
		if owner == c && !fdListed(c.WriteFds(), fd) {
			delete(e.writers, fd)
			e.poller.unregister(fd, true)
		}
	}
}

// Remove detaches client and frees its fanout slot; one pending client is
// launched in its place.
func (e *Engine) Remove(c Client) {
	if _, ok := e.registered[c]; !ok {
		return
	}
	delete(e.registered, c)
	for fd, owner := range e.readers {
		if owner == c {
			delete(e.readers, fd)
			e.poller.unregister(fd, false)
		}
	}
	for fd, owner := range e.writers {
		if owner == c {
			delete(e.writers, fd)
			e.poller.unregister(fd, true)
		}
	}
	if !isDaemon(c) && e.running > 0 {
		e.running--
	}
	e.promote()
}

// workLeft counts registered non-daemon clients.
func (e *Engine) workLeft() int {
	n := 0
	for c := range e.registered {
		if !isDaemon(c) {
			n++
		}
	}
	return n
}

func (e *Engine) promote() {
	for e.running < e.fanout && e.pending.Len() > 0 {
		front := e.pending.Front()
		e.pending.Remove(front)
		c := front.Value.(Client)
		if _, ok := e.registered[c]; !ok {
			continue
		}
		// a deferred launch has no caller to hand the error to; Abort
		// lets the owning worker close the destination.
		if err := e.launch(c); err != nil {
			c.Abort()
		}
	}
}

// Abort marks the engine for shutdown; the current or next Run iteration
// unwinds every client and returns.
func (e *Engine) Abort() { e.aborted = true }

// nextWake merges the timer heap with per-client connect and command
// deadlines.
func (e *Engine) nextWake() (time.Time, bool) {
	deadline, ok := e.nextDeadline()
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if !ok || t.Before(deadline) {
			deadline, ok = t, true
		}
	}
	for c := range e.registered {
		consider(c.ConnectDeadline())
		consider(c.CommandDeadline())
	}
	return deadline, ok
}

// expireClients times out every launched client whose connect or command
// deadline has passed.
func (e *Engine) expireClients(now time.Time) {
	var expired []Client
	for c := range e.registered {
		if d := c.ConnectDeadline(); !d.IsZero() && !d.After(now) {
			expired = append(expired, c)
			continue
		}
		if d := c.CommandDeadline(); !d.IsZero() && !d.After(now) {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		c.TimeoutExpired()
	}
}

// reap removes clients that report Done, freeing their fanout slots.
func (e *Engine) reap() {
	var done []Client
	for c := range e.registered {
		if c.Done() {
			done = append(done, c)
		}
	}
	for _, c := range done {
		e.Remove(c)
	}
}

// Run drives the reactor until every registered client is done and no
// timer remains, or until timeout (> 0) expires, in which case every
// client is unwound and ErrTimedOut is returned.
func (e *Engine) Run(timeout time.Duration) error {
	var overall time.Time
	if timeout > 0 {
		overall = time.Now().Add(timeout)
	}
	for {
		if e.aborted {
			e.unwind()
			e.aborted = false
			return nil
		}
		e.reap()
		e.promote()
		if e.workLeft() == 0 && e.liveTimers() == 0 {
			return nil
		}

		now := time.Now()
		wake, hasWake := e.nextWake()
		if !overall.IsZero() && (!hasWake || overall.Before(wake)) {
			wake, hasWake = overall, true
		}
		wait := time.Duration(-1)
		if hasWake {
			wait = wake.Sub(now)
			if wait < 0 {
				wait = 0
			}
		}

		ready, err := e.poller.wait(wait)
		if err != nil {
			e.unwind()
			return fmt.Errorf("engine: wait: %w", err)
		}

		now = time.Now()
		if !overall.IsZero() && !overall.After(now) {
			e.unwind()
			return ErrTimedOut
		}
		e.fireExpiredTimers(now)
		e.expireClients(now)

		for _, ev := range ready {
			if ev.write {
				c, ok := e.writers[ev.fd]
				if !ok {
					continue
				}
				e.evCount++
				if err := c.HandleWritable(ev.fd); err != nil {
					c.Abort()
				}
				e.Update(c)
			} else {
				c, ok := e.readers[ev.fd]
				if !ok {
					continue
				}
				e.evCount++
				if err := c.HandleReadable(ev.fd); err != nil {
					c.Abort()
				}
				e.Update(c)
			}
		}
	}
}

// unwind aborts and removes every client, launched or pending.
func (e *Engine) unwind() {
	e.pending.Init()
	for c := range e.registered {
		c.Abort()
	}
	for c := range e.registered {
		e.Remove(c)
	}
	for e.timers.Len() > 0 {
		heap.Pop(&e.timers)
	}
}

// Close releases the poller. The engine is unusable afterwards.
func (e *Engine) Close() {
	e.poller.close()
}
