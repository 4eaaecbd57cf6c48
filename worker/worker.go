package worker

import (
	"time"

	"github.com/clustrd/clustrd/engine"
)

// State is the worker lifecycle: Initialized until scheduled on a task,
// Scheduled until the engine starts it, Running until every destination
// has terminated, then Closed. TimedOut and Aborted are orthogonal flags
// reported alongside Closed.
type State int

const (
	Initialized State = iota
	Scheduled
	Running
	Closed
)

// Runtime is what a task provides to its scheduled workers: the engine
// to register clients on, the configuration surface, and the event sink
// that chains result aggregation in front of the user handler.
type Runtime interface {
	Engine() *engine.Engine
	Info(key string) (interface{}, bool)
	Events(user EventHandler) EventHandler
}

// Worker is one unit of user-requested work. Implementations spawn engine
// clients for their destinations (one per destination, or one per gateway
// for destinations relayed through a gateway) and emit the event contract
// through the handler installed at Schedule time.
type Worker interface {
	// Schedule binds the worker to a runtime and registers its clients
	// with the engine. Called once, from the task goroutine.
	Schedule(rt Runtime) error

	// Write enqueues bytes on every still-open destination's stdin.
	Write(p []byte)
	// SetWriteEOF closes the write side of every destination once its
	// queued bytes have drained.
	SetWriteEOF()

	// Abort terminates every destination, best-effort.
	Abort()

	State() State
	// TimedOut reports whether any destination was closed by a timeout.
	TimedOut() bool

	// Targets returns the destination keys in nodeset order, or the
	// single synthetic key for keyless workers.
	Targets() []string
	// Retcode returns the exit code recorded for one destination and
	// whether that destination has reported one.
	Retcode(node string) (int, bool)
}

// destClient is the per-destination engine client surface a worker
// drives: buffered stdin plus the engine contract.
type destClient interface {
	engine.Client
	enqueue(p []byte)
	writeEOF()
	markDone()
}

// base carries the bookkeeping shared by every worker variant.
type base struct {
	rt      Runtime
	handler EventHandler
	state   State

	connectTimeout time.Duration
	commandTimeout time.Duration

	open     int
	timedOut bool
	aborted  bool
	rcs      map[string]int
}

func (b *base) State() State   { return b.state }
func (b *base) TimedOut() bool { return b.timedOut }

// Aborted reports whether Abort was called on the worker.
func (b *base) Aborted() bool { return b.aborted }

// SetConnectTimeout bounds the wait for a destination's first byte or
// EOF. Zero means no bound.
func (b *base) SetConnectTimeout(d time.Duration) { b.connectTimeout = d }

// SetCommandTimeout bounds a destination's total run time. Zero means no
// bound.
func (b *base) SetCommandTimeout(d time.Duration) { b.commandTimeout = d }

func (b *base) Retcode(node string) (int, bool) {
	rc, ok := b.rcs[node]
	return rc, ok
}

// attach records runtime state at Schedule time. Timeouts left unset on
// the worker inherit the task-level defaults.
func (b *base) attach(rt Runtime, user EventHandler, ndest int) {
	b.rt = rt
	if b.connectTimeout == 0 {
		if v, ok := rt.Info("connect_timeout"); ok {
			if d, ok := v.(time.Duration); ok {
				b.connectTimeout = d
			}
		}
	}
	if b.commandTimeout == 0 {
		if v, ok := rt.Info("command_timeout"); ok {
			if d, ok := v.(time.Duration); ok {
				b.commandTimeout = d
			}
		}
	}
	b.handler = rt.Events(user)
	if b.handler == nil {
		b.handler = DefaultHandler{}
	}
	b.state = Scheduled
	b.open = ndest
	b.rcs = make(map[string]int, ndest)
}

// destHup records one destination's exit.
func (b *base) destHup(w Worker, node string, rc int) {
	b.rcs[node] = rc
	b.handler.HandleHup(w, node, rc)
}

// destClosed accounts one destination down; the worker-level Close event
// fires when the last one terminates.
func (b *base) destClosed(w Worker, timedOut bool) {
	if timedOut {
		b.timedOut = true
	}
	if b.open > 0 {
		b.open--
	}
	if b.open == 0 && b.state != Closed {
		b.state = Closed
		b.handler.HandleClose(w, b.timedOut)
	}
}
