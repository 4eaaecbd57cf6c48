package clustrd

import (
	"fmt"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/clustrd/clustrd/engine"
	"github.com/clustrd/clustrd/msgtree"
	"github.com/clustrd/clustrd/nodeset"
	"github.com/clustrd/clustrd/stat"
	"github.com/clustrd/clustrd/worker"
)

// Task is the user-facing façade: it owns one engine, schedules workers
// and timers on it, dispatches events to user handlers, and aggregates
// results. A Task belongs to the goroutine that drives Resume; only
// Wait, Join, Port sends, and the post-run result accessors are safe
// from other goroutines.
type Task struct {
	config Config
	eng    *engine.Engine

	scheduled []worker.Worker
	openWk    int

	stdoutTree *msgtree.MsgTree
	stderrTree *msgtree.MsgTree
	maxRC      int
	anyRC      bool
	timedOut   map[string]bool

	statsMu sync.Mutex
	stats   map[string]*stat.WorkerStat

	handlerPanic interface{}

	mu      sync.Mutex
	doneCh  chan struct{}
	running bool
	lastErr error

	debugf func(format string, v ...interface{})
}

// NewTask builds a task with the given configuration; nil means all
// defaults. The process soft fd limit is raised toward fd_max so large
// fanouts do not starve the pipe triples.
func NewTask(config Config) (*Task, error) {
	if config == nil {
		config = Config{}
	}
	eng, err := engine.New()
	if err != nil {
		return nil, err
	}
	eng.SetFanout(config.Fanout())
	t := &Task{
		config:     config,
		eng:        eng,
		stdoutTree: msgtree.New(),
		stderrTree: msgtree.New(),
		timedOut:   make(map[string]bool),
		stats:      make(map[string]*stat.WorkerStat),
		doneCh:     make(chan struct{}),
	}
	t.debugf = func(format string, v ...interface{}) {
		if !t.config.Debug() {
			return
		}
		if sink, ok := t.config[OptPrintDebug].(func(string, ...interface{})); ok {
			sink(format, v...)
			return
		}
		log.Printf(format, v...)
	}
	raiseFdLimit(t.config.FdMax())
	register(t)
	return t, nil
}

// raiseFdLimit lifts the soft RLIMIT_NOFILE toward max, best-effort.
func raiseFdLimit(max int) {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		return
	}
	want := uint64(max)
	if want <= lim.Cur {
		return
	}
	if want > lim.Max {
		want = lim.Max
	}
	lim.Cur = want
	syscall.Setrlimit(syscall.RLIMIT_NOFILE, &lim)
}

// Engine exposes the reactor for worker scheduling.
func (t *Task) Engine() *engine.Engine { return t.eng }

// Info looks an option up on the task config. The timeout keys resolve
// through their typed accessors so workers always see a time.Duration.
func (t *Task) Info(key string) (interface{}, bool) {
	switch key {
	case OptConnectTimeout:
		return t.config.ConnectTimeout(), true
	case OptCommandTimeout:
		d := t.config.CommandTimeout()
		if d == 0 {
			return nil, false
		}
		return d, true
	}
	v, ok := t.config[key]
	return v, ok
}

// SetInfo updates one config option. Reactor-goroutine only.
func (t *Task) SetInfo(key string, value interface{}) {
	t.config[key] = value
	if key == OptFanout {
		t.eng.SetFanout(t.config.Fanout())
	}
}

// Events chains the task's result aggregation in front of the user
// handler; workers call back through the returned handler.
func (t *Task) Events(user worker.EventHandler) worker.EventHandler {
	return &taskHandler{task: t, user: user}
}

// Schedule registers a worker for the next Resume.
func (t *Task) Schedule(w worker.Worker) error {
	if err := w.Schedule(t); err != nil {
		return err
	}
	t.scheduled = append(t.scheduled, w)
	return nil
}

// Shell schedules command on nodes, dispatching events to handler (nil
// for none). The worker flavor follows the distant_worker option, or
// tree mode automatically when a topology is installed.
func (t *Task) Shell(command string, nodes *nodeset.NodeSet, handler worker.EventHandler) (worker.Worker, error) {
	flavor := t.config.DistantWorker()
	if _, ok := t.config[worker.InfoTopology]; ok {
		flavor = "tree"
	}
	var w worker.Worker
	switch flavor {
	case "exec":
		w = worker.NewExecWorker(nodes, command, handler)
	case "rsh":
		w = worker.NewRshWorker(nodes, command, handler)
	case "sshnative":
		w = worker.NewNativeSshWorker(nodes, command, handler)
	case "tree":
		w = worker.NewTreeWorker(nodes, command, handler)
	case "ssh":
		w = worker.NewSshWorker(nodes, command, handler)
	default:
		return nil, fmt.Errorf("clustrd: unknown distant_worker %q", flavor)
	}
	if err := t.Schedule(w); err != nil {
		return nil, err
	}
	if !t.config.Stdin() {
		w.SetWriteEOF()
	}
	return w, nil
}

// Popen schedules a single local command with no target set.
func (t *Task) Popen(command string, handler worker.EventHandler) (worker.Worker, error) {
	w := worker.NewPopenWorker(command, handler)
	if err := t.Schedule(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Copy schedules a push of the local path src to dst on every node.
func (t *Task) Copy(src, dst string, nodes *nodeset.NodeSet, handler worker.EventHandler) (worker.Worker, error) {
	w := worker.NewCopyWorker(nodes, src, dst, handler)
	if err := t.Schedule(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Rcopy schedules a pull of the remote path src from every node into the
// local directory dst, one suffixed file per node.
func (t *Task) Rcopy(src, dst string, nodes *nodeset.NodeSet, handler worker.EventHandler) (worker.Worker, error) {
	w := worker.NewRcopyWorker(nodes, src, dst, handler)
	if err := t.Schedule(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Timer schedules fn on the reactor after delay, repeating every
// interval (zero for one-shot).
func (t *Task) Timer(delay, interval time.Duration, fn func()) *engine.Timer {
	return t.eng.AddTimer(delay, interval, fn)
}

// Port opens a cross-thread queue into the reactor; handler runs on the
// task goroutine for every message sent.
func (t *Task) Port(capacity int, handler func(interface{})) (*engine.Port, error) {
	return engine.NewPort(t.eng, capacity, handler)
}

// Resume runs the engine loop on the calling goroutine until every
// scheduled worker has closed, or timeout (> 0) expires. A panic raised
// by a user event handler is caught, logged, and returned after the
// loop unwinds.
func (t *Task) Resume(timeout time.Duration) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("clustrd: task already running")
	}
	t.running = true
	t.mu.Unlock()
	return t.drive(timeout)
}

// drive runs the engine loop for a run already marked as running.
func (t *Task) drive(timeout time.Duration) error {
	err := t.eng.Run(timeout)
	if err == nil && t.handlerPanic != nil {
		err = fmt.Errorf("clustrd: event handler panic: %v", t.handlerPanic)
		t.handlerPanic = nil
	}

	t.mu.Lock()
	t.running = false
	t.lastErr = err
	close(t.doneCh)
	t.doneCh = make(chan struct{})
	t.mu.Unlock()
	return err
}

// Run is shell plus resume.
func (t *Task) Run(command string, nodes *nodeset.NodeSet, handler worker.EventHandler, timeout time.Duration) error {
	if _, err := t.Shell(command, nodes, handler); err != nil {
		return err
	}
	return t.Resume(timeout)
}

// Start drives Resume on a fresh goroutine; pair with Wait or Join. The
// run is marked as running before Start returns, so a Wait or Join that
// follows waits for it. Start does nothing if the task is already running.
func (t *Task) Start(timeout time.Duration) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()
	go t.drive(timeout)
}

// Abort unwinds every scheduled worker. Owning goroutine only; commands
// already launched on remote nodes may keep running there.
func (t *Task) Abort() {
	t.eng.Abort()
	for _, w := range t.scheduled {
		w.Abort()
	}
}

// Wait blocks until the current Resume returns. Safe from any goroutine.
func (t *Task) Wait() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	ch := t.doneCh
	t.mu.Unlock()
	<-ch
}

// Join waits like Wait and reports the run's outcome.
func (t *Task) Join() error {
	t.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// result accessors, valid after Resume returns (or from event handlers).

// NodeBuffer returns key's aggregated stdout lines.
func (t *Task) NodeBuffer(key string) []string {
	lines, _ := t.stdoutTree.Get(key)
	return lines
}

// NodeError returns key's aggregated stderr lines.
func (t *Task) NodeError(key string) []string {
	lines, _ := t.stderrTree.Get(key)
	return lines
}

// IterBuffers folds stdout into equivalence classes of nodes with
// byte-identical output.
func (t *Task) IterBuffers() []msgtree.Equivalence {
	return t.stdoutTree.Walk()
}

// IterErrors folds stderr the same way.
func (t *Task) IterErrors() []msgtree.Equivalence {
	return t.stderrTree.Walk()
}

// MaxRetcode returns the highest return code seen across destinations.
func (t *Task) MaxRetcode() int { return t.maxRC }

// NumTimeout returns how many destinations were closed by a timeout.
func (t *Task) NumTimeout() int { return len(t.timedOut) }

// IterKeysTimeout lists the timed-out destinations.
func (t *Task) IterKeysTimeout() []string {
	keys := make([]string, 0, len(t.timedOut))
	for k := range t.timedOut {
		keys = append(keys, k)
	}
	return keys
}

// Stats snapshots the counters, one row per worker Go type (for example
// "*worker.ExecWorker"), for introspection. Safe from
// any goroutine; the counters themselves are thread-safe.
func (t *Task) Stats() map[string]*stat.WorkerStat {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	out := make(map[string]*stat.WorkerStat, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out
}

// statFor lazily creates the counter row for one worker label.
func (t *Task) statFor(label string) *stat.WorkerStat {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	s, ok := t.stats[label]
	if !ok {
		s = stat.NewWorkerStat(label)
		t.stats[label] = s
	}
	return s
}

// taskHandler runs result aggregation before the user handler and
// converts user-handler panics into a deferred run error, so no event
// is silently swallowed and the reactor survives.
type taskHandler struct {
	task *Task
	user worker.EventHandler
}

func workerLabel(w worker.Worker) string {
	return fmt.Sprintf("%T", w)
}

func (h *taskHandler) guard(fn func()) {
	if h.user == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.task.debugf("event handler panic: %v", r)
			if h.task.handlerPanic == nil {
				h.task.handlerPanic = r
			}
		}
	}()
	fn()
}

func (h *taskHandler) HandleStart(w worker.Worker) {
	h.task.openWk++
	h.guard(func() { h.user.HandleStart(w) })
}

func (h *taskHandler) HandlePickup(w worker.Worker, node string) {
	h.task.statFor(workerLabel(w)).Picked.Incr()
	h.guard(func() { h.user.HandlePickup(w, node) })
}

func (h *taskHandler) HandleRead(w worker.Worker, node string, stream worker.Stream, line []byte) {
	h.task.statFor(workerLabel(w)).Reads.Incr()
	if stream == worker.Stderr {
		h.task.stderrTree.Add(node, string(line))
	} else {
		h.task.stdoutTree.Add(node, string(line))
	}
	h.guard(func() { h.user.HandleRead(w, node, stream, line) })
}

func (h *taskHandler) HandleWritten(w worker.Worker, node string, n int) {
	h.guard(func() { h.user.HandleWritten(w, node, n) })
}

func (h *taskHandler) HandleHup(w worker.Worker, node string, rc int) {
	if !h.task.anyRC || rc > h.task.maxRC {
		h.task.maxRC = rc
		h.task.anyRC = true
	}
	h.guard(func() { h.user.HandleHup(w, node, rc) })
}

func (h *taskHandler) HandleClose(w worker.Worker, timedOut bool) {
	h.task.statFor(workerLabel(w)).Closed.Incr()
	if h.task.openWk > 0 {
		h.task.openWk--
	}
	if timedOut {
		for _, key := range w.Targets() {
			if _, ok := w.Retcode(key); !ok {
				h.task.timedOut[key] = true
			}
		}
	}
	h.guard(func() { h.user.HandleClose(w, timedOut) })
}
