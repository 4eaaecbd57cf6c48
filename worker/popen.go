package worker

import "github.com/clustrd/clustrd/engine"

// popenKey is the destination key of a keyless local command.
const popenKey = "local"

// PopenWorker runs a single local command with no target set. Events use
// the synthetic destination key "local".
type PopenWorker struct {
	base
	command string
	user    EventHandler
	client  *procClient
}

// NewPopenWorker runs command locally, reporting events to handler.
func NewPopenWorker(command string, handler EventHandler) *PopenWorker {
	return &PopenWorker{command: command, user: handler}
}

func (w *PopenWorker) Targets() []string { return []string{popenKey} }

func (w *PopenWorker) Schedule(rt Runtime) error {
	w.attach(rt, w.user, 1)
	w.client = newProcClient(w, popenKey,
		[]string{"/bin/sh", "-c", w.command}, w.connectTimeout, w.commandTimeout)
	w.handler.HandleStart(w)
	w.state = Running
	rt.Engine().Register(w.client)
	if err := rt.Engine().Start(w.client); err != nil {
		w.client.done = true
		w.notifyHup(popenKey, syntheticRC)
		w.notifyClosed(popenKey, false)
	}
	return nil
}

func (w *PopenWorker) Write(p []byte) {
	w.client.enqueue(p)
	if w.rt != nil {
		w.rt.Engine().Update(w.client)
	}
}

func (w *PopenWorker) SetWriteEOF() { w.client.writeEOF() }

func (w *PopenWorker) Abort() {
	w.aborted = true
	w.client.Abort()
}

func (w *PopenWorker) runtime() Runtime { return w.rt }

// engine client notifications

func (w *PopenWorker) notifyPickup(node string) { w.handler.HandlePickup(w, node) }

func (w *PopenWorker) notifyRead(node string, stream Stream, line []byte) {
	w.handler.HandleRead(w, node, stream, line)
}

func (w *PopenWorker) notifyWritten(node string, n int) {
	w.handler.HandleWritten(w, node, n)
}

func (w *PopenWorker) notifyHup(node string, rc int) { w.destHup(w, node, rc) }

func (w *PopenWorker) notifyClosed(node string, timedOut bool) {
	w.destClosed(w, timedOut)
}

var _ engine.Client = (*procClient)(nil)
