package worker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clustrd/clustrd/nodeset"
)

// ExecWorker runs one local command per target node, with the command
// placeholders %h/%host (node name), %n/%rank (node rank) and %hosts
// (the whole folded target set) expanded per destination. It is the
// building block the ssh/rsh and copy workers wrap.
type ExecWorker struct {
	base
	nodes   *nodeset.NodeSet
	command string
	user    EventHandler

	// buildArgv synthesizes the argv for one destination; the default
	// wraps the expanded command in a local shell.
	buildArgv func(node, command string) []string
	// makeClient builds the per-destination engine client; the native
	// ssh worker swaps in its own transport here.
	makeClient func(node, command string) destClient

	clients map[string]destClient
}

// NewExecWorker targets command at every node in nodes, reporting events
// to handler.
func NewExecWorker(nodes *nodeset.NodeSet, command string, handler EventHandler) *ExecWorker {
	w := &ExecWorker{nodes: nodes, command: command, user: handler}
	w.buildArgv = func(node, cmd string) []string {
		return []string{"/bin/sh", "-c", cmd}
	}
	w.makeClient = func(node, cmd string) destClient {
		return newProcClient(w, node, w.buildArgv(node, cmd), w.connectTimeout, w.commandTimeout)
	}
	return w
}

// expandCommand substitutes the per-destination placeholders. Longer
// placeholders come first: the replacer prefers earlier keys, and %host
// must not shadow %hosts.
func expandCommand(command, node string, rank int, hosts string) string {
	r := strings.NewReplacer(
		"%hosts", hosts,
		"%host", node,
		"%rank", strconv.Itoa(rank),
		"%h", node,
		"%n", strconv.Itoa(rank),
	)
	return r.Replace(command)
}

// Targets returns the destination names in nodeset order.
func (w *ExecWorker) Targets() []string { return w.nodes.Iter() }

// Schedule registers one client per destination and asks the engine to
// start each; clients over the fanout window wait on the pending FIFO.
func (w *ExecWorker) Schedule(rt Runtime) error {
	targets := w.nodes.Iter()
	if len(targets) == 0 {
		return fmt.Errorf("worker: empty target set")
	}
	w.attach(rt, w.user, len(targets))
	w.clients = make(map[string]destClient, len(targets))
	hosts := w.nodes.String()

	w.handler.HandleStart(w)
	w.state = Running
	for rank, node := range targets {
		c := w.makeClient(node, expandCommand(w.command, node, rank, hosts))
		w.clients[node] = c
		rt.Engine().Register(c)
		if err := rt.Engine().Start(c); err != nil {
			c.markDone()
			w.notifyHup(node, syntheticRC)
			w.notifyClosed(node, false)
		}
	}
	return nil
}

// Write enqueues p on every destination still accepting stdin.
func (w *ExecWorker) Write(p []byte) {
	for _, c := range w.clients {
		c.enqueue(p)
		if w.rt != nil {
			w.rt.Engine().Update(c)
		}
	}
}

// SetWriteEOF closes each destination's stdin once drained.
func (w *ExecWorker) SetWriteEOF() {
	for _, c := range w.clients {
		c.writeEOF()
	}
}

// Abort terminates every destination.
func (w *ExecWorker) Abort() {
	w.aborted = true
	for _, c := range w.clients {
		c.Abort()
	}
}

func (w *ExecWorker) runtime() Runtime { return w.rt }

func (w *ExecWorker) notifyPickup(node string) {
	w.handler.HandlePickup(w, node)
}

func (w *ExecWorker) notifyRead(node string, stream Stream, line []byte) {
	w.handler.HandleRead(w, node, stream, line)
}

func (w *ExecWorker) notifyWritten(node string, n int) {
	w.handler.HandleWritten(w, node, n)
}

func (w *ExecWorker) notifyHup(node string, rc int) {
	w.destHup(w, node, rc)
}

func (w *ExecWorker) notifyClosed(node string, timedOut bool) {
	w.destClosed(w, timedOut)
}
