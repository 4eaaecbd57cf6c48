package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/clustrd/clustrd/nodeset"
	"github.com/clustrd/clustrd/tree"
)

// info keys consumed by tree propagation.
const (
	InfoTopology       = "topology"
	InfoTopologyRoot   = "topology_root"
	InfoGatewayCommand = "gateway_command"
	InfoGroomingDelay  = "grooming_delay"
)

// defaultGatewayCommand must start a gateway process speaking the frame
// protocol on its stdio at the remote end.
const defaultGatewayCommand = "clustrd-gateway"

// TreeWorker propagates a command through gateways: targets that are
// direct children of the root (or absent from the topology) get one ssh
// child each, and each selected gateway gets one framed channel relaying
// the disjoint sub-target set one hop further. All destinations report
// through the single event contract, so callers cannot tell a relayed
// node from a direct one.
type TreeWorker struct {
	base
	nodes   *nodeset.NodeSet
	command string
	user    EventHandler

	direct map[string]*procClient
	gws    map[string]*gatewayClient
}

// NewTreeWorker targets command at nodes through the topology installed
// on the task.
func NewTreeWorker(nodes *nodeset.NodeSet, command string, handler EventHandler) *TreeWorker {
	return &TreeWorker{nodes: nodes, command: command, user: handler}
}

func (w *TreeWorker) Targets() []string { return w.nodes.Iter() }

func (w *TreeWorker) Schedule(rt Runtime) error {
	topoVal, ok := rt.Info(InfoTopology)
	if !ok {
		return fmt.Errorf("worker: tree worker needs a topology")
	}
	topo, ok := topoVal.(*tree.Topology)
	if !ok {
		return fmt.Errorf("worker: bad topology value %T", topoVal)
	}
	root := infoString(rt, InfoTopologyRoot, "")
	if root == "" {
		root, _ = os.Hostname()
	}
	directSet, gwTargets, err := topo.Next(root, w.nodes)
	if err != nil {
		return err
	}

	targets := w.nodes.Iter()
	if len(targets) == 0 {
		return fmt.Errorf("worker: empty target set")
	}
	w.attach(rt, w.user, len(targets))
	w.direct = make(map[string]*procClient)
	w.gws = make(map[string]*gatewayClient)

	sshPath := infoString(rt, InfoSshPath, "ssh")
	sshUser := infoString(rt, InfoSshUser, "")
	sshOptions := infoStrings(rt, InfoSshOptions)
	mkArgv := func(node, cmd string) []string {
		return sshArgv(sshPath, sshUser, sshOptions, node, cmd)
	}

	w.handler.HandleStart(w)
	w.state = Running
	hosts := w.nodes.String()

	rank := map[string]int{}
	for i, node := range targets {
		rank[node] = i
	}

	for _, node := range directSet.Iter() {
		argv := mkArgv(node, expandCommand(w.command, node, rank[node], hosts))
		c := newProcClient(w, node, argv, w.connectTimeout, w.commandTimeout)
		w.direct[node] = c
		rt.Engine().Register(c)
		if err := rt.Engine().Start(c); err != nil {
			c.markDone()
			w.notifyHup(node, syntheticRC)
			w.notifyClosed(node, false)
		}
	}

	gwCmd := infoString(rt, InfoGatewayCommand, defaultGatewayCommand)
	for gw, sub := range gwTargets {
		ctl := tree.Control{
			Targets:        sub.String(),
			Command:        w.command,
			Fanout:         rt.Engine().Fanout(),
			ConnectTimeout: w.connectTimeout,
			CommandTimeout: w.commandTimeout,
			Gateway:        gw,
			Routes:         topo.String(),
			WriteStdin:     true,
		}
		if v, ok := rt.Info("stdin"); ok {
			if b, ok := v.(bool); ok {
				ctl.WriteStdin = b
			}
		}
		if v, ok := rt.Info(InfoGroomingDelay); ok {
			if d, ok := v.(time.Duration); ok {
				ctl.GroomingDelay = d
			}
		}
		c := newGatewayClient(w, gw, mkArgv(gw, gwCmd), sub, ctl,
			w.connectTimeout, w.commandTimeout)
		w.gws[gw] = c
		rt.Engine().Register(c)
		if err := rt.Engine().Start(c); err != nil {
			c.failRemaining()
		}
	}
	return nil
}

func (w *TreeWorker) Write(p []byte) {
	for _, c := range w.direct {
		c.enqueue(p)
		w.rt.Engine().Update(c)
	}
	for _, c := range w.gws {
		c.enqueueStdin(p)
		w.rt.Engine().Update(c)
	}
}

func (w *TreeWorker) SetWriteEOF() {
	for _, c := range w.direct {
		c.writeEOF()
	}
	for _, c := range w.gws {
		c.writeEOF()
		w.rt.Engine().Update(c)
	}
}

func (w *TreeWorker) Abort() {
	w.aborted = true
	for _, c := range w.direct {
		c.Abort()
	}
	for _, c := range w.gws {
		c.Abort()
	}
}

func (w *TreeWorker) runtime() Runtime { return w.rt }

func (w *TreeWorker) notifyPickup(node string) { w.handler.HandlePickup(w, node) }

func (w *TreeWorker) notifyRead(node string, stream Stream, line []byte) {
	w.handler.HandleRead(w, node, stream, line)
}

func (w *TreeWorker) notifyWritten(node string, n int) {
	w.handler.HandleWritten(w, node, n)
}

func (w *TreeWorker) notifyHup(node string, rc int) { w.destHup(w, node, rc) }

func (w *TreeWorker) notifyClosed(node string, timedOut bool) {
	w.destClosed(w, timedOut)
}
