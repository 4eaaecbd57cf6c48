// Package gateway implements the remote half of tree propagation: a
// process started by the parent's channel transport that speaks the
// frame protocol on its stdio, instantiates its own task and engine,
// and either runs the command on its local targets or relays further
// down when the forwarded routes table says so.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	clustrd "github.com/clustrd/clustrd"
	"github.com/clustrd/clustrd/engine"
	"github.com/clustrd/clustrd/msgtree"
	"github.com/clustrd/clustrd/nodeset"
	"github.com/clustrd/clustrd/tree"
	"github.com/clustrd/clustrd/worker"
)

// groomLimit bounds the number of lines held back by grooming; past it
// the gateway flushes early and continues.
const groomLimit = 4096

// Run serves one framed channel on in/out until the parent closes it.
// Each CTL frame runs one command; the channel survives across
// commands.
func Run(in *os.File, out *os.File) error {
	for {
		f, err := tree.ReadFrame(in)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if f.Type != tree.CTL {
			// frames for a finished command straggling in; skip.
			continue
		}
		ctl, err := tree.DecodeControl(f.Payload)
		if err != nil {
			return err
		}
		if err := serve(ctl, in, out); err != nil {
			return err
		}
	}
}

// serve runs one relayed command to completion.
func serve(ctl tree.Control, in, out *os.File) error {
	targets, err := nodeset.Parse(ctl.Targets, nil)
	if err != nil {
		return fmt.Errorf("gateway: bad targets %q: %w", ctl.Targets, err)
	}

	config := clustrd.Config{}
	if ctl.Fanout > 0 {
		config[clustrd.OptFanout] = ctl.Fanout
	}
	if ctl.ConnectTimeout > 0 {
		config[clustrd.OptConnectTimeout] = ctl.ConnectTimeout
	}
	if ctl.CommandTimeout > 0 {
		config[clustrd.OptCommandTimeout] = ctl.CommandTimeout
	}

	// Relay further down when the forwarded routes still name gateways
	// below this hop; otherwise run the targets directly over ssh.
	if ctl.Routes != "" && ctl.Gateway != "" {
		topo, terr := tree.ParseRoutes(ctl.Routes, nil)
		if terr != nil {
			return terr
		}
		_, below, nerr := topo.Next(ctl.Gateway, targets)
		if nerr != nil {
			return nerr
		}
		if len(below) > 0 {
			config[worker.InfoTopology] = topo
			config[worker.InfoTopologyRoot] = ctl.Gateway
		}
	}

	task, err := clustrd.NewTask(config)
	if err != nil {
		return err
	}

	delay := ctl.GroomingDelay
	if delay <= 0 {
		delay = clustrd.DefaultGroomingDelay
	}
	relay := newRelay(out)
	relay.groom = task.Timer(delay, delay, relay.flush)

	w, err := task.Shell(ctl.Command, targets, relay)
	if err != nil {
		// nothing can run; fail the whole sub-target set upstream.
		relay.groom.Cancel()
		for _, node := range targets.Iter() {
			relay.sendHup(node, 255)
		}
		tree.WriteFrame(out, tree.Frame{Type: tree.EOF})
		return nil
	}
	tree.WriteFrame(out, tree.Frame{Type: tree.ACK})

	// parent stdin joins the reactor so IN/EOF frames interleave with
	// child I/O.
	feeder := newStdinFeeder(in, w)
	task.Engine().Register(feeder)
	task.Engine().Start(feeder)
	if !ctl.WriteStdin {
		w.SetWriteEOF()
	}

	if err := task.Resume(0); err != nil {
		log.Printf("gateway: run: %v", err)
	}
	feeder.detach()
	relay.finish()
	return nil
}

// relay grooms worker output before forwarding: lines are batched for
// one grooming window, folded through a message tree, and sent as one
// frame per (line, equivalence class).
type relay struct {
	worker.DefaultHandler
	out   *os.File
	groom *engine.Timer

	pending      []pendingLine
	closedByTime map[string]bool
	finished     bool
}

type pendingLine struct {
	node   string
	stream worker.Stream
	line   string
}

func newRelay(out *os.File) *relay {
	return &relay{out: out, closedByTime: make(map[string]bool)}
}

func (r *relay) HandleRead(w worker.Worker, node string, stream worker.Stream, line []byte) {
	r.pending = append(r.pending, pendingLine{node: node, stream: stream, line: string(line)})
	if len(r.pending) >= groomLimit {
		r.flush()
	}
}

func (r *relay) HandleHup(w worker.Worker, node string, rc int) {
	r.flush()
	r.sendHup(node, rc)
}

func (r *relay) HandleClose(w worker.Worker, timedOut bool) {
	r.flush()
	if r.groom != nil {
		r.groom.Cancel()
	}
	if timedOut {
		for _, node := range w.Targets() {
			if _, ok := w.Retcode(node); !ok && !r.closedByTime[node] {
				r.closedByTime[node] = true
				tree.WriteFrame(r.out, tree.Frame{Type: tree.TIMER, Key: node})
			}
		}
	}
}

// flush folds the pending window and forwards it, one frame per line
// per equivalence class, keyed by the folded node set of the class.
func (r *relay) flush() {
	if len(r.pending) == 0 {
		return
	}
	for _, stream := range []worker.Stream{worker.Stdout, worker.Stderr} {
		t := msgtree.New()
		for _, p := range r.pending {
			if p.stream == stream {
				t.Add(p.node, p.line)
			}
		}
		ftype := tree.OUT
		if stream == worker.Stderr {
			ftype = tree.ERR
		}
		for _, eq := range t.Walk() {
			key := foldKeys(eq.Keys)
			for _, line := range eq.Lines {
				tree.WriteFrame(r.out, tree.Frame{Type: ftype, Key: key, Payload: []byte(line)})
			}
		}
	}
	r.pending = r.pending[:0]
}

func (r *relay) sendHup(node string, rc int) {
	tree.WriteFrame(r.out, tree.Frame{Type: tree.HUP, Key: node, Payload: tree.EncodeHup(rc)})
}

// finish flushes what grooming still holds and closes the command with
// the final EOF control.
func (r *relay) finish() {
	if r.finished {
		return
	}
	r.finished = true
	r.flush()
	tree.WriteFrame(r.out, tree.Frame{Type: tree.EOF})
}

// foldKeys folds an equivalence class back into compact textual form.
func foldKeys(keys []string) string {
	ns := nodeset.New()
	for _, k := range keys {
		if single, err := nodeset.Parse(k, nil); err == nil {
			ns = ns.Union(single)
		}
	}
	if ns.Len() == 0 && len(keys) > 0 {
		return keys[0]
	}
	return ns.String()
}

// stdinFeeder is the engine client that turns parent IN/EOF frames into
// worker stdin. It is a daemon client: the reactor exits when the
// relayed worker is done even if the parent keeps the channel open.
type stdinFeeder struct {
	file     *os.File
	w        worker.Worker
	rbuf     []byte
	detached bool
}

func newStdinFeeder(in *os.File, w worker.Worker) *stdinFeeder {
	return &stdinFeeder{file: in, w: w}
}

func (f *stdinFeeder) Launch() error { return nil }
func (f *stdinFeeder) Daemon() bool  { return true }

func (f *stdinFeeder) ReadFds() []int {
	if f.detached {
		return nil
	}
	return []int{int(f.file.Fd())}
}

func (f *stdinFeeder) WriteFds() []int { return nil }

func (f *stdinFeeder) HandleReadable(fd int) error {
	buf := make([]byte, 4096)
	n, err := f.file.Read(buf)
	if n > 0 {
		f.rbuf = append(f.rbuf, buf[:n]...)
		for {
			frame, consumed, derr := tree.DecodeFrame(f.rbuf)
			if errors.Is(derr, tree.ErrIncomplete) {
				break
			}
			if derr != nil {
				f.w.SetWriteEOF()
				f.detached = true
				return derr
			}
			f.rbuf = f.rbuf[consumed:]
			switch frame.Type {
			case tree.IN:
				f.w.Write(frame.Payload)
			case tree.EOF:
				f.w.SetWriteEOF()
				f.detached = true
				return nil
			}
		}
	}
	if err == io.EOF || (err == nil && n == 0) {
		f.w.SetWriteEOF()
		f.detached = true
	} else if err != nil {
		return err
	}
	return nil
}

func (f *stdinFeeder) HandleWritable(fd int) error { return nil }
func (f *stdinFeeder) Done() bool                  { return f.detached }
func (f *stdinFeeder) ConnectDeadline() time.Time  { return time.Time{} }
func (f *stdinFeeder) CommandDeadline() time.Time  { return time.Time{} }
func (f *stdinFeeder) TimeoutExpired()             {}
func (f *stdinFeeder) Abort()                      { f.detached = true }

// detach stops watching the parent channel without closing it, so the
// next CTL can be read by Run's blocking loop.
func (f *stdinFeeder) detach() { f.detached = true }
