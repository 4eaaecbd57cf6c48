package worker

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/clustrd/clustrd/nodeset"
	"github.com/clustrd/clustrd/tree"
)

// gatewayClient is one framed channel to a gateway, carried over an
// ssh-like child's stdio. It is the root-side half of the propagation
// protocol: a CTL frame opens the hop, IN/EOF frames feed stdin, and
// OUT/ERR/HUP frames coming back are translated into the owning tree
// worker's per-destination events. Any framing error or early channel
// EOF fails the remaining sub-targets with a synthetic return code;
// siblings on other channels are unaffected.
type gatewayClient struct {
	owner   *TreeWorker
	gateway string
	argv    []string

	remaining map[string]bool

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	rbuf []byte
	ebuf []byte
	wbuf bytes.Buffer
	weof bool

	ctl tree.Control

	connectDL time.Time
	commandDL time.Time
	sawFrame  bool

	connectTimeout time.Duration
	commandTimeout time.Duration

	done     bool
	timedOut bool
}

func newGatewayClient(owner *TreeWorker, gateway string, argv []string, sub *nodeset.NodeSet, ctl tree.Control, connectTO, commandTO time.Duration) *gatewayClient {
	remaining := make(map[string]bool, sub.Len())
	for _, node := range sub.Iter() {
		remaining[node] = true
	}
	return &gatewayClient{
		owner:          owner,
		gateway:        gateway,
		argv:           argv,
		remaining:      remaining,
		ctl:            ctl,
		connectTimeout: connectTO,
		commandTimeout: commandTO,
	}
}

func (c *gatewayClient) Launch() error {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return err
	}

	cmd := exec.Command(c.argv[0], c.argv[1:]...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return err
	}
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	c.cmd = cmd
	c.stdin = stdinW
	c.stdout = stdoutR
	c.stderr = stderrR

	now := time.Now()
	if c.connectTimeout > 0 {
		c.connectDL = now.Add(c.connectTimeout)
	}
	if c.commandTimeout > 0 {
		c.commandDL = now.Add(c.commandTimeout)
	}

	if err := c.pushFrame(tree.Frame{Type: tree.CTL, Payload: c.ctl.Encode()}); err != nil {
		c.failRemaining()
		return nil
	}
	for node := range c.remaining {
		c.owner.notifyPickup(node)
	}
	return nil
}

// pushFrame queues one frame for the gateway.
func (c *gatewayClient) pushFrame(f tree.Frame) error {
	buf, err := f.Encode(nil)
	if err != nil {
		return err
	}
	c.wbuf.Write(buf)
	return nil
}

// enqueueStdin relays root-fed stdin bytes as one IN frame.
func (c *gatewayClient) enqueueStdin(p []byte) {
	if c.done || c.stdin == nil {
		return
	}
	c.pushFrame(tree.Frame{Type: tree.IN, Payload: append([]byte(nil), p...)})
}

// writeEOF queues the final EOF control.
func (c *gatewayClient) writeEOF() {
	if c.done || c.weof {
		return
	}
	c.weof = true
	c.pushFrame(tree.Frame{Type: tree.EOF})
}

func (c *gatewayClient) ReadFds() []int {
	var fds []int
	if c.stdout != nil {
		fds = append(fds, int(c.stdout.Fd()))
	}
	if c.stderr != nil {
		fds = append(fds, int(c.stderr.Fd()))
	}
	return fds
}

func (c *gatewayClient) WriteFds() []int {
	if c.stdin != nil && c.wbuf.Len() > 0 {
		return []int{int(c.stdin.Fd())}
	}
	return nil
}

func (c *gatewayClient) HandleReadable(fd int) error {
	switch {
	case c.stdout != nil && fd == int(c.stdout.Fd()):
		return c.drainFrames()
	case c.stderr != nil && fd == int(c.stderr.Fd()):
		return c.drainStderr()
	}
	return nil
}

// drainFrames performs one read on the channel and dispatches every
// complete frame.
func (c *gatewayClient) drainFrames() error {
	buf := make([]byte, 4096)
	n, err := c.stdout.Read(buf)
	if n > 0 {
		c.sawFrame = true
		c.connectDL = time.Time{}
		c.rbuf = append(c.rbuf, buf[:n]...)
		for {
			f, consumed, derr := tree.DecodeFrame(c.rbuf)
			if errors.Is(derr, tree.ErrIncomplete) {
				break
			}
			if derr != nil {
				log.Printf("gateway %s: %v", c.gateway, derr)
				c.failRemaining()
				return nil
			}
			c.rbuf = c.rbuf[consumed:]
			c.dispatch(f)
			if c.done {
				return nil
			}
		}
	}
	if err == io.EOF || (err == nil && n == 0) {
		c.channelClosed()
		return nil
	}
	if err != nil {
		return err
	}
	return nil
}

// dispatch applies one downstream frame. OUT/ERR keys may be folded node
// sets: the gateway grooms identical output into one frame per
// equivalence class.
func (c *gatewayClient) dispatch(f tree.Frame) {
	switch f.Type {
	case tree.OUT, tree.ERR:
		stream := Stdout
		if f.Type == tree.ERR {
			stream = Stderr
		}
		keys, err := nodeset.Parse(f.Key, nil)
		if err != nil {
			c.owner.notifyRead(f.Key, stream, f.Payload)
			return
		}
		for _, node := range keys.Iter() {
			c.owner.notifyRead(node, stream, f.Payload)
		}
	case tree.HUP:
		rc, err := tree.DecodeHup(f.Payload)
		if err != nil {
			log.Printf("gateway %s: %v", c.gateway, err)
			c.failRemaining()
			return
		}
		if c.remaining[f.Key] {
			delete(c.remaining, f.Key)
			c.owner.notifyHup(f.Key, rc)
			c.owner.notifyClosed(f.Key, false)
		}
	case tree.TIMER:
		// the gateway timed this key out downstream
		if c.remaining[f.Key] {
			delete(c.remaining, f.Key)
			c.owner.notifyClosed(f.Key, true)
		}
	case tree.ACK:
		// flow control, informational on this side
	case tree.EOF:
		c.channelClosed()
	}
}

// drainStderr forwards gateway diagnostics to the debug log.
func (c *gatewayClient) drainStderr() error {
	buf := make([]byte, 4096)
	n, err := c.stderr.Read(buf)
	if n > 0 {
		c.ebuf = append(c.ebuf, buf[:n]...)
		for {
			i := bytes.IndexByte(c.ebuf, '\n')
			if i < 0 {
				break
			}
			log.Printf("gateway %s: %s", c.gateway, c.ebuf[:i])
			c.ebuf = c.ebuf[i+1:]
		}
	}
	if err == io.EOF || (err == nil && n == 0) {
		c.stderr.Close()
		c.stderr = nil
		return nil
	}
	return err
}

// channelClosed finishes the hop: remaining unacknowledged targets are
// failed, the child is reaped.
func (c *gatewayClient) channelClosed() {
	if c.done {
		return
	}
	c.failRemaining()
}

// failRemaining reports a synthetic failure for every sub-target that
// has not reached HUP and tears the channel down.
func (c *gatewayClient) failRemaining() {
	if c.done {
		return
	}
	c.done = true
	c.teardown()
	for node := range c.remaining {
		c.owner.notifyHup(node, syntheticRC)
		c.owner.notifyClosed(node, false)
	}
	c.remaining = nil
}

func (c *gatewayClient) HandleWritable(fd int) error {
	if c.stdin == nil || c.wbuf.Len() == 0 {
		return nil
	}
	n, err := c.stdin.Write(c.wbuf.Bytes())
	if n > 0 {
		c.wbuf.Next(n)
	}
	if err != nil {
		c.stdin.Close()
		c.stdin = nil
		return nil
	}
	if c.wbuf.Len() == 0 && c.weof {
		c.stdin.Close()
		c.stdin = nil
	}
	return nil
}

func (c *gatewayClient) Done() bool {
	return c.done || (len(c.remaining) == 0 && c.doneDraining())
}

// doneDraining holds off removal until queued frames went out.
func (c *gatewayClient) doneDraining() bool {
	if c.wbuf.Len() > 0 && c.stdin != nil {
		return false
	}
	if !c.done {
		c.done = true
		c.teardown()
	}
	return true
}

func (c *gatewayClient) markDone() { c.done = true }

func (c *gatewayClient) ConnectDeadline() time.Time {
	if c.done || c.sawFrame {
		return time.Time{}
	}
	return c.connectDL
}

func (c *gatewayClient) CommandDeadline() time.Time {
	if c.done {
		return time.Time{}
	}
	return c.commandDL
}

// TimeoutExpired closes every remaining sub-target with the timed-out
// marker.
func (c *gatewayClient) TimeoutExpired() {
	if c.done {
		return
	}
	c.done = true
	c.timedOut = true
	c.teardown()
	for node := range c.remaining {
		c.owner.notifyClosed(node, true)
	}
	c.remaining = nil
}

func (c *gatewayClient) Abort() {
	if c.done {
		return
	}
	c.done = true
	c.teardown()
	for node := range c.remaining {
		c.owner.notifyClosed(node, false)
	}
	c.remaining = nil
}

func (c *gatewayClient) teardown() {
	if c.stdin != nil {
		c.stdin.Close()
		c.stdin = nil
	}
	if c.stdout != nil {
		c.stdout.Close()
		c.stdout = nil
	}
	if c.stderr != nil {
		c.stderr.Close()
		c.stderr = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
		c.cmd = nil
	}
}
