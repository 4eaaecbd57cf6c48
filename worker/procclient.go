package worker

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"time"
)

// procOwner is the worker-side callback surface a procClient reports to.
type procOwner interface {
	Worker
	notifyRead(node string, stream Stream, line []byte)
	notifyWritten(node string, n int)
	notifyHup(node string, rc int)
	notifyClosed(node string, timedOut bool)
	notifyPickup(node string)
	runtime() Runtime
}

// syntheticRC is reported when a child cannot be spawned or reaped, the
// same code ssh uses for connection errors.
const syntheticRC = 255

// procClient wraps one child process and its pipe triple as an engine
// client. Per-destination substates: connecting until the first byte or
// EOF, open until both output streams reach EOF, then HUP with the
// child's return code.
type procClient struct {
	owner procOwner
	node  string
	argv  []string

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	wbuf bytes.Buffer
	weof bool

	outLine []byte
	errLine []byte

	connectTimeout time.Duration
	commandTimeout time.Duration
	connectDL      time.Time
	commandDL      time.Time
	sawBytes       bool

	outEOF   bool
	errEOF   bool
	done     bool
	timedOut bool
}

func newProcClient(owner procOwner, node string, argv []string, connectTO, commandTO time.Duration) *procClient {
	return &procClient{
		owner:          owner,
		node:           node,
		argv:           argv,
		connectTimeout: connectTO,
		commandTimeout: commandTO,
	}
}

// Launch starts the child with a fresh pipe triple and arms the connect
// and command deadlines.
func (c *procClient) Launch() error {
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
	c.owner.notifyPickup(c.node)
	return nil
}

func (c *procClient) ReadFds() []int {
	var fds []int
	if c.stdout != nil {
		fds = append(fds, int(c.stdout.Fd()))
	}
	if c.stderr != nil {
		fds = append(fds, int(c.stderr.Fd()))
	}
	return fds
}

func (c *procClient) WriteFds() []int {
	if c.stdin != nil && c.wbuf.Len() > 0 {
		return []int{int(c.stdin.Fd())}
	}
	return nil
}

// enqueue buffers p for the child's stdin. Interest is re-declared via
// Engine.Update by the owning worker.
func (c *procClient) enqueue(p []byte) {
	if c.stdin == nil {
		return
	}
	c.wbuf.Write(p)
}

// writeEOF closes stdin once the buffer drains.
func (c *procClient) writeEOF() {
	c.weof = true
	if c.wbuf.Len() == 0 {
		c.closeStdin()
	}
}

func (c *procClient) closeStdin() {
	if c.stdin != nil {
		c.stdin.Close()
		c.stdin = nil
	}
}

func (c *procClient) HandleReadable(fd int) error {
	switch {
	case c.stdout != nil && fd == int(c.stdout.Fd()):
		return c.drain(c.stdout, &c.outLine, Stdout, &c.outEOF)
	case c.stderr != nil && fd == int(c.stderr.Fd()):
		return c.drain(c.stderr, &c.errLine, Stderr, &c.errEOF)
	}
	return nil
}

// drain performs one read on a ready stream and forwards complete lines.
func (c *procClient) drain(f *os.File, partial *[]byte, stream Stream, eof *bool) error {
	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if n > 0 {
		if !c.sawBytes {
			c.sawBytes = true
			c.connectDL = time.Time{}
		}
		*partial = append(*partial, buf[:n]...)
		for {
			i := bytes.IndexByte(*partial, '\n')
			if i < 0 {
				break
			}
			line := (*partial)[:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			c.owner.notifyRead(c.node, stream, append([]byte(nil), line...))
			*partial = (*partial)[i+1:]
		}
	}
	if err == io.EOF || (err == nil && n == 0) {
		c.sawBytes = true
		c.connectDL = time.Time{}
		*eof = true
		if len(*partial) > 0 {
			c.owner.notifyRead(c.node, stream, append([]byte(nil), *partial...))
			*partial = nil
		}
		f.Close()
		if stream == Stdout {
			c.stdout = nil
		} else {
			c.stderr = nil
		}
		if c.outEOF && c.errEOF {
			c.reap()
		}
		return nil
	}
	if err != nil {
		return err
	}
	return nil
}

// reap collects the exit status once both output streams hit EOF and
// fires the HUP and per-destination close notifications.
func (c *procClient) reap() {
	if c.done {
		return
	}
	c.closeStdin()
	rc := 0
	if err := c.cmd.Wait(); err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			rc = exit.ExitCode()
			if rc < 0 {
				rc = syntheticRC
			}
		} else {
			rc = syntheticRC
		}
	}
	c.done = true
	c.owner.notifyHup(c.node, rc)
	c.owner.notifyClosed(c.node, false)
}

func (c *procClient) HandleWritable(fd int) error {
	if c.stdin == nil || c.wbuf.Len() == 0 {
		return nil
	}
	n, err := c.stdin.Write(c.wbuf.Bytes())
	if n > 0 {
		c.wbuf.Next(n)
		c.owner.notifyWritten(c.node, n)
	}
	if err != nil {
		c.closeStdin()
		return nil
	}
	if c.wbuf.Len() == 0 && c.weof {
		c.closeStdin()
	}
	return nil
}

func (c *procClient) Done() bool { return c.done }

// markDone flags a client that could not be launched.
func (c *procClient) markDone() { c.done = true }

func (c *procClient) ConnectDeadline() time.Time {
	if c.done || c.sawBytes {
		return time.Time{}
	}
	return c.connectDL
}

func (c *procClient) CommandDeadline() time.Time {
	if c.done {
		return time.Time{}
	}
	return c.commandDL
}

// TimeoutExpired kills the child and closes the destination with the
// timed-out marker. No HUP is reported for a timed-out destination.
func (c *procClient) TimeoutExpired() {
	if c.done {
		return
	}
	c.timedOut = true
	c.kill()
	c.done = true
	c.owner.notifyClosed(c.node, true)
}

// Abort kills the child without reporting a timeout.
func (c *procClient) Abort() {
	if c.done {
		return
	}
	c.kill()
	c.done = true
	c.owner.notifyClosed(c.node, false)
}

func (c *procClient) kill() {
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
	}
	c.closeStdin()
	if c.stdout != nil {
		c.stdout.Close()
		c.stdout = nil
	}
	if c.stderr != nil {
		c.stderr.Close()
		c.stderr = nil
	}
}
