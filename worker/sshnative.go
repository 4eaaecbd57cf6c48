package worker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/clustrd/clustrd/nodeset"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/terminal"
)

// extra info keys honored by the native transport.
const (
	InfoSshPassword = "ssh_password"
	InfoSshPort     = "ssh_port"
)

// NativeSshWorker runs commands over an in-process ssh client instead of
// the ssh binary. The remote session's streams are bridged onto pipes so
// the engine drives this worker exactly like a subprocess one; only the
// dial and the stream pumps run off the reactor goroutine, and they
// never call back into it.
type NativeSshWorker struct {
	*ExecWorker
}

// NewNativeSshWorker targets command at nodes using the in-process ssh
// transport.
func NewNativeSshWorker(nodes *nodeset.NodeSet, command string, handler EventHandler) *NativeSshWorker {
	w := &NativeSshWorker{ExecWorker: NewExecWorker(nodes, command, handler)}
	return w
}

func (w *NativeSshWorker) Schedule(rt Runtime) error {
	user := infoString(rt, InfoSshUser, os.Getenv("USER"))
	port := infoString(rt, InfoSshPort, "22")
	password := infoString(rt, InfoSshPassword, "")
	if password == "" && terminal.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "%s's password: ", user)
		if b, err := terminal.ReadPassword(int(os.Stdin.Fd())); err == nil {
			password = string(b)
		}
		fmt.Fprintln(os.Stderr)
	}
	config := &ssh.ClientConfig{
		User:            user,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         w.connectTimeout,
	}
	if password != "" {
		config.Auth = []ssh.AuthMethod{ssh.Password(password)}
	}
	w.makeClient = func(node, cmd string) destClient {
		return newNativeSshClient(w.ExecWorker, node, port, cmd, config,
			w.connectTimeout, w.commandTimeout)
	}
	return w.ExecWorker.Schedule(rt)
}

// nativeSshClient is one remote session bridged onto a pipe triple. The
// pump goroutine owns the ssh connection; the reactor side only ever
// touches the local pipe ends.
type nativeSshClient struct {
	owner   *ExecWorker
	node    string
	addr    string
	command string
	config  *ssh.ClientConfig

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	wpending []byte
	weof     bool

	outLine []byte
	errLine []byte

	connectDL time.Time
	commandDL time.Time
	sawBytes  bool

	rc      int64
	outEOF  bool
	errEOF  bool
	done    bool
	aborted int32
}

func newNativeSshClient(owner *ExecWorker, node, port, command string, config *ssh.ClientConfig, connectTO, commandTO time.Duration) *nativeSshClient {
	c := &nativeSshClient{
		owner:   owner,
		node:    node,
		addr:    fmt.Sprintf("%s:%s", node, port),
		command: command,
		config:  config,
	}
	now := time.Now()
	if connectTO > 0 {
		c.connectDL = now.Add(connectTO)
	}
	if commandTO > 0 {
		c.commandDL = now.Add(commandTO)
	}
	return c
}

// Launch opens the bridge pipes and hands the ssh session to the pump
// goroutine.
func (c *nativeSshClient) Launch() error {
	outR, outW, err := os.Pipe()
	if err != nil {
		return err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return err
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return err
	}
	c.stdout = outR
	c.stderr = errR
	c.stdin = inW
	go c.pump(outW, errW, inR)
	c.owner.notifyPickup(c.node)
	return nil
}

// pump dials, runs the command, and closes the write ends so the reactor
// observes EOF; the exit code is parked for reap.
func (c *nativeSshClient) pump(outW, errW *os.File, inR *os.File) {
	defer outW.Close()
	defer errW.Close()
	defer inR.Close()

	atomic.StoreInt64(&c.rc, syntheticRC)
	conn, err := ssh.Dial("tcp", c.addr, c.config)
	if err != nil {
		return
	}
	defer conn.Close()
	session, err := conn.NewSession()
	if err != nil {
		return
	}
	defer session.Close()
	session.Stdout = outW
	session.Stderr = errW
	session.Stdin = inR

	err = session.Run(c.command)
	switch e := err.(type) {
	case nil:
		atomic.StoreInt64(&c.rc, 0)
	case *ssh.ExitError:
		atomic.StoreInt64(&c.rc, int64(e.ExitStatus()))
	}
}

func (c *nativeSshClient) ReadFds() []int {
	var fds []int
	if c.stdout != nil {
		fds = append(fds, int(c.stdout.Fd()))
	}
	if c.stderr != nil {
		fds = append(fds, int(c.stderr.Fd()))
	}
	return fds
}

func (c *nativeSshClient) WriteFds() []int {
	if c.stdin != nil && len(c.wpending) > 0 {
		return []int{int(c.stdin.Fd())}
	}
	return nil
}

func (c *nativeSshClient) enqueue(p []byte) {
	if c.stdin == nil {
		return
	}
	c.wpending = append(c.wpending, p...)
}

func (c *nativeSshClient) writeEOF() {
	c.weof = true
	if len(c.wpending) == 0 {
		c.closeStdin()
	}
}

func (c *nativeSshClient) closeStdin() {
	if c.stdin != nil {
		c.stdin.Close()
		c.stdin = nil
	}
}

func (c *nativeSshClient) HandleReadable(fd int) error {
	switch {
	case c.stdout != nil && fd == int(c.stdout.Fd()):
		return c.drain(c.stdout, &c.outLine, Stdout, &c.outEOF)
	case c.stderr != nil && fd == int(c.stderr.Fd()):
		return c.drain(c.stderr, &c.errLine, Stderr, &c.errEOF)
	}
	return nil
}

func (c *nativeSshClient) drain(f *os.File, partial *[]byte, stream Stream, eof *bool) error {
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
	return err
}

func (c *nativeSshClient) reap() {
	if c.done {
		return
	}
	c.closeStdin()
	c.done = true
	c.owner.notifyHup(c.node, int(atomic.LoadInt64(&c.rc)))
	c.owner.notifyClosed(c.node, false)
}

func (c *nativeSshClient) HandleWritable(fd int) error {
	if c.stdin == nil || len(c.wpending) == 0 {
		return nil
	}
	n, err := c.stdin.Write(c.wpending)
	if n > 0 {
		c.wpending = c.wpending[n:]
		c.owner.notifyWritten(c.node, n)
	}
	if err != nil {
		c.closeStdin()
		return nil
	}
	if len(c.wpending) == 0 && c.weof {
		c.closeStdin()
	}
	return nil
}

func (c *nativeSshClient) Done() bool { return c.done }

func (c *nativeSshClient) markDone() { c.done = true }

func (c *nativeSshClient) ConnectDeadline() time.Time {
	if c.done || c.sawBytes {
		return time.Time{}
	}
	return c.connectDL
}

func (c *nativeSshClient) CommandDeadline() time.Time {
	if c.done {
		return time.Time{}
	}
	return c.commandDL
}

func (c *nativeSshClient) TimeoutExpired() {
	if c.done {
		return
	}
	c.closeAll()
	c.done = true
	c.owner.notifyClosed(c.node, true)
}

func (c *nativeSshClient) Abort() {
	if c.done {
		return
	}
	atomic.StoreInt32(&c.aborted, 1)
	c.closeAll()
	c.done = true
	c.owner.notifyClosed(c.node, false)
}

// closeAll drops the local pipe ends; the pump goroutine notices the
// broken pipes and tears the connection down on its own.
func (c *nativeSshClient) closeAll() {
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
