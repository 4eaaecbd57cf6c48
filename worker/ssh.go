package worker

import (
	"fmt"

	"github.com/clustrd/clustrd/nodeset"
)

// connection options looked up on the task info dictionary.
const (
	InfoSshUser    = "ssh_user"
	InfoSshPath    = "ssh_path"
	InfoSshOptions = "ssh_options"
	InfoRshPath    = "rsh_path"
	InfoScpPath    = "scp_path"
)

func infoString(rt Runtime, key, def string) string {
	if v, ok := rt.Info(key); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func infoStrings(rt Runtime, key string) []string {
	v, ok := rt.Info(key)
	if !ok {
		return nil
	}
	switch opts := v.(type) {
	case []string:
		return opts
	case string:
		if opts == "" {
			return nil
		}
		return []string{opts}
	}
	return nil
}

// SshWorker runs the command on every target through the ssh binary, one
// child per destination. ssh remains an opaque subprocess: connection
// and authentication failures surface as its exit code 255.
type SshWorker struct {
	*ExecWorker
}

// NewSshWorker targets command at nodes over ssh.
func NewSshWorker(nodes *nodeset.NodeSet, command string, handler EventHandler) *SshWorker {
	return &SshWorker{ExecWorker: NewExecWorker(nodes, command, handler)}
}

// sshArgv synthesizes the remote shell argv for one destination.
func sshArgv(path, user string, options []string, node, cmd string) []string {
	argv := []string{path, "-oBatchMode=yes"}
	argv = append(argv, options...)
	dest := node
	if user != "" {
		dest = fmt.Sprintf("%s@%s", user, node)
	}
	return append(argv, dest, cmd)
}

func (w *SshWorker) Schedule(rt Runtime) error {
	path := infoString(rt, InfoSshPath, "ssh")
	user := infoString(rt, InfoSshUser, "")
	options := infoStrings(rt, InfoSshOptions)
	w.buildArgv = func(node, cmd string) []string {
		return sshArgv(path, user, options, node, cmd)
	}
	return w.ExecWorker.Schedule(rt)
}

// RshWorker is the rsh flavor of SshWorker.
type RshWorker struct {
	*ExecWorker
}

// NewRshWorker targets command at nodes over rsh.
func NewRshWorker(nodes *nodeset.NodeSet, command string, handler EventHandler) *RshWorker {
	return &RshWorker{ExecWorker: NewExecWorker(nodes, command, handler)}
}

func (w *RshWorker) Schedule(rt Runtime) error {
	path := infoString(rt, InfoRshPath, "rsh")
	user := infoString(rt, InfoSshUser, "")
	w.buildArgv = func(node, cmd string) []string {
		argv := []string{path}
		if user != "" {
			argv = append(argv, "-l", user)
		}
		return append(argv, node, cmd)
	}
	return w.ExecWorker.Schedule(rt)
}
