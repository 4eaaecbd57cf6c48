package worker

import (
	"fmt"
	"path/filepath"

	"github.com/clustrd/clustrd/nodeset"
)

// CopyWorker pushes a local file or directory to every target node with
// one scp child per destination (binary from scp_path, invoked with
// -oBatchMode=yes -r), under the same event contract as command workers:
// HUP carries scp's exit code.
type CopyWorker struct {
	*ExecWorker
	src, dst string
	reverse  bool
}

// NewCopyWorker copies src to dst on every node in nodes.
func NewCopyWorker(nodes *nodeset.NodeSet, src, dst string, handler EventHandler) *CopyWorker {
	w := &CopyWorker{ExecWorker: NewExecWorker(nodes, "", handler), src: src, dst: dst}
	return w
}

// NewRcopyWorker pulls src from every node in nodes into the local
// directory dst; each node's copy lands in dst/<basename>.<node> so
// concurrent pulls cannot clobber each other.
func NewRcopyWorker(nodes *nodeset.NodeSet, src, dst string, handler EventHandler) *CopyWorker {
	w := &CopyWorker{ExecWorker: NewExecWorker(nodes, "", handler), src: src, dst: dst, reverse: true}
	return w
}

func (w *CopyWorker) Schedule(rt Runtime) error {
	path := infoString(rt, InfoScpPath, "scp")
	user := infoString(rt, InfoSshUser, "")
	options := infoStrings(rt, InfoSshOptions)
	w.buildArgv = func(node, _ string) []string {
		argv := []string{path, "-oBatchMode=yes", "-r"}
		argv = append(argv, options...)
		dest := node
		if user != "" {
			dest = fmt.Sprintf("%s@%s", user, node)
		}
		if w.reverse {
			local := filepath.Join(w.dst, fmt.Sprintf("%s.%s", filepath.Base(w.src), node))
			return append(argv, fmt.Sprintf("%s:%s", dest, w.src), local)
		}
		return append(argv, w.src, fmt.Sprintf("%s:%s", dest, w.dst))
	}
	return w.ExecWorker.Schedule(rt)
}
