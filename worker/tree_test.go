package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clustrd/clustrd/tree"
)

func mustTopology(t *testing.T, text string) *tree.Topology {
	t.Helper()
	topo, err := tree.ParseRoutes(text, nil)
	if err != nil {
		t.Fatal(err)
	}
	return topo
}

// fakeSsh writes a transport stand-in: it refuses connections to gw1
// with ssh's exit code 255 and runs the command locally for everything
// else.
func fakeSsh(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssh")
	script := `#!/bin/sh
# $1 is -oBatchMode=yes, $2 the destination, $3 the command
case "$2" in
gw1) exit 255 ;;
esac
exec /bin/sh -c "$3"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTreeWorkerGatewayFailureSparesSiblings(t *testing.T) {
	rt := newFakeRuntime(t)
	rt.info[InfoTopology] = mustTopology(t, "root: gw1\ngw1: leaf[1-2]")
	rt.info[InfoTopologyRoot] = "root"
	rt.info[InfoSshPath] = fakeSsh(t)

	rec := newRecorder()
	w := NewTreeWorker(mustNodes(t, "leaf[1-2],sib1"), "echo ok", rec)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	if err := rt.eng.Run(10 * time.Second); err != nil {
		t.Fatal(err)
	}
	if !rec.closed || rec.tout {
		t.Fatalf("closed=%v timedOut=%v", rec.closed, rec.tout)
	}
	// the unreachable gateway fails its whole subtree synthetically
	for _, leaf := range []string{"leaf1", "leaf2"} {
		if rc := rec.rcs[leaf]; rc != 255 {
			t.Fatalf("%s rc = %d, want 255", leaf, rc)
		}
	}
	// the sibling outside the gateway still ran
	if rc, ok := rec.rcs["sib1"]; !ok || rc != 0 {
		t.Fatalf("sib1 rc=%d ok=%v", rc, ok)
	}
	if got := strings.Join(rec.lines["sib1"], ","); got != "ok" {
		t.Fatalf("sib1 output %q", got)
	}
}

func TestGatewayClientDispatch(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewTreeWorker(mustNodes(t, "leaf[1-2]"), "uname", rec)
	w.attach(rt, rec, 2)
	w.state = Running

	sub := mustNodes(t, "leaf[1-2]")
	c := newGatewayClient(w, "gw1", nil, sub, tree.Control{}, 0, 0)

	// grooming folds identical output: one frame, folded key
	c.dispatch(tree.Frame{Type: tree.OUT, Key: "leaf[1-2]", Payload: []byte("same")})
	for _, leaf := range []string{"leaf1", "leaf2"} {
		if got := strings.Join(rec.lines[leaf], ","); got != "same" {
			t.Fatalf("%s lines %q", leaf, got)
		}
	}

	c.dispatch(tree.Frame{Type: tree.HUP, Key: "leaf1", Payload: tree.EncodeHup(4)})
	if rc := rec.rcs["leaf1"]; rc != 4 {
		t.Fatalf("leaf1 rc %d", rc)
	}

	// a downstream timeout closes the key with the timed-out marker
	c.dispatch(tree.Frame{Type: tree.TIMER, Key: "leaf2"})
	if !rec.closed || !rec.tout {
		t.Fatalf("closed=%v timedOut=%v after downstream timeout", rec.closed, rec.tout)
	}
	if _, ok := w.Retcode("leaf2"); ok {
		t.Fatal("timed-out key must not carry a return code")
	}
	if len(c.remaining) != 0 {
		t.Fatalf("remaining %v", c.remaining)
	}
}

func TestGatewayClientFramingErrorFailsRemaining(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewTreeWorker(mustNodes(t, "leaf[1-2]"), "uname", rec)
	w.attach(rt, rec, 2)
	w.state = Running

	sub := mustNodes(t, "leaf[1-2]")
	c := newGatewayClient(w, "gw1", nil, sub, tree.Control{}, 0, 0)

	r, wp, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer wp.Close()
	wp.Write([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	c.stdout = r
	if err := c.drainFrames(); err != nil {
		t.Fatal(err)
	}
	for _, leaf := range []string{"leaf1", "leaf2"} {
		if rc := rec.rcs[leaf]; rc != 255 {
			t.Fatalf("%s rc = %d, want synthetic 255", leaf, rc)
		}
	}
	if !rec.closed {
		t.Fatal("worker did not close after channel failure")
	}
}
