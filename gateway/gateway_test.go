package gateway

import (
	"bytes"
	"os"
	"testing"

	"github.com/clustrd/clustrd/tree"
	"github.com/clustrd/clustrd/worker"
)

func TestRelayFoldsIdenticalOutputPerClass(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	relay := newRelay(w)
	relay.HandleRead(nil, "n1", worker.Stdout, []byte("same"))
	relay.HandleRead(nil, "n2", worker.Stdout, []byte("same"))
	relay.HandleRead(nil, "n3", worker.Stdout, []byte("diff"))
	relay.flush()

	first, err := tree.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	second, err := tree.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if first.Type != tree.OUT || first.Key != "n[1-2]" || string(first.Payload) != "same" {
		t.Fatalf("first frame %v %q %q", first.Type, first.Key, first.Payload)
	}
	if second.Type != tree.OUT || second.Key != "n3" || string(second.Payload) != "diff" {
		t.Fatalf("second frame %v %q %q", second.Type, second.Key, second.Payload)
	}
}

func TestRelayForwardsHupAndEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	relay := newRelay(w)
	relay.HandleHup(nil, "n7", 3)
	relay.finish()

	hup, err := tree.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if hup.Type != tree.HUP || hup.Key != "n7" {
		t.Fatalf("hup frame %v %q", hup.Type, hup.Key)
	}
	if rc, err := tree.DecodeHup(hup.Payload); err != nil || rc != 3 {
		t.Fatalf("rc=%d err=%v", rc, err)
	}
	eof, err := tree.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if eof.Type != tree.EOF {
		t.Fatalf("eof frame %v", eof.Type)
	}
}

func TestRelayEarlyFlushOnOverrun(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	relay := newRelay(w)
	for i := 0; i < groomLimit; i++ {
		relay.HandleRead(nil, "n1", worker.Stdout, []byte("line"))
	}
	if len(relay.pending) != 0 {
		t.Fatalf("%d lines still pending past the grooming bound", len(relay.pending))
	}
}

// stubWorker records the stdin plumbing the feeder drives.
type stubWorker struct {
	written bytes.Buffer
	eof     bool
}

func (s *stubWorker) Schedule(rt worker.Runtime) error { return nil }
func (s *stubWorker) Write(p []byte)                   { s.written.Write(p) }
func (s *stubWorker) SetWriteEOF()                     { s.eof = true }
func (s *stubWorker) Abort()                           {}
func (s *stubWorker) State() worker.State              { return worker.Running }
func (s *stubWorker) TimedOut() bool                   { return false }
func (s *stubWorker) Targets() []string                { return []string{"n1"} }
func (s *stubWorker) Retcode(node string) (int, bool)  { return 0, false }

func TestStdinFeederRelaysInAndEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	stub := &stubWorker{}
	feeder := newStdinFeeder(r, stub)

	if err := tree.WriteFrame(w, tree.Frame{Type: tree.IN, Payload: []byte("ping\n")}); err != nil {
		t.Fatal(err)
	}
	if err := tree.WriteFrame(w, tree.Frame{Type: tree.EOF}); err != nil {
		t.Fatal(err)
	}
	if err := feeder.HandleReadable(int(r.Fd())); err != nil {
		t.Fatal(err)
	}
	if stub.written.String() != "ping\n" {
		t.Fatalf("stdin relayed %q", stub.written.String())
	}
	if !stub.eof {
		t.Fatal("EOF frame did not close worker stdin")
	}
	if !feeder.Done() {
		t.Fatal("feeder still watching after EOF")
	}
}
