package worker

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clustrd/clustrd/engine"
	"github.com/clustrd/clustrd/nodeset"
)

// fakeRuntime drives workers without a full task.
type fakeRuntime struct {
	eng  *engine.Engine
	info map[string]interface{}
}

func newFakeRuntime(t *testing.T) *fakeRuntime {
	t.Helper()
	eng, err := engine.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eng.Close)
	return &fakeRuntime{eng: eng, info: make(map[string]interface{})}
}

func (rt *fakeRuntime) Engine() *engine.Engine { return rt.eng }

func (rt *fakeRuntime) Info(key string) (interface{}, bool) {
	v, ok := rt.info[key]
	return v, ok
}

func (rt *fakeRuntime) Events(user EventHandler) EventHandler {
	if user == nil {
		return DefaultHandler{}
	}
	return user
}

// recorder collects the event stream.
type recorder struct {
	DefaultHandler
	mu     sync.Mutex
	events []string
	lines  map[string][]string
	rcs    map[string]int
	hupAt  map[string]time.Time
	closed bool
	tout   bool
}

func newRecorder() *recorder {
	return &recorder{
		lines: make(map[string][]string),
		rcs:   make(map[string]int),
		hupAt: make(map[string]time.Time),
	}
}

func (r *recorder) HandleStart(w Worker) { r.events = append(r.events, "start") }

func (r *recorder) HandlePickup(w Worker, node string) {
	r.events = append(r.events, "pickup:"+node)
}

func (r *recorder) HandleRead(w Worker, node string, s Stream, b []byte) {
	if s == Stdout {
		r.lines[node] = append(r.lines[node], string(b))
	}
}

func (r *recorder) HandleHup(w Worker, node string, rc int) {
	r.rcs[node] = rc
	r.hupAt[node] = time.Now()
	r.events = append(r.events, fmt.Sprintf("hup:%s:%d", node, rc))
}

func (r *recorder) HandleClose(w Worker, timedOut bool) {
	r.closed = true
	r.tout = timedOut
	r.events = append(r.events, "close")
}

func mustNodes(t *testing.T, s string) *nodeset.NodeSet {
	t.Helper()
	ns, err := nodeset.Parse(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	return ns
}

func TestExecWorkerEchoesPerNode(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewExecWorker(mustNodes(t, "n[1-3]"), "echo %h", rec)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	if err := rt.eng.Run(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if !rec.closed || rec.tout {
		t.Fatalf("closed=%v timedOut=%v", rec.closed, rec.tout)
	}
	for _, node := range []string{"n1", "n2", "n3"} {
		if got := strings.Join(rec.lines[node], ","); got != node {
			t.Fatalf("node %s output %q", node, got)
		}
		if rc := rec.rcs[node]; rc != 0 {
			t.Fatalf("node %s rc %d", node, rc)
		}
	}
	if w.State() != Closed {
		t.Fatalf("state = %v", w.State())
	}
}

func TestExecWorkerEventOrderPerDestination(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewExecWorker(mustNodes(t, "n1"), "echo hi", rec)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	if err := rt.eng.Run(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	want := []string{"start", "pickup:n1", "hup:n1:0", "close"}
	if len(rec.events) != len(want) {
		t.Fatalf("events %v", rec.events)
	}
	for i, ev := range want {
		if rec.events[i] != ev {
			t.Fatalf("events %v, want %v", rec.events, want)
		}
	}
}

func TestExecWorkerNonZeroExit(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewExecWorker(mustNodes(t, "n1"), "exit 7", rec)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	if err := rt.eng.Run(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if rc, ok := w.Retcode("n1"); !ok || rc != 7 {
		t.Fatalf("rc=%d ok=%v", rc, ok)
	}
}

func TestExecWorkerStdinRoundTrip(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewExecWorker(mustNodes(t, "n[1-2]"), "cat", rec)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("ping\n"))
	w.SetWriteEOF()
	if err := rt.eng.Run(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	for _, node := range []string{"n1", "n2"} {
		if got := strings.Join(rec.lines[node], ","); got != "ping" {
			t.Fatalf("node %s got %q", node, got)
		}
	}
}

func TestExecWorkerCommandTimeout(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewExecWorker(mustNodes(t, "n1"), "sleep 5", rec)
	w.SetCommandTimeout(200 * time.Millisecond)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := rt.eng.Run(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout did not cut the run short")
	}
	if !rec.closed || !rec.tout {
		t.Fatalf("closed=%v timedOut=%v", rec.closed, rec.tout)
	}
	if _, ok := w.Retcode("n1"); ok {
		t.Fatal("timed-out destination must not report a return code")
	}
	if !w.TimedOut() {
		t.Fatal("worker must carry the timed-out flag")
	}
}

func TestFanoutOneSequentialisesHups(t *testing.T) {
	rt := newFakeRuntime(t)
	rt.eng.SetFanout(1)
	rec := newRecorder()
	w := NewExecWorker(mustNodes(t, "n[40-42]"), "sleep 0.3", rec)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	if err := rt.eng.Run(10 * time.Second); err != nil {
		t.Fatal(err)
	}
	var stamps []time.Time
	for _, node := range []string{"n40", "n41", "n42"} {
		at, ok := rec.hupAt[node]
		if !ok {
			t.Fatalf("no hup for %s", node)
		}
		stamps = append(stamps, at)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 250*time.Millisecond {
			t.Fatalf("hups %v apart, want sequential", gap)
		}
	}
}

func TestPopenWorkerLocalKey(t *testing.T) {
	rt := newFakeRuntime(t)
	rec := newRecorder()
	w := NewPopenWorker("echo out", rec)
	if err := w.Schedule(rt); err != nil {
		t.Fatal(err)
	}
	if err := rt.eng.Run(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(rec.lines["local"], ","); got != "out" {
		t.Fatalf("popen output %q", got)
	}
	if rc, ok := w.Retcode("local"); !ok || rc != 0 {
		t.Fatalf("rc=%d ok=%v", rc, ok)
	}
}

func TestExpandCommandPlaceholders(t *testing.T) {
	got := expandCommand("run %h rank %n of %hosts", "n3", 2, "n[1-5]")
	want := "run n3 rank 2 of n[1-5]"
	if got != want {
		t.Fatalf("expand = %q, want %q", got, want)
	}
}

func TestSshArgvSynthesis(t *testing.T) {
	argv := sshArgv("/usr/bin/ssh", "root", []string{"-oStrictHostKeyChecking=no"}, "n1", "uname")
	want := "/usr/bin/ssh -oBatchMode=yes -oStrictHostKeyChecking=no root@n1 uname"
	if got := strings.Join(argv, " "); got != want {
		t.Fatalf("argv = %q, want %q", got, want)
	}
	argv = sshArgv("ssh", "", nil, "n2", "true")
	if got := strings.Join(argv, " "); got != "ssh -oBatchMode=yes n2 true" {
		t.Fatalf("argv = %q", got)
	}
}
