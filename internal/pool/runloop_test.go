package pool

import (
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/preforkdev/prefork/internal/events"
	"github.com/preforkdev/prefork/internal/logging"
	"github.com/preforkdev/prefork/internal/relay"
	"github.com/preforkdev/prefork/internal/testutil"
)

// fakeExits is an injectable ChildWaiter fed by tests.
type fakeExits struct {
	mu    sync.Mutex
	queue [][2]int
}

func (f *fakeExits) push(pid, status int) {
	f.mu.Lock()
	f.queue = append(f.queue, [2]int{pid, status})
	f.mu.Unlock()
}

func (f *fakeExits) wait() (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return 0, 0, nil
	}
	e := f.queue[0]
	f.queue = f.queue[1:]
	return e[0], e[1], nil
}

func loopSupervisor(t *testing.T, workers int) (*Supervisor, *dupSpawner, *fakeExits) {
	t.Helper()
	spawner := newDupSpawner()
	exits := &fakeExits{}
	s := New(SupervisorConfig{
		Workers: workers,
		Command: "/bin/false", // never executed; MockSpawner intercepts
		Args:    []string{},
		Logger:  logging.Discard(),
		Spawner: spawner,
		Wait:    exits.wait,
	})
	t.Cleanup(func() {
		for _, f := range spawner.controls {
			f.Close()
		}
	})
	return s, spawner, exits
}

func raise(t *testing.T, sig syscall.Signal) {
	t.Helper()
	if err := syscall.Kill(os.Getpid(), sig); err != nil {
		t.Fatalf("raise %v: %v", sig, err)
	}
}

// shutdownPids returns pids whose registry status is SHUTDOWN.
func shutdownPids(s *Supervisor) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pids []int
	for pid, w := range s.workers {
		if w.status == WorkerShutdown {
			pids = append(pids, pid)
		}
	}
	return pids
}

// TestRunLifecycle drives a full supervisor run with real signals: scale
// up via SIGUSR1, scale down via SIGUSR2, then drain with SIGTERM. Exits
// are injected through the fake waiter and announced with real SIGCHLD.
func TestRunLifecycle(t *testing.T) {
	s, _, exits := loopSupervisor(t, 2)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	if !testutil.WaitFor(t, 5*time.Second, func() bool {
		return s.Status() == StatusRunning && s.WorkerCount() == 2
	}) {
		t.Fatalf("pool did not stabilize: status=%s count=%d", s.Status(), s.WorkerCount())
	}

	// Scale up.
	raise(t, syscall.SIGUSR1)
	if !testutil.WaitFor(t, 5*time.Second, func() bool { return s.WorkerCount() == 3 }) {
		t.Fatalf("WorkerCount() = %d after SIGUSR1, want 3", s.WorkerCount())
	}
	if got := s.TargetWorkers(); got != 3 {
		t.Errorf("TargetWorkers() = %d, want 3", got)
	}

	// Scale down: exactly one worker is asked to stop; the registry
	// shrinks once its exit is reaped.
	raise(t, syscall.SIGUSR2)
	if !testutil.WaitFor(t, 5*time.Second, func() bool { return len(shutdownPids(s)) == 1 }) {
		t.Fatal("no worker marked for shutdown after SIGUSR2")
	}
	exits.push(shutdownPids(s)[0], 0)
	raise(t, syscall.SIGCHLD)
	if !testutil.WaitFor(t, 5*time.Second, func() bool { return s.WorkerCount() == 2 }) {
		t.Fatalf("WorkerCount() = %d after scale down, want 2", s.WorkerCount())
	}

	// Drain.
	raise(t, syscall.SIGTERM)
	if !testutil.WaitFor(t, 5*time.Second, func() bool { return s.Status() == StatusShutdown }) {
		t.Fatalf("Status() = %s after SIGTERM, want SHUTDOWN", s.Status())
	}
	for _, pid := range s.WorkerPids() {
		exits.push(pid, 0)
	}
	raise(t, syscall.SIGCHLD)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after drain")
	}

	if got := s.Status(); got != StatusEnded {
		t.Errorf("Status() = %s, want ENDED", got)
	}
	if got := s.WorkerCount(); got != 0 {
		t.Errorf("WorkerCount() = %d, want 0", got)
	}
}

// TestRunSelfHealing reaps a simulated out-of-band crash and expects the
// registry to return to target within one reap cycle.
func TestRunSelfHealing(t *testing.T) {
	s, _, exits := loopSupervisor(t, 2)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	if !testutil.WaitFor(t, 5*time.Second, func() bool { return s.WorkerCount() == 2 }) {
		t.Fatalf("pool did not stabilize: count=%d", s.WorkerCount())
	}

	crashed := s.WorkerPids()[0]
	exits.push(crashed, 137)
	raise(t, syscall.SIGCHLD)

	if !testutil.WaitFor(t, 5*time.Second, func() bool {
		if s.WorkerCount() != 2 {
			return false
		}
		for _, pid := range s.WorkerPids() {
			if pid == crashed {
				return false
			}
		}
		return true
	}) {
		t.Fatalf("pool did not self-heal: pids=%v", s.WorkerPids())
	}

	// Drain so Run returns.
	raise(t, syscall.SIGTERM)
	testutil.WaitFor(t, 5*time.Second, func() bool { return s.Status() == StatusShutdown })
	for _, pid := range s.WorkerPids() {
		exits.push(pid, 0)
	}
	raise(t, syscall.SIGCHLD)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
}

// TestLoopOrdering writes two scale messages directly into the signal
// pipe and checks they are dispatched in write order: add then remove
// must end at target 1, remove then add would end at target 2.
func TestLoopOrdering(t *testing.T) {
	s, _, exits := loopSupervisor(t, 1)

	var mu sync.Mutex
	var targets []string
	s.Bus().Subscribe(events.PoolScaled, func(ev events.Event) {
		mu.Lock()
		targets = append(targets, ev.Data["target"])
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	if !testutil.WaitFor(t, 5*time.Second, func() bool { return s.Status() == StatusRunning }) {
		t.Fatal("supervisor did not reach RUNNING")
	}

	s.mu.Lock()
	sigW := s.sigW
	s.mu.Unlock()

	self := os.Getpid()
	msgs := append(
		relay.Message{Kind: relay.KindAddWorker, Pid: self}.Encode(),
		relay.Message{Kind: relay.KindRemoveWorker, Pid: self}.Encode()...,
	)
	if _, err := sigW.Write(msgs); err != nil {
		t.Fatal(err)
	}

	// TargetWorkers() starts at 1, so also wait for both PoolScaled
	// events before inspecting the recorded sequence.
	testutil.WaitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(targets) >= 2
	})
	if !testutil.WaitFor(t, 5*time.Second, func() bool { return s.TargetWorkers() == 1 }) {
		t.Fatalf("TargetWorkers() = %d, want 1 (in-order dispatch)", s.TargetWorkers())
	}

	mu.Lock()
	got := append([]string(nil), targets...)
	mu.Unlock()
	want := []string{"2", "1"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("scale sequence = %v, want %v", got, want)
	}

	// Drain.
	s.Shutdown()
	for _, pid := range s.WorkerPids() {
		exits.push(pid, 0)
	}
	raise(t, syscall.SIGCHLD)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
}

// chunkedReader serves scripted Read results, so a stream can deliver a
// partial line together with an error the way an interrupted pipe read
// would.
type chunkedReader struct {
	chunks []struct {
		data string
		err  error
	}
}

func (r *chunkedReader) push(data string, err error) {
	r.chunks = append(r.chunks, struct {
		data string
		err  error
	}{data, err})
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return copy(p, c.data), c.err
}

// TestLoopResumesInterruptedLine feeds the loop a scale-up message whose
// line is split by an interrupted read. The fragment before the
// interruption must be kept and joined with the remainder, not decoded
// on its own.
func TestLoopResumesInterruptedLine(t *testing.T) {
	s, _, _ := loopSupervisor(t, 1)
	spawnToTarget(t, s)

	msg := relay.Message{Kind: relay.KindAddWorker, Pid: os.Getpid()}.Encode()
	r := &chunkedReader{}
	r.push(string(msg[:2]), syscall.EINTR)
	r.push(string(msg[2:]), nil)

	if err := s.loop(r); err != nil {
		t.Fatalf("loop() = %v, want nil", err)
	}
	if got := s.TargetWorkers(); got != 2 {
		t.Errorf("TargetWorkers() = %d, want 2 (message reassembled)", got)
	}
}

// TestDispatchWorkerOrigin checks that terminal signals observed by a
// worker shut down only that worker, while self-directed ones begin
// supervisor-wide shutdown.
func TestDispatchWorkerOrigin(t *testing.T) {
	s, spawner, _ := testSupervisorWithExits(t)
	spawnToTarget(t, s)
	pids := s.WorkerPids()

	if err := s.dispatch(relay.Message{Kind: relay.KindTerminate, Pid: pids[0]}); err != nil {
		t.Fatal(err)
	}
	if got := s.Status(); got != StatusStarting {
		t.Errorf("Status() = %s after worker-origin SIGTERM, want STARTING", got)
	}
	if b := spawner.readControl(t, pids[0]); b != controlQuit {
		t.Errorf("worker %d: control byte = %q, want %q", pids[0], b, controlQuit)
	}
	if b := spawner.readControl(t, pids[1]); b != 0 {
		t.Errorf("worker %d received stray control byte %q", pids[1], b)
	}

	if err := s.dispatch(relay.Message{Kind: relay.KindTerminate, Pid: os.Getpid()}); err != nil {
		t.Fatal(err)
	}
	if got := s.Status(); got != StatusShutdown {
		t.Errorf("Status() = %s after self SIGTERM, want SHUTDOWN", got)
	}
}

// TestDispatchHangup checks both hangup origins: self respawns the whole
// pool, a worker origin stops only that worker.
func TestDispatchHangup(t *testing.T) {
	s, spawner, _ := testSupervisorWithExits(t)
	spawnToTarget(t, s)
	pids := s.WorkerPids()

	if err := s.dispatch(relay.Message{Kind: relay.KindHangup, Pid: pids[1]}); err != nil {
		t.Fatal(err)
	}
	if b := spawner.readControl(t, pids[1]); b != controlQuit {
		t.Errorf("worker %d: control byte = %q, want %q", pids[1], b, controlQuit)
	}
	if b := spawner.readControl(t, pids[0]); b != 0 {
		t.Errorf("worker %d received stray control byte %q", pids[0], b)
	}

	if err := s.dispatch(relay.Message{Kind: relay.KindHangup, Pid: os.Getpid()}); err != nil {
		t.Fatal(err)
	}
	if got := s.TargetWorkers(); got != 2 {
		t.Errorf("TargetWorkers() = %d after respawn, want 2", got)
	}
	if b := spawner.readControl(t, pids[0]); b != controlQuit {
		t.Errorf("worker %d: control byte after respawn = %q, want %q", pids[0], b, controlQuit)
	}
}

// TestDispatchScaleIgnoresWorkerOrigin checks that add/remove requests
// are honored only when self-directed.
func TestDispatchScaleIgnoresWorkerOrigin(t *testing.T) {
	s, _, _ := testSupervisorWithExits(t)
	spawnToTarget(t, s)
	workerPid := s.WorkerPids()[0]

	if err := s.dispatch(relay.Message{Kind: relay.KindAddWorker, Pid: workerPid}); err != nil {
		t.Fatal(err)
	}
	if err := s.dispatch(relay.Message{Kind: relay.KindRemoveWorker, Pid: workerPid}); err != nil {
		t.Fatal(err)
	}
	if got := s.TargetWorkers(); got != 2 {
		t.Errorf("TargetWorkers() = %d, want 2 (worker-origin scale ignored)", got)
	}
}

func testSupervisorWithExits(t *testing.T) (*Supervisor, *dupSpawner, *fakeExits) {
	t.Helper()
	return loopSupervisor(t, 2)
}
