// Package pool implements a pre-forking worker pool: a master process
// that keeps a target number of worker processes alive, routes trapped
// signals through a self-pipe into its control loop, and scales or
// drains the pool without racing against asynchronous signal delivery.
package pool

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/preforkdev/prefork/internal/events"
	"github.com/preforkdev/prefork/internal/metrics"
	"github.com/preforkdev/prefork/internal/relay"
)

// controlQuit is the single control byte written to a worker's control
// pipe, meaning "stop at the next safe point".
const controlQuit = 'Q'

// worker is one registry entry: a live child process and the write end
// of its private control pipe. The master is the only writer of that
// pipe; the worker is its only reader.
type worker struct {
	pid     int
	control *os.File
	status  WorkerStatus
}

// ChildWaiter performs one non-blocking wait-for-any-child. It returns
// pid 0 when no child is immediately reapable.
type ChildWaiter func() (pid int, status int, err error)

// waitChild wraps wait4 with WNOHANG. A terminating signal is folded
// into the conventional 128+signo exit status.
func waitChild() (int, int, error) {
	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
	if err != nil {
		if err == syscall.ECHILD {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	status := ws.ExitStatus()
	if ws.Signaled() {
		status = 128 + int(ws.Signal())
	}
	return pid, status, nil
}

// SupervisorConfig configures the supervisor.
type SupervisorConfig struct {
	Workers int      // desired pool size (default 1)
	Command string   // worker executable (default: os.Executable())
	Args    []string // worker argv tail (default: os.Args[1:])
	PIDFile string   // master PID file path, empty disables

	Logger  *slog.Logger
	Metrics *metrics.Collector // optional
	Bus     *events.Bus        // optional; created when nil
	Spawner Spawner            // optional; ExecSpawner when nil
	Wait    ChildWaiter        // optional; wait4 when nil
}

// Supervisor is the master-process side of the pool. One instance per
// process; Run blocks until the registry is empty.
type Supervisor struct {
	mu      sync.Mutex
	status  Status
	target  int
	workers map[int]*worker

	sigR, sigW *os.File
	relay      *relay.Relay

	spawner Spawner
	wait    ChildWaiter
	bus     *events.Bus
	logger  *slog.Logger
	metrics *metrics.Collector
	pidFile string
	command string
	args    []string
}

// New creates a supervisor.
func New(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = &ExecSpawner{}
	}
	wait := cfg.Wait
	if wait == nil {
		wait = waitChild
	}
	target := cfg.Workers
	if target < 1 {
		target = 1
	}

	return &Supervisor{
		status:  StatusStarting,
		target:  target,
		workers: make(map[int]*worker),
		spawner: spawner,
		wait:    wait,
		bus:     bus,
		logger:  logger,
		metrics: cfg.Metrics,
		pidFile: cfg.PIDFile,
		command: cfg.Command,
		args:    cfg.Args,
	}
}

// Bus returns the event bus. Events are published synchronously while
// the supervisor's internal lock is held, so handlers must not call
// back into the Supervisor; record what you need and return.
func (s *Supervisor) Bus() *events.Bus { return s.bus }

// Status returns the supervisor lifecycle status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// WorkerCount returns the number of registry entries.
func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// TargetWorkers returns the desired pool size.
func (s *Supervisor) TargetWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// WorkerPids returns the pids currently in the registry.
func (s *Supervisor) WorkerPids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]int, 0, len(s.workers))
	for pid := range s.workers {
		pids = append(pids, pid)
	}
	return pids
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// AddWorker raises the target pool size by one and spawns to target.
// It is a no-op while the supervisor is shutting down, so a late scale-up
// request cannot resurrect a draining pool.
func (s *Supervisor) AddWorker() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusShutdown || s.status == StatusEnded {
		return nil
	}
	s.target++
	s.logger.Info("adding worker", "target", s.target)
	s.publishScaled()
	return s.spawnToTargetLocked()
}

// RemoveWorker lowers the target pool size by one and asks exactly one
// running worker to stop. The pool never shrinks below one worker; which
// worker is picked is unspecified.
func (s *Supervisor) RemoveWorker() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target <= 1 {
		return
	}
	s.target--
	s.logger.Info("removing worker", "target", s.target)
	s.publishScaled()
	for _, w := range s.workers {
		if w.status == WorkerRunning {
			s.shutdownWorkerLocked(w)
			break
		}
	}
}

// Shutdown begins supervisor-wide shutdown: the target is forced to zero
// so no further spawns occur, and every worker is asked to stop.
// Invoking it again while already shutting down is a no-op.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusShutdown || s.status == StatusEnded {
		return
	}
	s.logger.Info("shutting down")
	s.status = StatusShutdown
	s.target = 0
	s.publishScaled()
	s.bus.Publish(events.Event{Type: events.SupervisorStateStopping, Data: map[string]string{}})
	s.shutdownAllLocked()
}

// ShutdownWorker asks the worker with the given pid to stop at its next
// safe point. Idempotent; unknown pids are ignored.
func (s *Supervisor) ShutdownWorker(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[pid]; ok {
		s.shutdownWorkerLocked(w)
	}
}

// respawnWorkers asks every running worker to stop; the reap cycle then
// spawns replacements up to the unchanged target, effectively restarting
// the pool.
func (s *Supervisor) respawnWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("respawning workers")
	for _, w := range s.workers {
		if w.status == WorkerRunning {
			s.shutdownWorkerLocked(w)
		}
	}
}

func (s *Supervisor) shutdownAllLocked() {
	for _, w := range s.workers {
		s.shutdownWorkerLocked(w)
	}
}

// shutdownWorkerLocked marks the worker as shutting down and sends the
// quit byte. The write is fire-and-forget: a worker that died underneath
// us is cleaned up by the pending child-exit message, not here.
func (s *Supervisor) shutdownWorkerLocked(w *worker) {
	if w.status != WorkerRunning {
		return
	}
	w.status = WorkerShutdown
	if _, err := w.control.Write([]byte{controlQuit}); err != nil {
		s.logger.Warn("control write failed", "worker", w.pid, "error", err)
	}
	s.bus.Publish(events.Event{
		Type: events.WorkerShutdownRequested,
		Data: map[string]string{"pid": strconv.Itoa(w.pid)},
	})
}

// spawnToTargetLocked spawns workers until the registry reaches the
// target size. Calling it at target is a no-op.
func (s *Supervisor) spawnToTargetLocked() error {
	for len(s.workers) < s.target {
		if err := s.spawnWorkerLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) spawnWorkerLocked() error {
	command := s.command
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot resolve worker executable: %w", err)
		}
		command = exe
	}
	args := s.args
	if args == nil {
		args = os.Args[1:]
	}

	// Control pipe: master keeps the write end, the worker inherits the
	// read end. The worker also inherits the signal pipe write end so
	// signals it traps are relayed back to the master with its pid.
	cr, cw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("cannot create control pipe: %w", err)
	}

	pid, err := s.spawner.Spawn(SpawnConfig{
		Command:    command,
		Args:       args,
		Env:        workerEnv(),
		ExtraFiles: []*os.File{s.sigW, cr},
	})
	cr.Close()
	if err != nil {
		cw.Close()
		return fmt.Errorf("cannot spawn worker: %w", err)
	}

	s.workers[pid] = &worker{pid: pid, control: cw, status: WorkerRunning}
	s.logger.Info("started worker", "worker", pid)
	if s.metrics != nil {
		s.metrics.IncSpawn()
		s.metrics.SetWorkersRunning(len(s.workers))
	}
	s.bus.Publish(events.Event{
		Type: events.WorkerSpawned,
		Data: map[string]string{"pid": strconv.Itoa(pid)},
	})
	return nil
}

// reap collects every immediately reapable child, releases its registry
// entry and control pipe, then spawns back to target so the pool
// self-heals after unexpected worker death. During shutdown the target
// is zero, so no respawn occurs.
func (s *Supervisor) reap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.workers) > 0 {
		pid, status, err := s.wait()
		if err != nil {
			return fmt.Errorf("wait for child: %w", err)
		}
		if pid <= 0 {
			break
		}
		w, ok := s.workers[pid]
		if !ok {
			s.logger.Warn("reaped unknown child", "pid", pid, "status", status)
			continue
		}
		s.logger.Info("worker ended", "worker", pid, "status", status)
		w.control.Close()
		delete(s.workers, pid)
		if s.metrics != nil {
			s.metrics.IncExit(status == 0)
			s.metrics.SetWorkersRunning(len(s.workers))
		}
		s.bus.Publish(events.Event{
			Type: events.WorkerExited,
			Data: map[string]string{
				"pid":    strconv.Itoa(pid),
				"status": strconv.Itoa(status),
			},
		})
	}

	return s.spawnToTargetLocked()
}

func (s *Supervisor) publishScaled() {
	if s.metrics != nil {
		s.metrics.SetWorkersTarget(s.target)
	}
	s.bus.Publish(events.Event{
		Type: events.PoolScaled,
		Data: map[string]string{"target": strconv.Itoa(s.target)},
	})
}
