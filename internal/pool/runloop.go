package pool

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/preforkdev/prefork/internal/events"
	"github.com/preforkdev/prefork/internal/relay"
)

// Run drives the supervisor through its lifecycle: create the signal
// pipe, install the relay, spawn the pool, then read and dispatch signal
// messages until no workers remain. Blocks until the pool has drained.
func (s *Supervisor) Run() error {
	s.setStatus(StatusStarting)

	if err := WritePIDFile(s.pidFile); err != nil {
		return err
	}
	defer RemovePIDFile(s.pidFile)

	// The signal pipe is created once and never recreated; the write end
	// is shared with every worker so their trapped signals land in the
	// same stream.
	sigR, sigW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("cannot create signal pipe: %w", err)
	}
	defer sigR.Close()
	defer sigW.Close()

	s.mu.Lock()
	s.sigR, s.sigW = sigR, sigW
	s.mu.Unlock()

	s.relay = relay.New(s.logger)
	s.relay.Start(sigW)
	defer s.relay.Stop()

	s.setStatus(StatusRunning)
	s.bus.Publish(events.Event{Type: events.SupervisorStateRunning, Data: map[string]string{}})
	s.logger.Info("supervisor running", "target", s.TargetWorkers())

	if s.metrics != nil {
		s.metrics.SetWorkersTarget(s.TargetWorkers())
	}

	s.mu.Lock()
	err = s.spawnToTargetLocked()
	s.mu.Unlock()
	if err == nil {
		err = s.loop(sigR)
	}

	s.setStatus(StatusEnded)
	s.bus.Publish(events.Event{Type: events.SupervisorStateEnded, Data: map[string]string{}})
	s.logger.Info("supervisor ended")
	return err
}

// loop reads the signal pipe line by line and dispatches each decoded
// message until the registry is empty or the pipe reaches end-of-stream.
// This read is the supervisor's only blocking operation.
func (s *Supervisor) loop(r io.Reader) error {
	br := bufio.NewReader(r)

	// Holds bytes of a line whose read was cut short by EINTR, so the
	// message is reassembled instead of decoded in fragments.
	var partial string

	for s.WorkerCount() > 0 {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, syscall.EINTR) {
				partial += line
				continue
			}
			s.logger.Error("signal pipe read failed", "error", err)
			return fmt.Errorf("signal pipe read: %w", err)
		}
		line, partial = partial+line, ""

		msg, err := relay.Decode(line)
		if err != nil {
			s.logger.Error("cannot decode signal message", "error", err)
			return err
		}

		if s.metrics != nil {
			s.metrics.IncSignal(msg.Kind.String())
		}
		if err := s.dispatch(msg); err != nil {
			s.logger.Error("signal dispatch failed", "signal", msg.Kind.String(), "error", err)
			return err
		}
	}
	return nil
}

// dispatch routes one signal message. The origin pid distinguishes
// self-directed control signals from ones observed by a worker: a signal
// a worker trapped shuts down only that worker.
func (s *Supervisor) dispatch(msg relay.Message) error {
	self := os.Getpid()
	s.logger.Debug("dispatching signal", "signal", msg.Kind.String(), "from", msg.Pid)

	switch msg.Kind {
	case relay.KindChildExit:
		return s.reap()

	case relay.KindHangup:
		if msg.Pid == self {
			s.respawnWorkers()
		} else {
			s.ShutdownWorker(msg.Pid)
		}

	case relay.KindInterrupt, relay.KindQuit, relay.KindTerminate:
		if msg.Pid == self {
			s.Shutdown()
		} else {
			s.ShutdownWorker(msg.Pid)
		}

	case relay.KindAddWorker:
		if msg.Pid == self {
			return s.AddWorker()
		}

	case relay.KindRemoveWorker:
		if msg.Pid == self {
			s.RemoveWorker()
		}

	default:
		return fmt.Errorf("no handler for signal kind %q", byte(msg.Kind))
	}
	return nil
}
