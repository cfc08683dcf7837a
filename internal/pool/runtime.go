package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"

	"github.com/preforkdev/prefork/internal/relay"
	"github.com/preforkdev/prefork/internal/work"
)

// Worker bootstrap contract. Go cannot duplicate a running process
// image, so the master re-executes its own binary with an environment
// marker and two inherited descriptors: the shared signal pipe write end
// and the private control pipe read end. The worker entry point rebuilds
// its work source and enters RunWorker.
const (
	EnvWorker    = "PREFORK_WORKER"
	EnvSignalFD  = "PREFORK_SIGNAL_FD"
	EnvControlFD = "PREFORK_CONTROL_FD"

	// ExtraFiles are appended after stdio, so the first inherited
	// descriptor is fd 3.
	signalFD  = 3
	controlFD = 4
)

// workerEnv returns the child environment: the parent's, plus the
// bootstrap marker and descriptor numbers.
func workerEnv() []string {
	return append(os.Environ(),
		EnvWorker+"=1",
		fmt.Sprintf("%s=%d", EnvSignalFD, signalFD),
		fmt.Sprintf("%s=%d", EnvControlFD, controlFD),
	)
}

// IsWorker reports whether this process was spawned as a pool worker.
func IsWorker() bool {
	return os.Getenv(EnvWorker) == "1"
}

// RunWorker is the worker-process entry point. It relays trapped signals
// back to the master through the shared signal pipe (tagged with this
// worker's pid, so the master shuts down only this worker) and advances
// the work source until a quit byte arrives, the source is exhausted, or
// a step fails. A nil return is the graceful path; the caller should map
// a non-nil return to a non-zero exit status.
func RunWorker(src work.Source, logger *slog.Logger) error {
	logger.Debug("worker running")

	if sigW := inheritedFile(EnvSignalFD, signalFD, "signal-pipe"); sigW != nil {
		rl := relay.New(logger)
		rl.Start(sigW)
		defer rl.Stop()
	}

	control := inheritedFile(EnvControlFD, controlFD, "control-pipe")
	if control == nil {
		return fmt.Errorf("no control pipe inherited (fd %d)", controlFD)
	}
	defer control.Close()

	err := runLoop(control, src, logger)
	if err != nil {
		logger.Error("worker failed", "error", err)
		return err
	}
	logger.Debug("worker ending")
	return nil
}

// runLoop is the in-worker loop: peek at the control pipe without
// blocking, then advance the work source by one step. Cancellation is
// cooperative and observed only here, never mid-step.
func runLoop(control *os.File, src work.Source, logger *slog.Logger) error {
	fd := int(control.Fd())
	if err := syscall.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("control pipe nonblock: %w", err)
	}

	buf := make([]byte, 1)
	for {
		n, err := syscall.Read(fd, buf)
		switch {
		case err == syscall.EAGAIN || err == syscall.EINTR:
			// No control byte pending.
		case err != nil:
			return fmt.Errorf("control pipe read: %w", err)
		case n == 1 && buf[0] == controlQuit:
			logger.Debug("received quit")
			return nil
		case n == 0:
			// Write end closed: the master is gone. Stop at this safe
			// point rather than running unsupervised.
			logger.Debug("control pipe closed")
			return nil
		}

		if err := src.Next(); err != nil {
			if errors.Is(err, work.ErrExhausted) {
				return nil
			}
			return fmt.Errorf("work step: %w", err)
		}
	}
}

// inheritedFile opens a descriptor passed down by the master. The env
// override exists for bootstrap schemes that cannot guarantee fd order.
func inheritedFile(env string, fallback int, name string) *os.File {
	fd := fallback
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fd = n
		}
	}
	return os.NewFile(uintptr(fd), name)
}
