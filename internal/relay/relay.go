// Package relay turns asynchronous OS signal delivery into an ordinary,
// sequentially readable message stream (the self-pipe pattern). A signal
// occurrence becomes one line "<kind> <pid>\n" on the shared signal pipe;
// all decision-making happens on the reading side.
package relay

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// Kind is the single-byte identifier of a trapped signal when sent
// through the signal pipe.
type Kind byte

const (
	KindChildExit    Kind = 'C' // SIGCHLD
	KindHangup       Kind = 'H' // SIGHUP
	KindInterrupt    Kind = 'I' // SIGINT
	KindQuit         Kind = 'Q' // SIGQUIT
	KindAddWorker    Kind = '1' // SIGUSR1
	KindRemoveWorker Kind = '2' // SIGUSR2
	KindTerminate    Kind = 'T' // SIGTERM
)

// Trapped is the fixed set of signals the relay listens for.
var Trapped = []os.Signal{
	syscall.SIGCHLD,
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGTERM,
}

var kindBySignal = map[os.Signal]Kind{
	syscall.SIGCHLD: KindChildExit,
	syscall.SIGHUP:  KindHangup,
	syscall.SIGINT:  KindInterrupt,
	syscall.SIGQUIT: KindQuit,
	syscall.SIGUSR1: KindAddWorker,
	syscall.SIGUSR2: KindRemoveWorker,
	syscall.SIGTERM: KindTerminate,
}

var signalNames = map[Kind]string{
	KindChildExit:    "SIGCHLD",
	KindHangup:       "SIGHUP",
	KindInterrupt:    "SIGINT",
	KindQuit:         "SIGQUIT",
	KindAddWorker:    "SIGUSR1",
	KindRemoveWorker: "SIGUSR2",
	KindTerminate:    "SIGTERM",
}

// String returns the conventional signal name for the kind.
func (k Kind) String() string {
	if name, ok := signalNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%c)", byte(k))
}

// Message is one decoded signal-pipe line: which signal fired and the pid
// of the process whose handler observed it.
type Message struct {
	Kind Kind
	Pid  int
}

// Encode renders the message as its wire line, "<kind> <pid>\n".
func (m Message) Encode() []byte {
	return []byte(fmt.Sprintf("%c %d\n", byte(m.Kind), m.Pid))
}

// Decode parses one signal-pipe line. The trailing newline is optional.
func Decode(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || len(fields[0]) != 1 {
		return Message{}, fmt.Errorf("malformed signal message %q", strings.TrimSpace(line))
	}
	kind := Kind(fields[0][0])
	if _, ok := signalNames[kind]; !ok {
		return Message{}, fmt.Errorf("unknown signal kind %q", fields[0])
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Message{}, fmt.Errorf("bad pid in signal message %q: %w", strings.TrimSpace(line), err)
	}
	return Message{Kind: kind, Pid: pid}, nil
}

// Relay subscribes to the trapped signal set and writes one encoded
// Message per occurrence to the signal pipe. The Go runtime already
// confines the asynchronous handler to a channel send; the relay drains
// that channel so the only work done per signal is a short pipe write.
type Relay struct {
	ch     chan os.Signal
	done   chan struct{}
	logger *slog.Logger
}

// New creates a relay with a buffer of 16 pending signals. Occurrences
// beyond the buffer are dropped by the runtime, which is safe: a lost
// message never corrupts state, and later signals or reap cycles converge.
func New(logger *slog.Logger) *Relay {
	return &Relay{
		ch:     make(chan os.Signal, 16),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start installs the handlers and begins relaying to w. Each line carries
// the pid of the current process, so the reader can distinguish
// self-directed signals from ones observed by a worker.
func (r *Relay) Start(w io.Writer) {
	signal.Notify(r.ch, Trapped...)
	go func() {
		defer close(r.done)
		pid := os.Getpid()
		for sig := range r.ch {
			kind, ok := kindBySignal[sig]
			if !ok {
				continue
			}
			msg := Message{Kind: kind, Pid: pid}
			if _, err := w.Write(msg.Encode()); err != nil {
				r.logger.Warn("signal relay write failed", "signal", kind.String(), "error", err)
			}
		}
	}()
}

// Stop deregisters the handlers and waits for the relay goroutine to
// drain. Pending occurrences already in the buffer are still written.
func (r *Relay) Stop() {
	signal.Stop(r.ch)
	close(r.ch)
	<-r.done
}
