// Package work models a worker's unit of work as a lazy, resumable
// sequence of steps. A Source is advanced one step per worker loop
// iteration; natural completion is reported through ErrExhausted so it
// can be told apart from a step failure.
package work

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrExhausted is returned by Source.Next when the sequence has produced
// all of its steps. It marks normal completion, not a failure.
var ErrExhausted = errors.New("work source exhausted")

// Source produces incremental units of work. Next performs exactly one
// step and returns nil, ErrExhausted when no steps remain, or any other
// error when the step itself failed.
type Source interface {
	Next() error
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func() error

// Next calls the wrapped function.
func (f SourceFunc) Next() error { return f() }

// Limit wraps src so that at most n steps are performed; the following
// call reports ErrExhausted. A non-positive n leaves src unbounded.
func Limit(src Source, n int) Source {
	if n <= 0 {
		return src
	}
	return &limited{src: src, remaining: n}
}

type limited struct {
	src       Source
	remaining int
}

func (l *limited) Next() error {
	if l.remaining <= 0 {
		return ErrExhausted
	}
	if err := l.src.Next(); err != nil {
		return err
	}
	l.remaining--
	return nil
}

// CommandSource runs one external command invocation per step. It is the
// work source used by the prefork CLI; library callers supply their own
// Source implementations.
type CommandSource struct {
	Command string
	Args    []string
	Pause   time.Duration // optional delay after each step
}

// NewCommandSource creates a command-per-step work source.
func NewCommandSource(command string, args ...string) *CommandSource {
	return &CommandSource{Command: command, Args: args}
}

// Next runs the command once, inheriting stdout/stderr. A non-zero exit
// is a step failure.
func (c *CommandSource) Next() error {
	cmd := exec.Command(c.Command, c.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("work command %q: %w", c.Command, err)
	}
	if c.Pause > 0 {
		time.Sleep(c.Pause)
	}
	return nil
}
