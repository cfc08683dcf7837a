package pool

import (
	"fmt"
	"os"
	"os/exec"
)

// SpawnConfig holds the parameters needed to spawn a worker process.
type SpawnConfig struct {
	Command    string     // absolute path or $PATH-resolved binary
	Args       []string   // command arguments (not including argv[0])
	Env        []string   // environment variables (KEY=VALUE)
	ExtraFiles []*os.File // inherited descriptors, starting at fd 3
}

// Spawner creates worker processes. Implementations include ExecSpawner
// (real) and MockSpawner (testing).
type Spawner interface {
	Spawn(cfg SpawnConfig) (int, error)
}

// ExecSpawner spawns real OS processes via os/exec. The spawned handle
// is released immediately: exits are observed through the supervisor's
// reap cycle, not through os/exec Wait.
type ExecSpawner struct{}

// Spawn starts a worker process and returns its pid.
func (s *ExecSpawner) Spawn(cfg SpawnConfig) (int, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}
	cmd.ExtraFiles = cfg.ExtraFiles

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("cannot start worker process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("cannot release worker handle: %w", err)
	}
	return pid, nil
}

// MockSpawner is a test double for Spawner.
type MockSpawner struct {
	SpawnFn    func(cfg SpawnConfig) (int, error)
	SpawnCalls []SpawnConfig
}

// Spawn records the call and delegates to SpawnFn. Without a SpawnFn it
// hands out sequential fake pids starting at 1001.
func (m *MockSpawner) Spawn(cfg SpawnConfig) (int, error) {
	m.SpawnCalls = append(m.SpawnCalls, cfg)
	if m.SpawnFn != nil {
		return m.SpawnFn(cfg)
	}
	return 1000 + len(m.SpawnCalls), nil
}
