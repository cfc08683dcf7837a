package pool

import (
	"fmt"
	"os"
)

// WritePIDFile records the master pid at path so external tooling can
// find the process to signal. An empty path disables the pid file.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	line := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("write pid file %s: %w", path, err)
	}
	return nil
}

// RemovePIDFile deletes the pid file, ignoring a path that was never
// written.
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
