package pool

import "fmt"

// Status represents the supervisor lifecycle state. Transitions are
// monotonic (starting -> running -> shutdown -> ended) except that
// shutdown is idempotent.
type Status int

const (
	StatusStarting Status = iota // STARTING: setup in progress
	StatusRunning                // RUNNING: control loop active
	StatusShutdown               // SHUTDOWN: draining workers, no further spawns
	StatusEnded                  // ENDED: registry empty, control loop exited
)

var statusNames = [...]string{"STARTING", "RUNNING", "SHUTDOWN", "ENDED"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// WorkerStatus represents a registry entry's lifecycle state.
type WorkerStatus int

const (
	WorkerRunning  WorkerStatus = iota // RUNNING: advancing its work source
	WorkerShutdown                     // SHUTDOWN: quit byte sent, awaiting exit
)

var workerStatusNames = [...]string{"RUNNING", "SHUTDOWN"}

func (s WorkerStatus) String() string {
	if int(s) < len(workerStatusNames) {
		return workerStatusNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}
