package events

import (
	"testing"

	"github.com/preforkdev/prefork/internal/logging"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(logging.Discard())

	var got []Event
	bus.Subscribe(WorkerSpawned, func(ev Event) {
		got = append(got, ev)
	})

	bus.Publish(Event{Type: WorkerSpawned, Data: map[string]string{"pid": "42"}})
	bus.Publish(Event{Type: WorkerExited, Data: map[string]string{"pid": "42"}})

	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Data["pid"] != "42" {
		t.Errorf("pid = %q, want 42", got[0].Data["pid"])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestMultipleSubscribersInOrder(t *testing.T) {
	bus := NewBus(logging.Discard())

	var order []int
	bus.Subscribe(PoolScaled, func(Event) { order = append(order, 1) })
	bus.Subscribe(PoolScaled, func(Event) { order = append(order, 2) })

	bus.Publish(Event{Type: PoolScaled})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(logging.Discard())

	calls := 0
	id := bus.Subscribe(WorkerExited, func(Event) { calls++ })
	bus.Publish(Event{Type: WorkerExited})
	bus.Unsubscribe(id)
	bus.Publish(Event{Type: WorkerExited})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus(logging.Discard())

	called := false
	bus.Subscribe(SupervisorStateStopping, func(Event) { panic("boom") })
	bus.Subscribe(SupervisorStateStopping, func(Event) { called = true })

	bus.Publish(Event{Type: SupervisorStateStopping})

	if !called {
		t.Error("second handler not called after panic in first")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(logging.Discard())
	bus.Publish(Event{Type: WorkerSpawned}) // must not panic
}
