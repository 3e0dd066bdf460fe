package events

import (
	"testing"
)

func TestPublishOrderMatchesSubscriptionOrder(t *testing.T) {
	h := NewHub()
	var order []int
	h.Subscribe(UPSTelemetryUpdated, func(any) { order = append(order, 1) })
	h.Subscribe(UPSTelemetryUpdated, func(any) { order = append(order, 2) })
	h.Subscribe(UPSTelemetryUpdated, func(any) { order = append(order, 3) })

	h.Publish(UPSTelemetryUpdated, nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v", order)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	h := NewHub()
	var after bool
	h.Subscribe(ConnectionStateChanged, func(any) { panic("boom") })
	h.Subscribe(ConnectionStateChanged, func(any) { after = true })

	h.Publish(ConnectionStateChanged, ConnectionStatePayload{State: "ready"})

	if !after {
		t.Error("subscriber after the panicking one was not called")
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub()
	var calls int
	unsub := h.Subscribe(UPSStaticData, func(any) { calls++ })

	h.Publish(UPSStaticData, nil)
	unsub()
	h.Publish(UPSStaticData, nil)
	unsub() // second call is harmless

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	h := NewHub()
	var telemetry, state int
	h.Subscribe(UPSTelemetryUpdated, func(any) { telemetry++ })
	h.Subscribe(ConnectionStateChanged, func(any) { state++ })

	h.Publish(UPSTelemetryUpdated, nil)

	if telemetry != 1 || state != 0 {
		t.Errorf("telemetry=%d state=%d", telemetry, state)
	}
}

func TestStreamReceivesPublishedEvents(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Stream()
	defer cancel()

	h.Publish(ConnectionStateChanged, ConnectionStatePayload{State: "connecting"})

	ev := <-ch
	if ev.Name != ConnectionStateChanged {
		t.Fatalf("event name = %q", ev.Name)
	}
	payload, err := DecodeAs[ConnectionStatePayload](ev)
	if err != nil {
		t.Fatalf("DecodeAs: %v", err)
	}
	if payload.State != "connecting" {
		t.Errorf("state = %q", payload.State)
	}
}
