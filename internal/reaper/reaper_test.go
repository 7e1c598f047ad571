package reaper

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay-project/chatrelay/internal/config"
	"github.com/chatrelay-project/chatrelay/internal/events"
	"github.com/chatrelay-project/chatrelay/internal/registry"
)

// eventCollector records bus events for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *eventCollector) handler(ctx context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *eventCollector) byType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newSweepFixture() (*config.Config, *events.EventBus, *registry.Registry, *eventCollector) {
	bus := events.NewEventBus()
	collector := &eventCollector{}
	bus.Subscribe(events.EventParticipantEvicted, "test", collector.handler)
	bus.Subscribe(events.EventRoomClosed, "test", collector.handler)
	return config.DefaultConfig(), bus, registry.New(), collector
}

func TestSweepClosesRoomsWithIdleHosts(t *testing.T) {
	cfg, bus, reg, collector := newSweepFixture()

	reg.CreateRoom("one", "alice", "")
	reg.CreateRoom("two", "carol", "")
	reg.JoinRoom("two", "dave", "")

	r := New(cfg, bus, reg)
	later := time.Now().Add(90 * time.Second)
	r.clock = func() time.Time { return later }

	r.sweep(context.Background())
	bus.Stop()

	// Every participant started at t0 and is now idle; both hosts time
	// out, so both rooms close within the same sweep.
	closed := collector.byType(events.EventRoomClosed)
	if len(closed) != 2 {
		t.Fatalf("room_closed events = %d, want 2", len(closed))
	}
	for _, e := range closed {
		payload, ok := e.Payload.(events.RoomClosedPayload)
		if !ok || payload.Reason != "host_departed" {
			t.Errorf("close payload = %+v", e.Payload)
		}
	}

	if rooms, _ := reg.Counts(); rooms != 0 {
		t.Errorf("rooms after sweep = %d, want 0", rooms)
	}
}

func TestSweepEvictsOnlyIdleParticipants(t *testing.T) {
	cfg, bus, reg, collector := newSweepFixture()

	hostToken, _ := reg.CreateRoom("lobby", "alice", "")
	reg.JoinRoom("lobby", "bob", "")

	later := time.Now().Add(90 * time.Second)

	// Host stays active; bob goes idle
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}
	reg.AuthenticateAndTouch(hostToken, "lobby", addr, later)

	r := New(cfg, bus, reg)
	r.clock = func() time.Time { return later }
	r.sweep(context.Background())
	bus.Stop()

	evicted := collector.byType(events.EventParticipantEvicted)
	if len(evicted) != 1 {
		t.Fatalf("evicted events = %d, want 1", len(evicted))
	}
	payload := evicted[0].Payload.(events.ParticipantEvictedPayload)
	if payload.RoomName != "lobby" || payload.Username != "bob" || payload.Reason != "idle" {
		t.Errorf("eviction payload = %+v", payload)
	}

	if closed := collector.byType(events.EventRoomClosed); len(closed) != 0 {
		t.Errorf("room_closed events = %d, want 0", len(closed))
	}
	if rooms, participants := reg.Counts(); rooms != 1 || participants != 1 {
		t.Errorf("Counts = (%d, %d), want (1, 1)", rooms, participants)
	}
}

func TestSweepQuietWhenNothingIdle(t *testing.T) {
	cfg, bus, reg, collector := newSweepFixture()

	reg.CreateRoom("lobby", "alice", "")

	r := New(cfg, bus, reg)
	r.sweep(context.Background())
	bus.Stop()

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.events) != 0 {
		t.Errorf("events = %+v, want none", collector.events)
	}
}
