// Package reaper implements the periodic sweep that evicts idle
// participants and closes rooms whose host has left.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatrelay-project/chatrelay/internal/config"
	"github.com/chatrelay-project/chatrelay/internal/events"
	"github.com/chatrelay-project/chatrelay/internal/registry"
)

// Reaper runs the registry sweep on a fixed interval and publishes the
// resulting lifecycle events. Eviction is routine lifecycle, not an error:
// it is logged and journaled, never reported to any peer.
type Reaper struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *registry.Registry
	clock    func() time.Time
}

// New creates a new reaper.
func New(cfg *config.Config, eventBus *events.EventBus, reg *registry.Registry) *Reaper {
	return &Reaper{
		cfg:      cfg,
		eventBus: eventBus,
		registry: reg,
		clock:    time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	relay := r.cfg.GetRelay()
	interval := time.Duration(relay.SweepIntervalSec) * time.Second

	log.Info().
		Dur("interval", interval).
		Int("idle_timeout_sec", relay.IdleTimeoutSec).
		Msg("reaper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep runs one registry pass and emits events for everything it removed.
func (r *Reaper) sweep(ctx context.Context) {
	idle := time.Duration(r.cfg.GetRelay().IdleTimeoutSec) * time.Second
	res := r.registry.Sweep(r.clock(), idle)

	for _, ev := range res.Evicted {
		log.Info().
			Str("room", ev.RoomName).
			Str("username", ev.Username).
			Msg("evicted idle participant")
		r.eventBus.Emit(ctx, events.Event{
			Type:   events.EventParticipantEvicted,
			Source: "reaper",
			Payload: events.ParticipantEvictedPayload{
				RoomName: ev.RoomName,
				Username: ev.Username,
				Reason:   "idle",
			},
		})
	}

	for _, closed := range res.Closed {
		log.Info().
			Str("room", closed.Name).
			Int("dropped", closed.Dropped).
			Msg("closed room without host")
		r.eventBus.Emit(ctx, events.Event{
			Type:   events.EventRoomClosed,
			Source: "reaper",
			Payload: events.RoomClosedPayload{
				RoomName: closed.Name,
				Dropped:  closed.Dropped,
				Reason:   "host_departed",
			},
		})
	}
}
