package redisclient

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// EventChannel is the pub/sub channel the notification collaborator
// subscribes to.
const EventChannel = "scheduling.events"

// EventPublisher pushes scheduling events to Redis pub/sub. Delivery is
// fire-and-forget: a publish failure is logged and never rolls back the
// scheduling operation that produced it.
type EventPublisher struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewEventPublisher(client *redis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		client: client,
		log:    log.With().Str("component", "event-publisher").Logger(),
	}
}

func (p *EventPublisher) Notify(ctx context.Context, ev scheduling.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("event", ev.Type).Msg("marshal event")
		return
	}
	if err := p.client.Publish(ctx, EventChannel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("event", ev.Type).Msg("publish event")
	}
}
