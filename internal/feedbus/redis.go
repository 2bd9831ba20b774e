// Package feedbus relays change feed events between server instances over
// Redis pub/sub, so a write accepted by one instance reaches the change
// feed clients of every instance.
package feedbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner12/fieldsync/internal/httpapi"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is the Redis channel events travel on
const DefaultChannel = "fieldsync:changes"

// Local delivers events to this instance's change feed clients
type Local interface {
	Publish(ev httpapi.ChangeEvent)
}

// Relay publishes events to Redis and feeds events from Redis into the
// local hub. Events published here reach the local hub through the
// subscription, not directly, so each is delivered once.
type Relay struct {
	client  *redis.Client
	channel string
	local   Local
}

// New creates a Relay
func New(client *redis.Client, channel string, local Local) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, local: local}
}

// Connect parses a redis:// URL and checks the server answers
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not reach redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return client, nil
}

// Publish sends ev to every instance. When Redis is unavailable the event
// is delivered to local clients only.
func (r *Relay) Publish(ev httpapi.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = r.client.Publish(context.Background(), r.channel, data).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("table", ev.Table).Msg("redis publish failed, delivering locally")
		r.local.Publish(ev)
	}
}

// Run forwards events from Redis to the local hub until ctx is done
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Msg("relaying change events")

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev httpapi.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Table == "" {
				log.Warn().Str("payload", msg.Payload).Msg("ignoring malformed change event")
				continue
			}
			r.local.Publish(ev)
		}
	}
}
