package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "telecare:events"

type relayedEvent struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBridge shares events between server instances. Publish broadcasts
// locally and relays over a Redis channel; Run rebroadcasts what other
// instances relayed.
type RedisBridge struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
	logger  zerolog.Logger
}

// NewRedisBridge parses url (redis://...) and verifies the server answers.
func NewRedisBridge(ctx context.Context, hub *Hub, url string, logger zerolog.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisBridge(hub, client, DefaultChannel, logger), nil
}

func newRedisBridge(hub *Hub, client *redis.Client, channel string, logger zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		hub:     hub,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With().Str("component", "ws-redis").Logger(),
	}
}

func (b *RedisBridge) Publish(ctx context.Context, event Event) error {
	if err := b.hub.Publish(ctx, event); err != nil {
		return err
	}
	payload, err := json.Marshal(relayedEvent{Origin: b.origin, Event: event})
	if err != nil {
		return fmt.Errorf("marshal relayed event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay event: %w", err)
	}
	return nil
}

// Run consumes the channel until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *RedisBridge) deliver(payload string) {
	var relayed relayedEvent
	if err := json.Unmarshal([]byte(payload), &relayed); err != nil {
		b.logger.Warn().Err(err).Msg("discarding malformed relayed event")
		return
	}
	if relayed.Origin == b.origin {
		return
	}
	b.hub.Broadcast(relayed.Event)
}

func (b *RedisBridge) Close() error {
	return b.client.Close()
}
