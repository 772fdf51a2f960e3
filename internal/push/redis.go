package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/proto"
)

const defaultChannelPrefix = "jobchat:job:"

// Redis relays publishes through Redis pub/sub so that every server node
// delivers them to its own local subscribers. Subscriptions stay in the local
// Hub.
type Redis struct {
	client *redis.Client
	hub    *Hub
	prefix string
	log    *zerolog.Logger
}

var _ Broker = (*Redis)(nil)

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, hub *Hub, logger *zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Redis{client: client, hub: hub, prefix: defaultChannelPrefix, log: logger}, nil
}

// Publish sends msg to every node, this one included.
func (r *Redis) Publish(ctx context.Context, topic string, msg proto.Message) error {
	data, err := encodeRelay(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.prefix+topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe registers with the local hub.
func (r *Redis) Subscribe(ctx context.Context, topic string) (*Subscriber, error) {
	return r.hub.Subscribe(ctx, topic)
}

// Unsubscribe removes s from the local hub.
func (r *Redis) Unsubscribe(s *Subscriber) {
	r.hub.Unsubscribe(s)
}

// Run forwards relayed messages into the local hub until ctx is cancelled.
// ready, if non-nil, is closed once the pattern subscription is confirmed.
func (r *Redis) Run(ctx context.Context, ready chan<- struct{}) error {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.Info().Str("pattern", r.prefix+"*").Msg("redis relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(m.Channel, r.prefix)
			msg, err := decodeRelay(m.Payload)
			if err != nil {
				r.log.Warn().Err(err).Str("channel", m.Channel).Msg("dropping malformed relay payload")
				continue
			}
			if err := r.hub.Publish(ctx, topic, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func encodeRelay(msg proto.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode relay payload: %w", err)
	}
	return data, nil
}

func decodeRelay(payload string) (proto.Message, error) {
	var msg proto.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return proto.Message{}, fmt.Errorf("decode relay payload: %w", err)
	}
	if msg.ID == "" || msg.JobID == "" {
		return proto.Message{}, fmt.Errorf("decode relay payload: missing id")
	}
	return msg, nil
}
