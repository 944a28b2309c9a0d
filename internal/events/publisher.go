package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/config"
	"github.com/sells-group/pulse-cli/internal/model"
)

// Publisher delivers a batch of events downstream. A nil error means every
// event in the batch was accepted.
type Publisher interface {
	Publish(ctx context.Context, events []model.Event) error
	Close() error
}

// NewPublisher builds the publisher selected by cfg.Driver.
func NewPublisher(cfg config.EventsConfig, log *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka), nil
	case "redis":
		return NewRedisPublisher(cfg.Redis), nil
	case "log", "":
		return NewLogPublisher(log), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, eris.Errorf("events: unknown driver %q", cfg.Driver)
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic, keyed by agent so one
// agent's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	Topic  string
}

// NewKafkaPublisher creates a publisher for cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, Topic: cfg.Topic}
}

// Publish writes the batch in one request.
func (p *KafkaPublisher) Publish(ctx context.Context, events []model.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return eris.Wrapf(err, "events: marshal %s", ev.ID)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Agent.String()),
			Value: value,
			Time:  time.Unix(ev.Timestamp, 0).UTC(),
			Headers: []kafka.Header{
				{Key: "event-id", Value: []byte(ev.ID)},
				{Key: "event-kind", Value: []byte(ev.Kind)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return eris.Wrapf(err, "events: kafka write to %s", p.Topic)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client streamClient
	stream string
	maxLen int64
}

// NewRedisPublisher connects to cfg.Addr lazily on first use.
func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}
}

// Publish issues one XADD per event, stopping at the first failure.
func (p *RedisPublisher) Publish(ctx context.Context, events []model.Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return eris.Wrapf(err, "events: marshal %s", ev.ID)
		}
		args := &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: p.maxLen > 0,
			Values: map[string]any{
				"id":        ev.ID,
				"kind":      string(ev.Kind),
				"agent":     ev.Agent.String(),
				"timestamp": strconv.FormatInt(ev.Timestamp, 10),
				"payload":   string(payload),
			},
		}
		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			return eris.Wrapf(err, "events: redis XADD %s", p.stream)
		}
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LogPublisher writes events to a zap logger. It suits local runs.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher logs through log, or zap.L() when nil.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.L()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, events []model.Event) error {
	for _, ev := range events {
		p.log.Info("event",
			zap.String("id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("agent", ev.Agent.String()),
			zap.Int64("timestamp", ev.Timestamp),
			zap.Uint64("amount", ev.Amount),
			zap.Uint64("streak", ev.Streak),
		)
	}
	return nil
}

func (p *LogPublisher) Close() error { return p.log.Sync() }

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, []model.Event) error { return nil }
func (Discard) Close() error                                 { return nil }
