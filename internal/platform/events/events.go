// Package events publishes allocation lifecycle events. Publishing is best
// effort: a failed publish is logged by the caller and never changes the
// outcome of the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BookingConfirmed  = "booking.confirmed"
	BookingRolledBack = "booking.rolled_back"
	BookingDischarged = "booking.discharged"
	CapacityAdjusted  = "capacity.adjusted"
)

// Event is one lifecycle change. Data holds type specific fields.
type Event struct {
	Type      string                 `json:"type"`
	Facility  string                 `json:"facility"`
	BookingID string                 `json:"booking_id,omitempty"`
	At        time.Time              `json:"at"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a zerolog logger.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	e := p.logger.Info().
		Str("event", ev.Type).
		Str("facility", ev.Facility).
		Time("at", ev.At)
	if ev.BookingID != "" {
		e = e.Str("booking_id", ev.BookingID)
	}
	if len(ev.Data) > 0 {
		e = e.Fields(ev.Data)
	}
	e.Msg("allocation event")
	return nil
}

// RedisPublisher appends events to a Redis stream with XADD.
type RedisPublisher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
}

type RedisOption func(*RedisPublisher)

// WithMaxLen caps the stream at approximately n entries.
func WithMaxLen(n int64) RedisOption {
	return func(p *RedisPublisher) { p.maxLen = n }
}

func NewRedisPublisher(rdb redis.Cmdable, stream string, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		rdb:    rdb,
		stream: strings.TrimSpace(stream),
		maxLen: 100000,
	}
	if p.stream == "" {
		p.stream = "bedalloc:events"
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	values := map[string]interface{}{
		"type":     ev.Type,
		"facility": ev.Facility,
		"at":       ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.BookingID != "" {
		values["booking_id"] = ev.BookingID
	}
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		values["data"] = string(data)
	}
	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.rdb.XAdd(ctx, args).Err()
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Ping checks the Redis connection so the stream can join the health report.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
