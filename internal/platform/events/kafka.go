package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
)

const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

var ErrPublisherClosed = errors.New("events: publisher is closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic keyed by slot id, so every
// event about a slot lands on the same partition in commit order.
type KafkaPublisher struct {
	writer    messageWriter
	logger    zerolog.Logger
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	logger = logger.With().Str("component", "events").Str("topic", topic).Logger()
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  compress.Snappy,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Debug().Msgf(msg, args...)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error().Msgf(msg, args...)
		}),
	}
	return newKafkaPublisher(w, logger), nil
}

func newKafkaPublisher(w messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger, closed: make(chan struct{})}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	select {
	case <-p.closed:
		return ErrPublisherClosed
	default:
	}

	msg, err := buildMessage(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for appointment %s: %w", e.Type, e.AppointmentID, err)
	}

	p.logger.Debug().
		Str("event_id", e.ID.String()).
		Str("event_type", string(e.Type)).
		Str("appointment_id", e.AppointmentID.String()).
		Msg("event published")
	return nil
}

// Close flushes pending writes. Later calls are no-ops.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeErr = p.writer.Close()
	})
	return p.closeErr
}

func buildMessage(e Event) (kafka.Message, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}

	// Appointments detached from a deleted slot fall back to the
	// appointment id so they still have a stable partition.
	key := e.SlotID
	if key == uuid.Nil {
		key = e.AppointmentID
	}

	return kafka.Message{
		Key:   []byte(key.String()),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(e.ID.String())},
			{Key: HeaderEventType, Value: []byte(e.Type)},
		},
	}, nil
}
