package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestBuildMessage_KeyAndHeaders(t *testing.T) {
	slotID := uuid.New()
	e := Event{
		ID:            uuid.New(),
		Type:          AppointmentBooked,
		AppointmentID: uuid.New(),
		SlotID:        slotID,
		ReportingTime: "09:10",
		BookedCount:   2,
		OccurredAt:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	msg, err := buildMessage(e)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	if string(msg.Key) != slotID.String() {
		t.Errorf("expected slot id key, got %s", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers[HeaderEventID] != e.ID.String() || headers[HeaderEventType] != "appointment.booked" {
		t.Errorf("unexpected headers %v", headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.ReportingTime != "09:10" || decoded.BookedCount != 2 || decoded.AppointmentID != e.AppointmentID {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestBuildMessage_FillsDefaults(t *testing.T) {
	apptID := uuid.New()
	msg, err := buildMessage(Event{Type: AppointmentCancelled, AppointmentID: apptID})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	if string(msg.Key) != apptID.String() {
		t.Errorf("expected appointment id key without slot, got %s", msg.Key)
	}
	if msg.Time.IsZero() {
		t.Error("expected OccurredAt to be set")
	}
	var decoded Event
	_ = json.Unmarshal(msg.Value, &decoded)
	if decoded.ID == uuid.Nil {
		t.Error("expected generated event id")
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, zerolog.Nop())

	if err := p.Publish(context.Background(), Event{Type: AppointmentBooked, AppointmentID: uuid.New(), SlotID: uuid.New()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}

	w.err = errors.New("broker down")
	if err := p.Publish(context.Background(), Event{Type: AppointmentBooked, AppointmentID: uuid.New()}); err == nil {
		t.Error("expected writer error to surface")
	}
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, zerolog.Nop())

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !w.closed {
		t.Error("expected writer closed")
	}
	if err := p.Publish(context.Background(), Event{}); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("expected ErrPublisherClosed, got %v", err)
	}
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic", zerolog.Nop()); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, "", zerolog.Nop()); err == nil {
		t.Error("expected error without topic")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "clinic.appointments", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKafkaPublisher: %v", err)
	}
	_ = p.Close()
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
