package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/99minutos/reservation-system/internal/core/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducer_Send(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w}

	event := domain.ReservationEvent{
		ID:            "evt-1",
		Type:          domain.EventReservationAccepted,
		ReservationID: "res-1",
		Status:        domain.StatusAccepted,
		OccurredAt:    time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := p.Send(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "res-1" {
		t.Errorf("expected key res-1, got %s", msg.Key)
	}
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if env.Type != domain.EventReservationAccepted || env.Payload.ID != "evt-1" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestProducer_SendError(t *testing.T) {
	p := &Producer{w: &fakeWriter{err: errors.New("leader not available")}}
	if err := p.Send(context.Background(), domain.ReservationEvent{ID: "e"}); err == nil {
		t.Fatal("expected error")
	}
}
