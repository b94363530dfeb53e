package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"

	"haulpay/internal/domain"
)

type recordingSender struct {
	sent []*messaging.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, m)
	return "msg-1", nil
}

type stubPublisher struct {
	got []domain.TripEvent
	err error
}

func (p *stubPublisher) Publish(_ context.Context, ev domain.TripEvent) error {
	p.got = append(p.got, ev)
	return p.err
}

func TestEventMessage_KeyedByTrip(t *testing.T) {
	t.Parallel()

	ev := domain.TripEvent{
		Type:       domain.EventStopArrived,
		TripID:     "trip-1",
		UserID:     "user-1",
		Message:    "Arrived at stop 1",
		OccurredAt: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC),
	}

	msg, err := eventMessage(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(msg.Key) != "trip-1" {
		t.Errorf("expected key trip-1, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "STOP_ARRIVED" {
		t.Errorf("unexpected headers: %v", msg.Headers)
	}

	var decoded domain.TripEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded.Type != ev.Type || decoded.TripID != ev.TripID {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestPushPublisher_SendsSelectedEvents(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	p := NewPushPublisher(sender, nil)
	ctx := context.Background()

	_ = p.Publish(ctx, domain.TripEvent{Type: domain.EventSegmentStarted, TripID: "trip-1", UserID: "user-1"})
	if len(sender.sent) != 0 {
		t.Fatal("segment start should not be pushed")
	}

	err := p.Publish(ctx, domain.TripEvent{
		Type:    domain.EventTripFinished,
		TripID:  "trip-1",
		UserID:  "user-1",
		Message: "Trip finished: $123.40",
		Data:    map[string]any{"total_pay": 123.4},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 push, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Topic != "user-user-1" || msg.Data["total_pay"] != "123.40" || msg.Notification.Body != "Trip finished: $123.40" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPushPublisher_SkipsInvalidTopic(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	p := NewPushPublisher(sender, nil)

	_ = p.Publish(context.Background(), domain.TripEvent{Type: domain.EventTripFinished, TripID: "trip-1", UserID: "a b"})
	if len(sender.sent) != 0 {
		t.Error("user IDs that are not valid topic names should be skipped")
	}
}

func TestPushPublisher_WrapsSendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := NewPushPublisher(&recordingSender{err: boom}, nil)

	err := p.Publish(context.Background(), domain.TripEvent{Type: domain.EventTripFinished, TripID: "trip-1", UserID: "user-1"})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped send error, got %v", err)
	}
}

func TestFanout_PublishesToAll(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := &stubPublisher{err: boom}
	b := &stubPublisher{}

	err := Fanout{a, b}.Publish(context.Background(), domain.TripEvent{Type: domain.EventTripFinished})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Error("every publisher should receive the event")
	}
}
