package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func message(t *testing.T, ev Event) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: "catalog", Value: b, Timestamp: time.Now().UTC()}
}

func TestConsumer_HandleMessage_FiltersAndDedupes(t *testing.T) {
	var got []Event
	c := NewConsumer(ConsumerConfig{Topic: "catalog", Origin: "me", Group: "SpatialFilter"},
		func(_ context.Context, ev Event) error {
			got = append(got, ev)
			return nil
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*sarama.ConsumerMessage{
		message(t, Event{Op: OpSaved, Group: "SpatialFilter", Name: "lakes", Origin: "other", TS: t0}),
		// own event
		message(t, Event{Op: OpSaved, Group: "SpatialFilter", Name: "roads", Origin: "me", TS: t0}),
		// other catalog group
		message(t, Event{Op: OpSaved, Group: "Elsewhere", Name: "roads", Origin: "other", TS: t0}),
		// replay of the first
		message(t, Event{Op: OpSaved, Group: "SpatialFilter", Name: "lakes", Origin: "other", TS: t0}),
		message(t, Event{Op: OpDeleted, Group: "SpatialFilter", Name: "lakes", Origin: "other", TS: t0.Add(time.Second)}),
		{Topic: "catalog", Value: []byte("not json")},
	}
	for i, m := range msgs {
		if err := c.handleMessage(ctx, m); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	if len(got) != 2 {
		t.Fatalf("applied %d events, want 2: %+v", len(got), got)
	}
	if got[0].Op != OpSaved || got[1].Op != OpDeleted || got[1].Name != "lakes" {
		t.Fatalf("events=%+v", got)
	}
}

func TestConsumer_HandlerErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	c := NewConsumer(ConsumerConfig{Topic: "catalog"}, func(context.Context, Event) error { return boom }, nil)
	err := c.handleMessage(context.Background(), message(t, Event{Op: OpSaved, Name: "x"}))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(ConsumerConfig{Origin: "abc"}, nil, nil)
	if c.cfg.GroupID != "spatialfilter-abc" || c.cfg.SessionTimeout != 30*time.Second {
		t.Fatalf("cfg=%+v", c.cfg)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("Start without handler should fail")
	}
}
