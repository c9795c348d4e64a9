package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	r.got = append(r.got, ev)
	return r.err
}

func TestLogPublisher_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	err := p.Publish(context.Background(), Event{
		Type:      BookingConfirmed,
		Facility:  "City Hospital",
		BookingID: "b-1",
		At:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:      map[string]interface{}{"available": 24},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["event"] != BookingConfirmed || line["facility"] != "City Hospital" || line["booking_id"] != "b-1" {
		t.Errorf("unexpected log line: %v", line)
	}
	if line["available"] != float64(24) {
		t.Errorf("expected data fields to be flattened, got %v", line)
	}
}

func TestMulti_PublishesToAllAndReturnsFirstError(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("stream down")}
	ok := &recordingPublisher{}

	err := Multi{failing, ok}.Publish(context.Background(), Event{Type: CapacityAdjusted})
	if err == nil || !strings.Contains(err.Error(), "stream down") {
		t.Errorf("expected first error, got %v", err)
	}
	if len(ok.got) != 1 {
		t.Error("expected the second publisher to still receive the event")
	}
}

func TestNewRedisPublisher_Defaults(t *testing.T) {
	p := NewRedisPublisher(nil, "  ")
	if p.stream != "bedalloc:events" {
		t.Errorf("expected default stream, got %q", p.stream)
	}
	p = NewRedisPublisher(nil, "beds", WithMaxLen(10))
	if p.stream != "beds" || p.maxLen != 10 {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Publish(context.Background(), Event{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
