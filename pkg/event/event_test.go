package event

import (
	"testing"
	"time"
)

func TestLessOrdersByTimestampThenID(t *testing.T) {
	trace := NewID()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New(trace, t0, User{Text: "a"}, WithID(ID{0x01}))
	b := New(trace, t0, User{Text: "b"}, WithID(ID{0x02}))

	if !Less(a, b) {
		t.Fatalf("expected a < b for equal timestamps with a.id < b.id")
	}
	if Less(b, a) {
		t.Fatalf("expected b !< a")
	}

	later := New(trace, t0.Add(time.Millisecond), User{Text: "c"}, WithID(ID{0x00}))
	if !Less(a, later) {
		t.Fatalf("expected earlier timestamp to sort first regardless of id")
	}
}

func TestSortEventsBreaksTimestampTiesByID(t *testing.T) {
	trace := NewID()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		New(trace, t0, User{Text: "z"}, WithID(ID{0x03})),
		New(trace, t0, User{Text: "y"}, WithID(ID{0x01})),
		New(trace, t0, User{Text: "x"}, WithID(ID{0x02})),
	}
	SortEvents(events)
	if events[0].ID() != (ID{0x01}) || events[1].ID() != (ID{0x02}) || events[2].ID() != (ID{0x03}) {
		t.Fatalf("events not sorted by id tiebreak: %v", events)
	}
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	trace := NewID()
	t0 := time.Now()
	id := NewID()
	e1 := New(trace, t0, User{Text: "first"}, WithID(id))
	e2 := New(trace, t0, User{Text: "duplicate"}, WithID(id))
	out := Dedupe([]Event{e1, e2})
	if len(out) != 1 {
		t.Fatalf("expected 1 event after dedupe, got %d", len(out))
	}
	if out[0].Payload().(User).Text != "first" {
		t.Fatalf("expected first occurrence to win")
	}
}

func TestDeriveTraceIDIsDeterministic(t *testing.T) {
	a := DeriveTraceID("claude-session-abc")
	b := DeriveTraceID("claude-session-abc")
	c := DeriveTraceID("claude-session-xyz")
	if a != b {
		t.Fatalf("expected deterministic derivation for the same vendor id")
	}
	if a == c {
		t.Fatalf("expected different vendor ids to derive different trace ids")
	}
}

func TestWithPayloadPreservesIdentity(t *testing.T) {
	trace := NewID()
	e := New(trace, time.Now(), ToolResult{Output: "raw"})
	resolved := e.WithPayload(ToolResult{Output: "raw", ToolCallID: NewID()})
	if resolved.ID() != e.ID() {
		t.Fatalf("WithPayload must preserve event identity")
	}
}

func TestTimestampTruncatedToMillisecondUTC(t *testing.T) {
	trace := NewID()
	loc := time.FixedZone("test", 3600)
	ts := time.Date(2026, 1, 1, 12, 0, 0, 123456789, loc)
	e := New(trace, ts, Message{Text: "hi"})
	if e.Timestamp().Location() != time.UTC {
		t.Fatalf("expected UTC timestamp")
	}
	if e.Timestamp().Nanosecond() != 123000000 {
		t.Fatalf("expected millisecond truncation, got %d ns", e.Timestamp().Nanosecond())
	}
}
