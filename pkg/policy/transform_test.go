package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/agtrace/agtrace/pkg/event"
)

func mkEvent(trace event.ID, ts time.Time, p event.Payload) event.Event {
	return event.New(trace, ts, p)
}

func TestRawReturnsEventsUnchanged(t *testing.T) {
	trace := event.NewID()
	events := []event.Event{mkEvent(trace, time.Now(), event.User{Text: "hi"})}
	out := Apply(Raw, events)
	if len(out) != 1 || out[0].Payload().(event.User).Text != "hi" {
		t.Fatalf("Raw must return events unchanged, got %+v", out)
	}
}

func TestCleanDropsEventsAfterFailingToolResultUntilSuccess(t *testing.T) {
	trace := event.NewID()
	base := time.Now()
	events := []event.Event{
		mkEvent(trace, base, event.ToolCall{Name: "run_tests"}),
		mkEvent(trace, base.Add(time.Second), event.ToolResult{IsError: true, Output: "boom"}),
		mkEvent(trace, base.Add(2*time.Second), event.Message{Text: "retrying"}),
		mkEvent(trace, base.Add(3*time.Second), event.ToolResult{IsError: false, Output: "ok"}),
		mkEvent(trace, base.Add(4*time.Second), event.Message{Text: "done"}),
	}

	cleaned := Apply(Clean, events)

	var texts []string
	for _, e := range cleaned {
		if m, ok := e.Payload().(event.Message); ok {
			texts = append(texts, m.Text)
		}
	}
	if len(texts) != 1 || texts[0] != "done" {
		t.Fatalf("expected only the post-recovery message to survive, got %v", texts)
	}
}

func TestCleanDropsSelfBlamingMessages(t *testing.T) {
	trace := event.NewID()
	events := []event.Event{
		mkEvent(trace, time.Now(), event.Message{Text: "I apologize for the confusion."}),
		mkEvent(trace, time.Now().Add(time.Second), event.Message{Text: "That was my mistake."}),
		mkEvent(trace, time.Now().Add(2*time.Second), event.Message{Text: "Sorry about that!"}),
		mkEvent(trace, time.Now().Add(3*time.Second), event.Message{Text: "Tests are now passing."}),
	}

	cleaned := Apply(Clean, events)
	if len(cleaned) != 1 {
		t.Fatalf("expected self-blame messages dropped, kept %d events", len(cleaned))
	}
	if cleaned[0].Payload().(event.Message).Text != "Tests are now passing." {
		t.Errorf("unexpected surviving message: %+v", cleaned[0].Payload())
	}
}

func TestCleanTruncatesLongText(t *testing.T) {
	trace := event.NewID()
	long := strings.Repeat("a", maxTextLength+1)
	events := []event.Event{mkEvent(trace, time.Now(), event.Message{Text: long})}

	cleaned := Apply(Clean, events)
	require := cleaned[0].Payload().(event.Message).Text
	if !strings.HasSuffix(require, truncationSentinel) {
		t.Errorf("expected truncation sentinel, got suffix %q", require[len(require)-20:])
	}
	if len([]rune(require)) != truncatedHeadChars+len([]rune(truncationSentinel)) {
		t.Errorf("unexpected truncated length %d", len([]rune(require)))
	}
}

func TestCleanLeavesShortTextAlone(t *testing.T) {
	trace := event.NewID()
	events := []event.Event{mkEvent(trace, time.Now(), event.Message{Text: "short"})}
	cleaned := Apply(Clean, events)
	if cleaned[0].Payload().(event.Message).Text != "short" {
		t.Errorf("short text must survive unmodified")
	}
}

func TestReasoningKeepsReasoningAndFollowingToolCall(t *testing.T) {
	trace := event.NewID()
	base := time.Now()
	events := []event.Event{
		mkEvent(trace, base, event.User{Text: "do the thing"}),
		mkEvent(trace, base.Add(time.Second), event.Reasoning{Text: "I should check the file first"}),
		mkEvent(trace, base.Add(2*time.Second), event.ToolCall{Name: "read_file"}),
		mkEvent(trace, base.Add(3*time.Second), event.ToolResult{Output: "contents"}),
		mkEvent(trace, base.Add(4*time.Second), event.Reasoning{Text: "now I will respond"}),
		mkEvent(trace, base.Add(5*time.Second), event.Message{Text: "done"}),
	}

	out := Apply(Reasoning, events)
	if len(out) != 3 {
		t.Fatalf("expected 2 reasoning events + 1 following tool call, got %d", len(out))
	}
	if _, ok := out[0].Payload().(event.Reasoning); !ok {
		t.Errorf("out[0] should be Reasoning, got %T", out[0].Payload())
	}
	if _, ok := out[1].Payload().(event.ToolCall); !ok {
		t.Errorf("out[1] should be the ToolCall following the first Reasoning, got %T", out[1].Payload())
	}
	if _, ok := out[2].Payload().(event.Reasoning); !ok {
		t.Errorf("out[2] should be the second Reasoning (with no following tool call kept), got %T", out[2].Payload())
	}
}

func TestParseStrategyRoundTrips(t *testing.T) {
	for _, s := range []Strategy{Raw, Clean, Reasoning} {
		parsed, ok := ParseStrategy(s.String())
		if !ok || parsed != s {
			t.Errorf("ParseStrategy(%q) = (%v, %v), want (%v, true)", s.String(), parsed, ok, s)
		}
	}
	if _, ok := ParseStrategy("bogus"); ok {
		t.Error("expected ParseStrategy to reject an unknown strategy name")
	}
}
