package analysis

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agtrace/agtrace/pkg/event"
	"github.com/agtrace/agtrace/pkg/session"
)

func TestCleanSnippetStripsNoiseTags(t *testing.T) {
	in := "before <environment_context>lots of junk here</environment_context> after"
	got := cleanSnippet(in)
	if strings.Contains(got, "junk") {
		t.Errorf("expected noise tag contents stripped, got %q", got)
	}
	if !strings.Contains(got, "[..meta..]") {
		t.Errorf("expected meta placeholder in %q", got)
	}
	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Errorf("expected surrounding text preserved, got %q", got)
	}
}

func TestCleanSnippetCollapsesWhitespace(t *testing.T) {
	got := cleanSnippet("a   b\n\nc\t\td")
	if got != "a b c d" {
		t.Errorf("got %q, want %q", got, "a b c d")
	}
}

func TestFindActivationRequiresMinimumToolCount(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{
				ID: event.NewID(), Timestamp: base,
				User: event.User{Text: "do the thing"},
				Steps: []session.Step{
					{ID: event.NewID(), Timestamp: base, Tools: []session.ToolExchange{
						{Call: event.New(traceID, base, event.ToolCall{Name: "bash", Arguments: json.RawMessage(`{}`)})},
						{Call: event.New(traceID, base, event.ToolCall{Name: "bash", Arguments: json.RawMessage(`{}`)})},
					}},
				},
			},
		},
	}

	if got := findActivation(sess); got != "" {
		t.Errorf("expected no activation below the tool-count floor, got %q", got)
	}
}

func TestFindActivationPicksBusiestTurn(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	manyTools := func() []session.ToolExchange {
		var tools []session.ToolExchange
		for i := 0; i < 3; i++ {
			tools = append(tools, session.ToolExchange{
				Call: event.New(traceID, base, event.ToolCall{Name: "bash", Arguments: json.RawMessage(`{}`)}),
			})
		}
		return tools
	}

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{
				ID: event.NewID(), Timestamp: base,
				User:  event.User{Text: "quiet turn"},
				Steps: []session.Step{{ID: event.NewID(), Timestamp: base}},
			},
			{
				ID: event.NewID(), Timestamp: base.Add(time.Minute),
				User:  event.User{Text: "the busy one"},
				Steps: []session.Step{{ID: event.NewID(), Timestamp: base.Add(time.Minute), Tools: manyTools()}},
			},
		},
	}

	got := findActivation(sess)
	if !strings.Contains(got, "busy") {
		t.Errorf("expected activation text from the busiest turn, got %q", got)
	}
}

func TestTruncateRunesLeavesShortStringAlone(t *testing.T) {
	if got := truncateRunes("short", 100); got != "short" {
		t.Errorf("got %q, want unchanged %q", got, "short")
	}
}

func TestTruncateRunesAddsSentinel(t *testing.T) {
	got := truncateRunes(strings.Repeat("a", 200), 10)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
	if len([]rune(got)) != 13 {
		t.Errorf("expected 10 runes + 3-rune sentinel, got %d runes", len([]rune(got)))
	}
}

func TestNewDigestPopulatesOpeningAndMetrics(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{ID: event.NewID(), Timestamp: base, User: event.User{Text: "hello there"}},
		},
	}

	d := NewDigest("sess-1", "claude", sess, 5)
	if d.Opening != "hello there" {
		t.Errorf("Opening = %q, want %q", d.Opening, "hello there")
	}
	if d.SessionID != "sess-1" || d.Provider != "claude" {
		t.Errorf("unexpected identity fields: %+v", d)
	}
	if d.RecencyBoost != 5 {
		t.Errorf("RecencyBoost = %d, want 5", d.RecencyBoost)
	}
}
