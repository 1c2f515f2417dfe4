package policy

import (
	"strings"
	"unicode/utf8"

	"github.com/agtrace/agtrace/pkg/event"
)

const (
	maxTextLength      = 5000
	truncatedHeadChars = 1000
	truncationSentinel = "...<truncated>"
)

// selfBlameLiterals are the phrases that mark a Message as noise for
// training exports, ported verbatim from the clean-strategy rule.
var selfBlameLiterals = []string{
	"i apologize",
	"my mistake",
	"sorry",
}

// Apply runs the named strategy over events without mutating the input
// slice — every transform builds a fresh result.
func Apply(strategy Strategy, events []event.Event) []event.Event {
	switch strategy {
	case Clean:
		return applyClean(events)
	case Reasoning:
		return applyReasoning(events)
	default:
		out := make([]event.Event, len(events))
		copy(out, events)
		return out
	}
}

// applyClean drops everything downstream of a failing ToolResult until
// the next successful one, drops self-blaming Message events outright,
// and truncates any surviving long text.
func applyClean(events []event.Event) []event.Event {
	var cleaned []event.Event
	skipUntilNextSuccess := false

	for _, e := range events {
		switch p := e.Payload().(type) {
		case event.ToolResult:
			if p.IsError {
				skipUntilNextSuccess = true
				continue
			}
			skipUntilNextSuccess = false
		case event.Message:
			if containsSelfBlame(p.Text) {
				continue
			}
		}

		if skipUntilNextSuccess {
			continue
		}
		cleaned = append(cleaned, truncateLongText(e))
	}

	return cleaned
}

func containsSelfBlame(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range selfBlameLiterals {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func truncateLongText(e event.Event) event.Event {
	switch p := e.Payload().(type) {
	case event.Message:
		if utf8.RuneCountInString(p.Text) > maxTextLength {
			return e.WithPayload(event.Message{Text: truncate(p.Text)})
		}
	case event.Reasoning:
		if utf8.RuneCountInString(p.Text) > maxTextLength {
			return e.WithPayload(event.Reasoning{Text: truncate(p.Text)})
		}
	}
	return e
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= truncatedHeadChars {
		return text
	}
	return string(runes[:truncatedHeadChars]) + truncationSentinel
}

// applyReasoning keeps only Reasoning events and whatever ToolCall
// immediately follows one in the original sequence.
func applyReasoning(events []event.Event) []event.Event {
	var kept []event.Event
	for i, e := range events {
		if _, ok := e.Payload().(event.Reasoning); !ok {
			continue
		}
		kept = append(kept, e)
		if i+1 < len(events) {
			if _, ok := events[i+1].Payload().(event.ToolCall); ok {
				kept = append(kept, events[i+1])
			}
		}
	}
	return kept
}
