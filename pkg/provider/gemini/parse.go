package gemini

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/agtrace/agtrace/pkg/event"
	"github.com/agtrace/agtrace/pkg/provider"
)

type Provider struct{}

func New() *Provider { return &Provider{} }

func (*Provider) Name() string { return "gemini" }

func firstNonSpaceByte(data []byte) byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func (p *Provider) Probe(path string) (provider.ProbeResult, error) {
	if !strings.HasSuffix(path, ".json") {
		return provider.ProbeResult{Match: false}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return provider.ProbeResult{}, err
	}
	switch firstNonSpaceByte(data) {
	case '{':
		var doc sessionDocument
		if json.Unmarshal(data, &doc) == nil && doc.SessionID != "" {
			return provider.ProbeResult{Match: true, Confidence: 0.95}, nil
		}
		return provider.ProbeResult{Match: false}, nil
	case '[':
		var legacy []legacyMessage
		if json.Unmarshal(data, &legacy) == nil {
			return provider.ProbeResult{Match: true, Confidence: 0.6}, nil
		}
		return provider.ProbeResult{Match: false}, nil
	default:
		return provider.ProbeResult{Match: false}, nil
	}
}

type header struct {
	SessionID   string
	ProjectHash string
	HasProject  bool
	Snippet     string
}

func extractHeader(path string) (header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return header{}, err
	}
	var h header
	switch firstNonSpaceByte(data) {
	case '{':
		var doc sessionDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return header{}, err
		}
		h.SessionID = doc.SessionID
		h.ProjectHash = doc.ProjectHash
		h.HasProject = doc.ProjectHash != ""
		for _, m := range doc.Messages {
			if m.Type != "user" {
				continue
			}
			var um userMessage
			if json.Unmarshal(m.Raw, &um) == nil && um.Content != "" {
				h.Snippet = um.Content
				break
			}
		}
	case '[':
		var legacy []legacyMessage
		if err := json.Unmarshal(data, &legacy); err != nil {
			return header{}, err
		}
		if len(legacy) > 0 {
			h.SessionID = legacy[0].SessionID
		}
		for _, m := range legacy {
			if !h.HasProject && m.ProjectHash != "" {
				h.ProjectHash = m.ProjectHash
				h.HasProject = true
			}
			if m.MessageType == "user" && m.Message != "" {
				h.Snippet = m.Message
				break
			}
		}
	}
	return h, nil
}

func (p *Provider) ExtractSessionID(path string) (string, error) {
	h, err := extractHeader(path)
	if err != nil {
		return "", err
	}
	return h.SessionID, nil
}

// ExtractProjectHash returns the embedded projectHash bit-exact, for both
// the session-object format and legacy flat records that happen to carry
// one. Older legacy captures predate the field; callers fall back to
// hashing the log path when ok is false.
func (p *Provider) ExtractProjectHash(path string) (string, bool) {
	h, err := extractHeader(path)
	if err != nil || !h.HasProject {
		return "", false
	}
	return h.ProjectHash, true
}

func (p *Provider) ExtractSnippet(path string) (string, error) {
	h, err := extractHeader(path)
	if err != nil {
		return "", err
	}
	return h.Snippet, nil
}

func (p *Provider) FindSessionFiles(root, sessionID string) ([]provider.SessionFile, error) {
	return provider.WalkMatchingSessionFiles(root, ".json", func(path string) (bool, provider.FileRole, error) {
		h, err := extractHeader(path)
		if err != nil || h.SessionID != sessionID {
			return false, 0, err
		}
		return true, provider.RoleMain, nil
	})
}

func (p *Provider) Parse(path string) (provider.ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return provider.ParseResult{}, err
	}

	var result provider.ParseResult
	switch firstNonSpaceByte(data) {
	case '{':
		var doc sessionDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return result, err
		}
		traceID := event.DeriveTraceID(doc.SessionID)
		var lastID *event.ID
		for i, m := range doc.Messages {
			switch m.Type {
			case "user":
				var um userMessage
				if err := json.Unmarshal(m.Raw, &um); err != nil {
					result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
						Category: provider.DiagMalformedRecord, Path: path, Line: i + 1, Detail: err.Error(),
					})
					continue
				}
				lastID = emitGeminiUser(&result, traceID, um, lastID)
			case "gemini":
				var am assistantMessage
				if err := json.Unmarshal(m.Raw, &am); err != nil {
					result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
						Category: provider.DiagMalformedRecord, Path: path, Line: i + 1, Detail: err.Error(),
					})
					continue
				}
				lastID = emitGeminiAssistant(&result, traceID, am, lastID)
			case "info":
				var im infoMessage
				if err := json.Unmarshal(m.Raw, &im); err != nil {
					continue
				}
				lastID = emitGeminiInfo(&result, traceID, im, lastID)
			}
		}
	case '[':
		var legacy []legacyMessage
		if err := json.Unmarshal(data, &legacy); err != nil {
			return result, err
		}
		if len(legacy) == 0 {
			return result, nil
		}
		traceID := event.DeriveTraceID(legacy[0].SessionID)
		var lastID *event.ID
		for _, m := range legacy {
			ts, _ := time.Parse(time.RFC3339Nano, m.Timestamp)
			var opts []event.Option
			if lastID != nil {
				opts = append(opts, event.WithParent(*lastID))
			}
			var ev event.Event
			switch m.MessageType {
			case "user":
				ev = event.New(traceID, ts, event.User{Text: m.Message}, opts...)
			case "gemini":
				ev = event.New(traceID, ts, event.Message{Text: m.Message}, opts...)
			case "info":
				ev = event.New(traceID, ts, event.Notification{Text: m.Message, Level: event.LevelInfo}, opts...)
			default:
				continue
			}
			result.Events = append(result.Events, ev)
			id := ev.ID()
			lastID = &id
		}
	}
	return result, nil
}

func emitGeminiUser(result *provider.ParseResult, traceID event.ID, um userMessage, parent *event.ID) *event.ID {
	ts, _ := time.Parse(time.RFC3339Nano, um.Timestamp)
	var opts []event.Option
	if parent != nil {
		opts = append(opts, event.WithParent(*parent))
	}
	ev := event.New(traceID, ts, event.User{Text: um.Content}, opts...)
	result.Events = append(result.Events, ev)
	id := ev.ID()
	return &id
}

func emitGeminiInfo(result *provider.ParseResult, traceID event.ID, im infoMessage, parent *event.ID) *event.ID {
	ts, _ := time.Parse(time.RFC3339Nano, im.Timestamp)
	var opts []event.Option
	if parent != nil {
		opts = append(opts, event.WithParent(*parent))
	}
	ev := event.New(traceID, ts, event.Notification{Text: im.Content, Level: event.LevelInfo}, opts...)
	result.Events = append(result.Events, ev)
	id := ev.ID()
	return &id
}

// emitGeminiAssistant expands one "gemini" message in the order specified
// for the session-object format: thoughts, then tool calls interleaved
// with their results, then content, then the trailing token usage.
func emitGeminiAssistant(result *provider.ParseResult, traceID event.ID, am assistantMessage, parent *event.ID) *event.ID {
	ts, _ := time.Parse(time.RFC3339Nano, am.Timestamp)
	last := parent

	chain := func(payload event.Payload) {
		var opts []event.Option
		opts = append(opts, event.WithStream(event.StreamMain))
		if last != nil {
			opts = append(opts, event.WithParent(*last))
		}
		ev := event.New(traceID, ts, payload, opts...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		last = &id
	}

	for _, th := range am.Thoughts {
		text := th.Subject
		if th.Description != "" {
			if text != "" {
				text += ": "
			}
			text += th.Description
		}
		if text == "" {
			continue
		}
		chain(event.Reasoning{Text: text})
	}

	for _, tc := range am.ToolCalls {
		chain(event.ToolCall{Name: tc.Name, Arguments: tc.Args, ProviderCallID: tc.ID})
		for _, r := range tc.Result {
			output := string(r.FunctionResponse.Response)
			chain(event.ToolResult{Output: output, ProviderCallID: tc.ID, Name: r.FunctionResponse.Name})
		}
	}

	if am.Content != "" {
		chain(event.Message{Text: am.Content})
	}

	chain(event.TokenUsage{
		Input:  am.Tokens.Input,
		Output: am.Tokens.Output,
		Total:  am.Tokens.Total,
		Details: &event.UsageDetails{
			CacheReadTokens: am.Tokens.Cached,
			ReasoningTokens: am.Tokens.Thoughts,
			Model:           am.Model,
		},
	})

	return last
}
