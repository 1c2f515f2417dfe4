package codex

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/agtrace/agtrace/internal/pathhash"
	"github.com/agtrace/agtrace/pkg/event"
	"github.com/agtrace/agtrace/pkg/provider"
)

type Provider struct{}

func New() *Provider { return &Provider{} }

func (*Provider) Name() string { return "codex" }

func (p *Provider) Probe(path string) (provider.ProbeResult, error) {
	if !strings.HasSuffix(path, ".jsonl") {
		return provider.ProbeResult{Match: false}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return provider.ProbeResult{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return provider.ProbeResult{Match: false}, nil
		}
		switch env.Type {
		case "session_meta", "response_item", "event_msg", "turn_context":
			return provider.ProbeResult{Match: true, Confidence: 0.9}, nil
		default:
			return provider.ProbeResult{Match: false}, nil
		}
	}
	return provider.ProbeResult{Match: false}, nil
}

type header struct {
	SessionID string
	Cwd       string
	Snippet   string
}

func extractHeader(path string) (header, error) {
	f, err := os.Open(path)
	if err != nil {
		return header{}, err
	}
	defer f.Close()

	var h header
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lines := 0
	for scanner.Scan() && lines < 200 {
		lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			continue
		}
		switch env.Type {
		case "session_meta":
			var meta sessionMetaPayload
			if err := json.Unmarshal(env.Payload, &meta); err != nil {
				continue
			}
			h.SessionID = meta.ID
			h.Cwd = meta.Cwd
		case "event_msg":
			if h.Snippet != "" {
				continue
			}
			var msgEnv eventMsgEnvelope
			if err := json.Unmarshal(env.Payload, &msgEnv); err != nil {
				continue
			}
			if msgEnv.Type != "user_message" {
				continue
			}
			var um userMessagePayload
			if err := json.Unmarshal(env.Payload, &um); err == nil && um.Message != "" {
				h.Snippet = um.Message
			}
		}
		if h.SessionID != "" && h.Cwd != "" && h.Snippet != "" {
			break
		}
	}
	return h, scanner.Err()
}

func (p *Provider) ExtractSessionID(path string) (string, error) {
	h, err := extractHeader(path)
	if err != nil {
		return "", err
	}
	return h.SessionID, nil
}

func (p *Provider) ExtractProjectHash(path string) (string, bool) {
	h, err := extractHeader(path)
	if err != nil || h.Cwd == "" {
		return "", false
	}
	return pathhash.FromProjectRoot(h.Cwd), true
}

func (p *Provider) ExtractSnippet(path string) (string, error) {
	h, err := extractHeader(path)
	if err != nil {
		return "", err
	}
	return h.Snippet, nil
}

func (p *Provider) FindSessionFiles(root, sessionID string) ([]provider.SessionFile, error) {
	return provider.WalkMatchingSessionFiles(root, ".jsonl", func(path string) (bool, provider.FileRole, error) {
		h, err := extractHeader(path)
		if err != nil || h.SessionID != sessionID {
			return false, 0, err
		}
		return true, provider.RoleMain, nil
	})
}

// applyPatchHeader pulls the operation/path out of an apply_patch custom
// tool call's first header line ("*** Add File: foo.go" / "*** Update
// File: foo.go"), keeping the full patch body intact.
func applyPatchHeader(input string) (operation, path string, ok bool) {
	firstLine, _, _ := strings.Cut(input, "\n")
	firstLine = strings.TrimSpace(firstLine)
	switch {
	case strings.HasPrefix(firstLine, "*** Add File:"):
		return "add", strings.TrimSpace(strings.TrimPrefix(firstLine, "*** Add File:")), true
	case strings.HasPrefix(firstLine, "*** Update File:"):
		return "update", strings.TrimSpace(strings.TrimPrefix(firstLine, "*** Update File:")), true
	case strings.HasPrefix(firstLine, "*** Delete File:"):
		return "delete", strings.TrimSpace(strings.TrimPrefix(firstLine, "*** Delete File:")), true
	default:
		return "", "", false
	}
}

func (p *Provider) Parse(path string) (provider.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return provider.ParseResult{}, err
	}
	defer f.Close()

	var result provider.ParseResult
	var traceID event.ID
	traceSet := false
	var lastID *event.ID
	currentModel := ""

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
				Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: err.Error(),
			})
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, env.Timestamp)

		switch env.Type {
		case "session_meta":
			var meta sessionMetaPayload
			if err := json.Unmarshal(env.Payload, &meta); err != nil {
				result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
					Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: err.Error(),
				})
				continue
			}
			if !traceSet {
				traceID = event.DeriveTraceID(meta.ID)
				traceSet = true
			}
		case "turn_context":
			var turn turnContextPayload
			if err := json.Unmarshal(env.Payload, &turn); err == nil {
				currentModel = turn.Model
			}
		case "response_item":
			lastID = parseResponseItem(&result, traceID, ts, lastID, env.Payload, path, lineNo)
		case "event_msg":
			lastID = parseEventMsg(&result, traceID, ts, lastID, env.Payload, currentModel, path, lineNo)
		default:
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func parseResponseItem(result *provider.ParseResult, traceID event.ID, ts time.Time, parent *event.ID, raw json.RawMessage, path string, lineNo int) *event.ID {
	var tagged responseItemEnvelope
	if err := json.Unmarshal(raw, &tagged); err != nil {
		result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
			Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: err.Error(),
		})
		return parent
	}

	opts := func() []event.Option {
		if parent != nil {
			return []event.Option{event.WithParent(*parent)}
		}
		return nil
	}

	switch tagged.Type {
	case "message":
		var m messagePayload
		if err := json.Unmarshal(raw, &m); err != nil {
			return parent
		}
		var last *event.ID
		for _, block := range m.Content {
			if block.Text == "" {
				continue
			}
			var ev event.Event
			switch {
			case m.Role == "user" && block.Type == "input_text":
				ev = event.New(traceID, ts, event.User{Text: block.Text}, opts()...)
			case m.Role == "assistant" && block.Type == "output_text":
				ev = event.New(traceID, ts, event.Message{Text: block.Text}, opts()...)
			default:
				continue
			}
			result.Events = append(result.Events, ev)
			id := ev.ID()
			last = &id
			opts = func() []event.Option { return []event.Option{event.WithParent(id)} }
		}
		if last != nil {
			return last
		}
		return parent
	case "reasoning":
		var r reasoningPayload
		if err := json.Unmarshal(raw, &r); err != nil {
			return parent
		}
		text := ""
		for _, s := range r.Summary {
			if s.Text != "" {
				text = s.Text
				break
			}
		}
		if text == "" && r.Content != nil {
			text = *r.Content
		}
		if text == "" {
			return parent
		}
		ev := event.New(traceID, ts, event.Reasoning{Text: text}, opts()...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "function_call":
		var fc functionCallPayload
		if err := json.Unmarshal(raw, &fc); err != nil {
			return parent
		}
		args := json.RawMessage(fc.Arguments)
		if !json.Valid(args) {
			args, _ = json.Marshal(fc.Arguments)
		}
		ev := event.New(traceID, ts, event.ToolCall{Name: fc.Name, Arguments: args, ProviderCallID: fc.CallID}, opts()...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "function_call_output":
		var fo functionCallOutputPayload
		if err := json.Unmarshal(raw, &fo); err != nil {
			return parent
		}
		ev := event.New(traceID, ts, event.ToolResult{Output: fo.Output, ProviderCallID: fo.CallID}, opts()...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "custom_tool_call":
		var ct customToolCallPayload
		if err := json.Unmarshal(raw, &ct); err != nil {
			return parent
		}
		argsMap := map[string]any{"patch": ct.Input}
		if ct.Name == "apply_patch" {
			if op, filePath, ok := applyPatchHeader(ct.Input); ok {
				argsMap["operation"] = op
				argsMap["path"] = filePath
			}
		}
		args, _ := json.Marshal(argsMap)
		ev := event.New(traceID, ts, event.ToolCall{Name: ct.Name, Arguments: args, ProviderCallID: ct.CallID}, opts()...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "custom_tool_call_output":
		var co customToolCallOutputPayload
		if err := json.Unmarshal(raw, &co); err != nil {
			return parent
		}
		ev := event.New(traceID, ts, event.ToolResult{Output: co.Output, ProviderCallID: co.CallID}, opts()...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "ghost_snapshot":
		return parent // vendor git metadata, no canonical event
	default:
		return parent
	}
}

func parseEventMsg(result *provider.ParseResult, traceID event.ID, ts time.Time, parent *event.ID, raw json.RawMessage, currentModel string, path string, lineNo int) *event.ID {
	var tagged eventMsgEnvelope
	if err := json.Unmarshal(raw, &tagged); err != nil {
		result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
			Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: err.Error(),
		})
		return parent
	}
	var opts []event.Option
	if parent != nil {
		opts = append(opts, event.WithParent(*parent))
	}

	switch tagged.Type {
	case "user_message":
		var um userMessagePayload
		if err := json.Unmarshal(raw, &um); err != nil || um.Message == "" {
			return parent
		}
		ev := event.New(traceID, ts, event.User{Text: um.Message}, opts...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "agent_message":
		var am agentMessagePayload
		if err := json.Unmarshal(raw, &am); err != nil || am.Message == "" {
			return parent
		}
		ev := event.New(traceID, ts, event.Message{Text: am.Message}, opts...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "agent_reasoning":
		var ar agentReasoningPayload
		if err := json.Unmarshal(raw, &ar); err != nil || ar.Text == "" {
			return parent
		}
		ev := event.New(traceID, ts, event.Reasoning{Text: ar.Text}, opts...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	case "token_count":
		var tc tokenCountPayload
		if err := json.Unmarshal(raw, &tc); err != nil || tc.Info == nil {
			return parent
		}
		last := tc.Info.LastTokenUsage
		ev := event.New(traceID, ts, event.TokenUsage{
			Input:  last.InputTokens,
			Output: last.OutputTokens,
			Total:  last.TotalTokens,
			Details: &event.UsageDetails{
				CacheReadTokens:     last.CachedInputTokens,
				ReasoningTokens:     last.ReasoningOutputTokens,
				Cumulative:          false,
				ModelContextWindow:  tc.Info.ModelContextWindow,
				Model:               currentModel,
			},
		}, opts...)
		result.Events = append(result.Events, ev)
		id := ev.ID()
		return &id
	default:
		return parent
	}
}
