package claude

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

// Provider implements provider.Provider for Claude Code's JSONL format.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (*Provider) Name() string { return "claude" }

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
		var raw rawRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return provider.ProbeResult{Match: false}, nil
		}
		switch raw.Type {
		case "user", "assistant", "file-history-snapshot":
			return provider.ProbeResult{Match: true, Confidence: 0.9}, nil
		default:
			return provider.ProbeResult{Match: false}, nil
		}
	}
	return provider.ProbeResult{Match: false}, nil
}

// header mirrors agtrace-providers/src/claude/io.rs's extract_claude_header:
// a single ≤200-line walk that recovers session id, cwd, first timestamp,
// the preview snippet (skipping sidechain/meta/meta-descendant messages),
// and whether the file opens as a sidechain transcript.
type header struct {
	SessionID   string
	Cwd         string
	Timestamp   string
	Snippet     string
	IsSidechain bool
}

func extractHeader(path string) (header, error) {
	f, err := os.Open(path)
	if err != nil {
		return header{}, err
	}
	defer f.Close()

	var h header
	metaUUIDs := map[string]struct{}{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lines := 0
	for scanner.Scan() && lines < 200 {
		lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		switch raw.Type {
		case "file-history-snapshot":
			metaUUIDs = map[string]struct{}{}
		case "user":
			var rec userRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				continue
			}
			if h.SessionID == "" {
				h.SessionID = rec.SessionID
			}
			if h.Cwd == "" && rec.Cwd != nil {
				h.Cwd = *rec.Cwd
			}
			if h.Timestamp == "" {
				h.Timestamp = rec.Timestamp
			}
			if rec.IsMeta {
				metaUUIDs[rec.UUID] = struct{}{}
			}
			parentIsMeta := false
			if rec.ParentUUID != nil {
				_, parentIsMeta = metaUUIDs[*rec.ParentUUID]
			}
			if parentIsMeta {
				metaUUIDs[rec.UUID] = struct{}{}
			}
			if h.Snippet == "" && !rec.IsSidechain && !rec.IsMeta && !parentIsMeta {
				if blocks, err := decodeUserContent(rec.Message.Content); err == nil {
					for _, b := range blocks {
						if b.Type == "text" && b.Text != "" {
							h.Snippet = b.Text
							break
						}
					}
				}
			}
			h.IsSidechain = rec.IsSidechain
		case "assistant":
			var rec assistantRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				continue
			}
			if h.SessionID == "" {
				h.SessionID = rec.SessionID
			}
			if h.Cwd == "" && rec.Cwd != nil {
				h.Cwd = *rec.Cwd
			}
			if h.Timestamp == "" {
				h.Timestamp = rec.Timestamp
			}
		}
		if h.SessionID != "" && h.Cwd != "" && h.Timestamp != "" && h.Snippet != "" {
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
		if h.IsSidechain {
			return true, provider.RoleSidechain, nil
		}
		return true, provider.RoleMain, nil
	})
}

// Parse normalizes one Claude JSONL file into canonical events. Every
// content block within a record's message.content array becomes its own
// event, chained by ParentID in array order; the record's own parent_uuid
// supplies the parent of the first block.
func (p *Provider) Parse(path string) (provider.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return provider.ParseResult{}, err
	}
	defer f.Close()

	var result provider.ParseResult
	lastEventByUUID := map[string]event.ID{}
	var traceID event.ID
	traceSet := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
				Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: err.Error(),
			})
			continue
		}

		switch raw.Type {
		case "file-history-snapshot":
			continue // vendor metadata only, no canonical event
		case "user":
			var rec userRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
					Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: err.Error(),
				})
				continue
			}
			if !traceSet {
				traceID = event.DeriveTraceID(rec.SessionID)
				traceSet = true
			}
			ts, _ := time.Parse(time.RFC3339Nano, rec.Timestamp)
			stream := event.StreamMain
			if rec.IsSidechain {
				stream = event.StreamSidechain
			}
			parent := parentFor(rec.ParentUUID, lastEventByUUID)

			blocks, err := decodeUserContent(rec.Message.Content)
			if err != nil {
				result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
					Category: provider.DiagTypeMismatch, Path: path, Line: lineNo, Field: "message.content",
				})
				continue
			}
			last := emitUserBlocks(&result, traceID, ts, stream, parent, blocks)
			if !last.IsZero() {
				lastEventByUUID[rec.UUID] = last
			}
		case "assistant":
			var rec assistantRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
					Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: err.Error(),
				})
				continue
			}
			if !traceSet {
				traceID = event.DeriveTraceID(rec.SessionID)
				traceSet = true
			}
			ts, _ := time.Parse(time.RFC3339Nano, rec.Timestamp)
			stream := event.StreamMain
			if rec.IsSidechain {
				stream = event.StreamSidechain
			}
			parent := parentFor(rec.ParentUUID, lastEventByUUID)
			last := emitAssistantBlocks(&result, traceID, ts, stream, parent, rec.Message)
			if !last.IsZero() {
				lastEventByUUID[rec.UUID] = last
			}
		default:
			result.Diagnostics = append(result.Diagnostics, provider.Diagnostic{
				Category: provider.DiagMalformedRecord, Path: path, Line: lineNo, Detail: "unknown record type " + raw.Type,
			})
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func parentFor(parentUUID *string, byUUID map[string]event.ID) *event.ID {
	if parentUUID == nil {
		return nil
	}
	if id, ok := byUUID[*parentUUID]; ok {
		return &id
	}
	return nil
}

func emitUserBlocks(result *provider.ParseResult, traceID event.ID, ts time.Time, stream event.StreamID, parent *event.ID, blocks []userContent) event.ID {
	var last event.ID
	for _, b := range blocks {
		var opts []event.Option
		opts = append(opts, event.WithStream(stream))
		if parent != nil {
			opts = append(opts, event.WithParent(*parent))
		}
		var ev event.Event
		switch b.Type {
		case "text":
			if b.Text == "" {
				continue
			}
			ev = event.New(traceID, ts, event.User{Text: b.Text}, opts...)
		case "tool_result":
			var output string
			_ = json.Unmarshal(b.Content, &output)
			if output == "" {
				output = string(b.Content)
			}
			ev = event.New(traceID, ts, event.ToolResult{Output: output, ProviderCallID: b.ToolUseID}, opts...)
		default:
			continue
		}
		result.Events = append(result.Events, ev)
		id := ev.ID()
		parent = &id
		last = id
	}
	return last
}

func emitAssistantBlocks(result *provider.ParseResult, traceID event.ID, ts time.Time, stream event.StreamID, parent *event.ID, msg assistantMessage) event.ID {
	var last event.ID
	for _, b := range msg.Content {
		var opts []event.Option
		opts = append(opts, event.WithStream(stream))
		if parent != nil {
			opts = append(opts, event.WithParent(*parent))
		}
		var ev event.Event
		switch b.Type {
		case "text":
			if b.Text == "" {
				continue
			}
			ev = event.New(traceID, ts, event.Message{Text: b.Text}, opts...)
		case "thinking":
			if b.Thinking == "" {
				continue
			}
			ev = event.New(traceID, ts, event.Reasoning{Text: b.Thinking}, opts...)
		case "tool_use":
			ev = event.New(traceID, ts, event.ToolCall{
				Name:           b.Name,
				Arguments:      b.Input,
				ProviderCallID: b.ID,
			}, opts...)
		case "tool_result":
			ev = event.New(traceID, ts, event.ToolResult{
				Output:         b.Content,
				ProviderCallID: b.ToolUseID,
				IsError:        b.IsError,
			}, opts...)
		default:
			continue
		}
		result.Events = append(result.Events, ev)
		id := ev.ID()
		parent = &id
		last = id
	}
	if msg.Usage != nil {
		details := &event.UsageDetails{Cumulative: false, Model: msg.Model}
		if msg.Usage.CacheCreationInputTokens != nil {
			details.CacheCreationTokens = *msg.Usage.CacheCreationInputTokens
		}
		if msg.Usage.CacheReadInputTokens != nil {
			details.CacheReadTokens = *msg.Usage.CacheReadInputTokens
		}
		var opts []event.Option
		opts = append(opts, event.WithStream(stream))
		if parent != nil {
			opts = append(opts, event.WithParent(*parent))
		}
		ev := event.New(traceID, ts, event.TokenUsage{
			Input:   msg.Usage.InputTokens,
			Output:  msg.Usage.OutputTokens,
			Total:   msg.Usage.InputTokens + msg.Usage.OutputTokens,
			Details: details,
		}, opts...)
		result.Events = append(result.Events, ev)
		last = ev.ID()
	}
	return last
}
