// Package claude normalizes Claude Code's JSONL transcript format into
// the canonical event algebra. One on-disk record maps to zero or more
// canonical events because assistant messages pack an ordered content
// block array (text/thinking/tool_use/tool_result) into a single line.
package claude

import "encoding/json"

// rawRecord captures just enough to dispatch on the type tag before
// fully decoding into one of the typed record structs below.
type rawRecord struct {
	Type string `json:"type"`
}

type fileHistorySnapshotRecord struct {
	MessageID         string          `json:"messageId"`
	Snapshot          json.RawMessage `json:"snapshot"`
	IsSnapshotUpdate  bool            `json:"isSnapshotUpdate"`
}

type userRecord struct {
	UUID             string          `json:"uuid"`
	ParentUUID       *string         `json:"parentUuid"`
	SessionID        string          `json:"sessionId"`
	Timestamp        string          `json:"timestamp"`
	Message          userMessage     `json:"message"`
	IsSidechain      bool            `json:"isSidechain"`
	IsMeta           bool            `json:"isMeta"`
	Cwd              *string         `json:"cwd"`
	GitBranch        *string         `json:"gitBranch"`
	UserType         *string         `json:"userType"`
	Version          *string         `json:"version"`
}

type userMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []userContent
}

type userContent struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	ToolUseID  string          `json:"tool_use_id"`
	Content    json.RawMessage `json:"content"`
}

// decodeUserContent normalizes the string-or-array content field per the
// teacher schema's custom deserializer: a bare string is a single text
// block.
func decodeUserContent(raw json.RawMessage) ([]userContent, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []userContent{{Type: "text", Text: s}}, nil
	}
	var blocks []userContent
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

type assistantRecord struct {
	UUID       string          `json:"uuid"`
	ParentUUID *string         `json:"parentUuid"`
	SessionID  string          `json:"sessionId"`
	Timestamp  string          `json:"timestamp"`
	Message    assistantMessage `json:"message"`
	IsSidechain bool           `json:"isSidechain"`
	Cwd        *string         `json:"cwd"`
	GitBranch  *string         `json:"gitBranch"`
	RequestID  *string         `json:"requestId"`
}

type assistantMessage struct {
	ID         string              `json:"id"`
	Role       string              `json:"role"`
	Model      string              `json:"model"`
	Content    []assistantContent  `json:"content"`
	StopReason *string             `json:"stop_reason"`
	Usage      *assistantTokenUsage `json:"usage"`
}

type assistantContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   string          `json:"content"`
	IsError   bool            `json:"is_error"`
}

type assistantTokenUsage struct {
	InputTokens              int  `json:"input_tokens"`
	OutputTokens             int  `json:"output_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens"`
}
