// Package codex normalizes Codex CLI's line-delimited session envelope
// format into the canonical event algebra.
package codex

import "encoding/json"

// envelope is the outer record shape shared by every line: an
// internally-tagged enum where "type" selects how payload decodes.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type sessionMetaPayload struct {
	ID             string   `json:"id"`
	Timestamp      string   `json:"timestamp"`
	Cwd            string   `json:"cwd"`
	Originator     string   `json:"originator"`
	CliVersion     string   `json:"cli_version"`
	Instructions   *string  `json:"instructions"`
	Source         string   `json:"source"`
	ModelProvider  string   `json:"model_provider"`
	Git            *gitInfo `json:"git"`
}

type gitInfo struct {
	CommitHash string `json:"commit_hash"`
	Branch     string `json:"branch"`
}

// responseItemEnvelope carries the tagged payload discriminator used by
// response_item lines; Payload is re-decoded per Type below.
type responseItemEnvelope struct {
	Type string `json:"type"`
}

type messagePayload struct {
	Role    string                 `json:"role"`
	Content []messageContentBlock  `json:"content"`
}

type messageContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type reasoningPayload struct {
	Summary []summaryTextBlock `json:"summary"`
	Content *string            `json:"content"`
}

type summaryTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type functionCallPayload struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`
}

type functionCallOutputPayload struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type customToolCallPayload struct {
	Status string `json:"status"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Input  string `json:"input"`
}

type customToolCallOutputPayload struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// event_msg payloads.
type eventMsgEnvelope struct {
	Type string `json:"type"`
}

type userMessagePayload struct {
	Message string `json:"message"`
}

type agentMessagePayload struct {
	Message string `json:"message"`
}

type agentReasoningPayload struct {
	Text string `json:"text"`
}

type tokenCountPayload struct {
	Info *tokenInfo `json:"info"`
}

type tokenInfo struct {
	TotalTokenUsage    tokenUsage `json:"total_token_usage"`
	LastTokenUsage     tokenUsage `json:"last_token_usage"`
	ModelContextWindow int        `json:"model_context_window"`
}

type tokenUsage struct {
	InputTokens           int `json:"input_tokens"`
	CachedInputTokens     int `json:"cached_input_tokens"`
	OutputTokens          int `json:"output_tokens"`
	ReasoningOutputTokens int `json:"reasoning_output_tokens"`
	TotalTokens           int `json:"total_tokens"`
}

type turnContextPayload struct {
	Cwd   string `json:"cwd"`
	Model string `json:"model"`
}
